package webserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/config"
	"github.com/stake-plus/tribunal/src/tribunal/types"
)

var testSecret = []byte("test-secret")

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&types.Moderator{}))
	return db
}

func newAuthRouter(t *testing.T, db *gorm.DB) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	authH := NewAuth(db, testSecret)
	r.POST("/login", authH.Login)
	r.GET("/whoami", JWTMiddleware(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"addr": callerAddr(c), "authority": isAuthority(c)})
	})
	return r
}

func seedModerator(t *testing.T, db *gorm.DB, addr, key string, authority bool) {
	t.Helper()
	require.NoError(t, db.Create(&types.Moderator{
		Address:     addr,
		KeyHash:     keyHash(key),
		IsAuthority: authority,
	}).Error)
}

func login(t *testing.T, r *gin.Engine, addr, key string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(gin.H{"address": addr, "key": key})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLoginIssuesToken(t *testing.T) {
	db := newTestDB(t)
	r := newAuthRouter(t, db)
	seedModerator(t, db, "mod-1", "secret-key", true)

	w := login(t, r, "mod-1", "secret-key")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)

	var who struct {
		Addr      string `json:"addr"`
		Authority bool   `json:"authority"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &who))
	require.Equal(t, "mod-1", who.Addr)
	require.True(t, who.Authority)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	db := newTestDB(t)
	r := newAuthRouter(t, db)
	seedModerator(t, db, "mod-1", "secret-key", false)

	require.Equal(t, http.StatusUnauthorized, login(t, r, "mod-1", "wrong-key").Code)
	require.Equal(t, http.StatusUnauthorized, login(t, r, "unknown", "secret-key").Code)
}

func TestRouterGuardsAdminRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	r := New(config.Config{JWTSecret: string(testSecret)}, Deps{DB: db})

	// no token
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/quality", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// login stays open
	req = httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// a valid token reaches the handler
	token, err := issueJWT("authority", true, testSecret)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/v1/admin/quality", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMiddlewareRejectsMissingOrForgedTokens(t *testing.T) {
	r := newAuthRouter(t, newTestDB(t))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := issueJWT("mod-1", true, []byte("other-secret"))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
