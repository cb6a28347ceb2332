package webserver

import (
	"encoding/hex"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/types"
)

type Auth struct {
	db     *gorm.DB
	secret []byte
}

func NewAuth(db *gorm.DB, secret []byte) Auth {
	return Auth{db: db, secret: secret}
}

// Login exchanges a moderator API key for a bearer token.
func (a Auth) Login(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required,min=4,max=128"`
		Key     string `json:"key"     binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	var mod types.Moderator
	if err := a.db.First(&mod, "address = ?", req.Address).Error; err != nil {
		log.Printf("Login attempt for unknown moderator %s from %s", req.Address, c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"err": "bad credentials"})
		return
	}
	if keyHash(req.Key) != mod.KeyHash {
		log.Printf("Bad key for moderator %s from %s", req.Address, c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"err": "bad credentials"})
		return
	}

	token, err := issueJWT(mod.Address, mod.IsAuthority, a.secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func keyHash(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func issueJWT(addr string, authority bool, secret []byte) (string, error) {
	claims := jwt.MapClaims{
		"addr":      addr,
		"authority": authority,
		"exp":       time.Now().Add(24 * time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func callerAddr(c *gin.Context) string {
	return c.GetString("addr")
}

func isAuthority(c *gin.Context) bool {
	return c.GetBool("authority")
}
