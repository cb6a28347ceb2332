package ban

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/components/crossdomain"
	"github.com/stake-plus/tribunal/src/tribunal/components/notify"
	"github.com/stake-plus/tribunal/src/tribunal/types"
)

type sentMessage struct {
	Domain  string
	Payload []byte
}

type fakeTransport struct {
	sent []sentMessage
}

func (f *fakeTransport) Send(_ context.Context, domain string, payload []byte) (string, error) {
	f.sent = append(f.sent, sentMessage{Domain: domain, Payload: payload})
	return "msg-1", nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&types.BanRecord{}, &types.AgentBan{}))
	return db
}

func newEnforcer(t *testing.T, db *gorm.DB) (*Enforcer, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	e := NewEnforcer(db, notify.Nop{}, transport, Config{
		Authority:   "authority",
		LocalDomain: "hub",
	})
	return e, transport
}

func TestApplyAddressBanAuthorityGate(t *testing.T) {
	e, _ := newEnforcer(t, newTestDB(t))

	err := e.ApplyAddressBan("stranger", "spammer", types.BanOnNotice, time.Time{}, "spam", 1)
	require.ErrorIs(t, err, ErrNotAuthority)

	err = e.ApplyAddressBan("authority", "spammer", 99, time.Time{}, "spam", 1)
	require.ErrorIs(t, err, ErrBadBanType)

	require.NoError(t, e.ApplyAddressBan("authority", "spammer", types.BanOnNotice, time.Time{}, "spam", 1))
	banned, err := e.IsAddressBanned("spammer")
	require.NoError(t, err)
	require.True(t, banned)
}

func TestZeroExpiryMeansPermanent(t *testing.T) {
	e, _ := newEnforcer(t, newTestDB(t))
	require.NoError(t, e.ApplyAddressBan("authority", "spammer", types.BanPermanent, time.Time{}, "spam", 1))

	banned, err := e.IsAddressBanned("spammer")
	require.NoError(t, err)
	require.True(t, banned)
}

func TestExpiryEvaluatedLazily(t *testing.T) {
	db := newTestDB(t)
	e, _ := newEnforcer(t, db)
	require.NoError(t, e.ApplyAddressBan("authority", "spammer", types.BanOnNotice, time.Now().Add(-time.Hour), "spam", 1))

	// record still says banned, lookups say no
	var rec types.BanRecord
	require.NoError(t, db.First(&rec, "address = ?", "spammer").Error)
	require.True(t, rec.Banned)

	banned, err := e.IsAddressBanned("spammer")
	require.NoError(t, err)
	require.False(t, banned)
}

func TestClearExpiredSweepsOnlyExpired(t *testing.T) {
	db := newTestDB(t)
	e, _ := newEnforcer(t, db)
	require.NoError(t, e.ApplyAddressBan("authority", "expired", types.BanOnNotice, time.Now().Add(-time.Hour), "spam", 1))
	require.NoError(t, e.ApplyAddressBan("authority", "active", types.BanOnNotice, time.Now().Add(time.Hour), "spam", 2))
	require.NoError(t, e.ApplyAddressBan("authority", "permanent", types.BanPermanent, time.Time{}, "spam", 3))
	require.NoError(t, e.ApplyAgentBan("authority", "agent-1", "owner", types.BanOnNotice, time.Now().Add(-time.Hour), "spam", 4, false))

	cleared, err := e.ClearExpired()
	require.NoError(t, err)
	require.Equal(t, 2, cleared)

	for addr, want := range map[string]bool{"expired": false, "active": true, "permanent": true} {
		banned, err := e.IsAddressBanned(addr)
		require.NoError(t, err)
		require.Equal(t, want, banned, addr)
	}
	banned, err := e.IsAgentBanned("agent-1")
	require.NoError(t, err)
	require.False(t, banned)
}

func TestRemoveAddressBan(t *testing.T) {
	e, _ := newEnforcer(t, newTestDB(t))

	require.ErrorIs(t, e.RemoveAddressBan("authority", "nobody"), ErrNotBanned)

	require.NoError(t, e.ApplyAddressBan("authority", "spammer", types.BanOnNotice, time.Time{}, "spam", 1))
	require.ErrorIs(t, e.RemoveAddressBan("stranger", "spammer"), ErrNotAuthority)
	require.NoError(t, e.RemoveAddressBan("authority", "spammer"))

	banned, err := e.IsAddressBanned("spammer")
	require.NoError(t, err)
	require.False(t, banned)
	require.ErrorIs(t, e.RemoveAddressBan("authority", "spammer"), ErrNotBanned)
}

func TestAgentBanKeepsOwnerAndSlashedFlag(t *testing.T) {
	db := newTestDB(t)
	e, _ := newEnforcer(t, db)
	require.NoError(t, e.ApplyAgentBan("authority", "agent-1", "owner", types.BanChallenged, time.Time{}, "abuse", 1, true))

	var rec types.AgentBan
	require.NoError(t, db.First(&rec, "agent_id = ?", "agent-1").Error)
	require.Equal(t, "owner", rec.Owner)
	require.True(t, rec.Slashed)

	// lifting the ban leaves the slashed flag in place
	require.NoError(t, e.RemoveAgentBan("authority", "agent-1"))
	require.NoError(t, db.First(&rec, "agent_id = ?", "agent-1").Error)
	require.False(t, rec.Banned)
	require.True(t, rec.Slashed)
}

func TestResolutionPath(t *testing.T) {
	e, _ := newEnforcer(t, newTestDB(t))

	require.NoError(t, e.ApplyFromResolution("spammer", 1))
	banned, err := e.IsAddressBanned("spammer")
	require.NoError(t, err)
	require.True(t, banned)

	require.NoError(t, e.ClearFromResolution("spammer", 1))
	banned, err = e.IsAddressBanned("spammer")
	require.NoError(t, err)
	require.False(t, banned)

	// clearing an address that was never banned is not an error
	require.NoError(t, e.ClearFromResolution("innocent", 2))
}

func TestReplicateSendsBanMessage(t *testing.T) {
	e, transport := newEnforcer(t, newTestDB(t))
	expires := time.Now().Add(time.Hour)

	require.NoError(t, e.Replicate(context.Background(), "forum", "spammer", types.BanChallenged, expires, "spam", 1))
	require.Len(t, transport.sent, 1)
	require.Equal(t, "forum", transport.sent[0].Domain)

	var msg crossdomain.Message
	require.NoError(t, json.Unmarshal(transport.sent[0].Payload, &msg))
	require.Equal(t, "ban", msg.Type)
	require.Equal(t, "spammer", msg.Target)
	require.Equal(t, expires.Unix(), msg.ExpiresAt)
}

type fixedChecker struct {
	status Status
}

func (f fixedChecker) Status(string) Status { return f.status }

func TestPolicyCheckerResolvesUnknown(t *testing.T) {
	open := PolicyChecker{Checker: fixedChecker{StatusUnknown}, Policy: FailOpen}
	closed := PolicyChecker{Checker: fixedChecker{StatusUnknown}, Policy: FailClosed}

	require.False(t, open.Banned("anyone"))
	require.True(t, closed.Banned("anyone"))

	// a definite answer overrides the policy either way
	require.True(t, PolicyChecker{Checker: fixedChecker{StatusBanned}, Policy: FailOpen}.Banned("x"))
	require.False(t, PolicyChecker{Checker: fixedChecker{StatusNotBanned}, Policy: FailClosed}.Banned("x"))
}

func TestEnforcerImplementsStatusChecker(t *testing.T) {
	e, _ := newEnforcer(t, newTestDB(t))
	var checker StatusChecker = e

	require.Equal(t, StatusNotBanned, checker.Status("nobody"))
	require.NoError(t, e.ApplyFromResolution("spammer", 1))
	require.Equal(t, StatusBanned, checker.Status("spammer"))
}
