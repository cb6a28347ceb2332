package appeals

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/components/ban"
	"github.com/stake-plus/tribunal/src/tribunal/components/notify"
	"github.com/stake-plus/tribunal/src/tribunal/components/payout"
	"github.com/stake-plus/tribunal/src/tribunal/types"
)

type fixedChecker struct {
	status ban.Status
}

func (f fixedChecker) Status(string) ban.Status { return f.status }

type fakeLifter struct {
	cleared []string
}

func (f *fakeLifter) ClearFromResolution(target string, _ uint64) error {
	f.cleared = append(f.cleared, target)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&types.Case{}, &types.Appeal{}, &types.AppealVote{}, &types.ClaimBalance{},
	))
	return db
}

func newCourt(t *testing.T, db *gorm.DB, minVotes int) (*Court, *payout.Ledger, *fakeLifter) {
	t.Helper()
	payouts := payout.NewLedger(db)
	lifter := &fakeLifter{}
	c := NewCourt(db, payouts, notify.Nop{},
		ban.PolicyChecker{Checker: fixedChecker{ban.StatusBanned}, Policy: ban.FailOpen},
		lifter,
		Config{
			MinStake:      500,
			MinBoardVotes: minVotes,
			Authority:     "director",
			InsuranceFund: "insurance",
			Board:         map[string]bool{"m1": true, "m2": true, "m3": true},
		})
	return c, payouts, lifter
}

func seedResolvedCase(t *testing.T, db *gorm.DB, id uint64, outcome uint8) {
	t.Helper()
	require.NoError(t, db.Create(&types.Case{
		ID:        id,
		Subject:   "spammer",
		Resolved:  true,
		Outcome:   outcome,
		VotingEnd: time.Now().Add(-2 * time.Hour),
		RevealEnd: time.Now().Add(-time.Hour),
	}).Error)
}

// endReview pushes an appeal past its board window.
func endReview(t *testing.T, db *gorm.DB, appealID string) {
	t.Helper()
	err := db.Model(&types.Appeal{}).Where("id = ?", appealID).
		Update("review_ends", time.Now().Add(-time.Minute)).Error
	require.NoError(t, err)
}

func TestFileChecksStakeBeforeAnythingElse(t *testing.T) {
	c, _, _ := newCourt(t, newTestDB(t), 3)

	// short stake fails even against a case that does not exist
	_, err := c.File("spammer", 999, 100, "")
	require.ErrorIs(t, err, ErrStakeTooLow)
}

func TestFileValidation(t *testing.T) {
	db := newTestDB(t)
	c, _, _ := newCourt(t, db, 3)

	_, err := c.File("spammer", 999, 500, "")
	require.ErrorIs(t, err, ErrCaseNotFound)

	seedResolvedCase(t, db, 1, types.OutcomeRejected)
	_, err = c.File("spammer", 1, 500, "")
	require.ErrorIs(t, err, ErrCaseNotActionable)

	seedResolvedCase(t, db, 2, types.OutcomeAction)
	id, err := c.File("spammer", 2, 500, "ref")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// one active appeal per case
	_, err = c.File("spammer", 2, 500, "")
	require.ErrorIs(t, err, ErrActiveAppeal)
}

func TestFileRequiresAppellantBanned(t *testing.T) {
	db := newTestDB(t)
	payouts := payout.NewLedger(db)
	c := NewCourt(db, payouts, notify.Nop{},
		ban.PolicyChecker{Checker: fixedChecker{ban.StatusNotBanned}, Policy: ban.FailOpen},
		&fakeLifter{},
		Config{MinStake: 500, Authority: "director", InsuranceFund: "insurance"})
	seedResolvedCase(t, db, 1, types.OutcomeAction)

	_, err := c.File("free-agent", 1, 500, "")
	require.ErrorIs(t, err, ErrAppellantNotBanned)
}

func TestBoardVoteRules(t *testing.T) {
	db := newTestDB(t)
	c, _, _ := newCourt(t, db, 3)
	seedResolvedCase(t, db, 1, types.OutcomeAction)
	id, err := c.File("spammer", 1, 500, "")
	require.NoError(t, err)

	require.ErrorIs(t, c.BoardVote(id, "stranger", true), ErrNotBoardMember)
	require.ErrorIs(t, c.BoardVote("missing", "m1", true), ErrAppealNotFound)

	require.NoError(t, c.BoardVote(id, "m1", true))
	require.ErrorIs(t, c.BoardVote(id, "m1", false), ErrAlreadyVoted)
	require.NoError(t, c.BoardVote(id, "m2", false))

	appeal, err := c.Status(id)
	require.NoError(t, err)
	require.Equal(t, types.AppealBoardReview, appeal.Status)
	require.Equal(t, uint32(1), appeal.VotesRestore)
	require.Equal(t, uint32(1), appeal.VotesUphold)

	endReview(t, db, id)
	require.ErrorIs(t, c.BoardVote(id, "m3", true), ErrReviewClosed)
}

func TestCompleteReviewGates(t *testing.T) {
	db := newTestDB(t)
	c, _, _ := newCourt(t, db, 3)
	seedResolvedCase(t, db, 1, types.OutcomeAction)
	id, err := c.File("spammer", 1, 500, "")
	require.NoError(t, err)

	// no votes yet, appeal is still Filed
	require.ErrorIs(t, c.CompleteReview(id), ErrWrongStatus)

	require.NoError(t, c.BoardVote(id, "m1", true))
	require.NoError(t, c.BoardVote(id, "m2", true))
	require.ErrorIs(t, c.CompleteReview(id), ErrReviewOpen)

	endReview(t, db, id)
	require.ErrorIs(t, c.CompleteReview(id), ErrTooFewVotes)
}

func TestRestoreReturnsStakeAndLiftsBan(t *testing.T) {
	db := newTestDB(t)
	c, payouts, lifter := newCourt(t, db, 2)
	seedResolvedCase(t, db, 1, types.OutcomeAction)
	id, err := c.File("spammer", 1, 500, "")
	require.NoError(t, err)
	require.NoError(t, c.BoardVote(id, "m1", true))
	require.NoError(t, c.BoardVote(id, "m2", true))
	endReview(t, db, id)
	require.NoError(t, c.CompleteReview(id))

	require.ErrorIs(t, c.FinalDecision(id, "stranger", true, "no"), ErrNotAuthority)
	require.NoError(t, c.FinalDecision(id, "director", true, "evidence was fabricated"))

	// stake back to the appellant, ban lifted on the case subject
	bal, err := payouts.Balance("spammer")
	require.NoError(t, err)
	require.Equal(t, uint64(500), bal)
	require.Equal(t, []string{"spammer"}, lifter.cleared)

	appeal, err := c.Status(id)
	require.NoError(t, err)
	require.Equal(t, types.AppealResolved, appeal.Status)
	require.True(t, appeal.Restored)

	var orig types.Case
	require.NoError(t, db.First(&orig, "id = ?", uint64(1)).Error)
	require.False(t, orig.ActiveAppeal)

	// a fresh appeal on the same case is allowed again
	_, err = c.File("spammer", 1, 500, "")
	require.NoError(t, err)
}

func TestRejectForfeitsStakeToInsuranceFund(t *testing.T) {
	db := newTestDB(t)
	c, payouts, lifter := newCourt(t, db, 2)
	seedResolvedCase(t, db, 1, types.OutcomeAction)
	id, err := c.File("spammer", 1, 500, "")
	require.NoError(t, err)
	require.NoError(t, c.BoardVote(id, "m1", false))
	require.NoError(t, c.BoardVote(id, "m2", false))
	endReview(t, db, id)
	require.NoError(t, c.CompleteReview(id))

	require.NoError(t, c.FinalDecision(id, "director", false, "board findings stand"))

	bal, err := payouts.Balance("insurance")
	require.NoError(t, err)
	require.Equal(t, uint64(500), bal)
	require.Empty(t, lifter.cleared)

	bal, err = payouts.Balance("spammer")
	require.NoError(t, err)
	require.Equal(t, uint64(0), bal)

	// decisions are final
	require.ErrorIs(t, c.FinalDecision(id, "director", true, "changed my mind"), ErrWrongStatus)
}
