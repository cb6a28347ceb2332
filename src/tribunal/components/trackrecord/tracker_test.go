package trackrecord

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/components/notify"
	"github.com/stake-plus/tribunal/src/tribunal/components/payout"
	"github.com/stake-plus/tribunal/src/tribunal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&types.VoterRecord{}, &types.CaseQuality{}, &types.ClaimBalance{},
	))
	return db
}

func newTracker(t *testing.T, db *gorm.DB) (*Tracker, *payout.Ledger) {
	t.Helper()
	payouts := payout.NewLedger(db)
	tr := NewTracker(db, payouts, notify.Nop{}, Config{
		Treasury:  "treasury",
		Assessors: map[string]bool{"assessor": true},
	})
	return tr, payouts
}

func setQuality(t *testing.T, db *gorm.DB, caseID uint64, tier uint8) {
	t.Helper()
	require.NoError(t, db.Create(&types.CaseQuality{CaseID: caseID, Tier: tier}).Error)
}

func TestProgressiveSlashingOnHighQualityCases(t *testing.T) {
	db := newTestDB(t)
	tr, payouts := newTracker(t, db)
	setQuality(t, db, 1, types.QualityHigh)

	const stake = 1000

	// losses 1-3: counted but unslashed
	for i := 0; i < 3; i++ {
		slashed, err := tr.RecordOutcome("alice", 1, false, stake)
		require.NoError(t, err)
		require.Equal(t, uint64(0), slashed)
	}

	// 4th loss: 5%
	slashed, err := tr.RecordOutcome("alice", 1, false, stake)
	require.NoError(t, err)
	require.Equal(t, uint64(50), slashed)

	rec, err := tr.Record("alice")
	require.NoError(t, err)
	require.Equal(t, uint8(1), rec.PenaltyTier)

	// losses 5-6 stay at 5%, 7th escalates to 15%
	for i := 0; i < 2; i++ {
		slashed, err = tr.RecordOutcome("alice", 1, false, stake)
		require.NoError(t, err)
		require.Equal(t, uint64(50), slashed)
	}
	slashed, err = tr.RecordOutcome("alice", 1, false, stake)
	require.NoError(t, err)
	require.Equal(t, uint64(150), slashed)

	// losses 8-9 at 15%, 10th hits 25% and a voting ban
	for i := 0; i < 2; i++ {
		slashed, err = tr.RecordOutcome("alice", 1, false, stake)
		require.NoError(t, err)
		require.Equal(t, uint64(150), slashed)
	}
	slashed, err = tr.RecordOutcome("alice", 1, false, stake)
	require.NoError(t, err)
	require.Equal(t, uint64(250), slashed)

	rec, err = tr.Record("alice")
	require.NoError(t, err)
	require.Equal(t, uint8(3), rec.PenaltyTier)
	require.True(t, rec.VotingBanned)
	require.NotNil(t, rec.BanExpiresAt)

	banned, err := tr.IsVotingBanned("alice")
	require.NoError(t, err)
	require.True(t, banned)

	// every slashed unit landed in the treasury
	treasury, err := payouts.Balance("treasury")
	require.NoError(t, err)
	require.Equal(t, rec.TotalSlashed, treasury)
}

func TestLowQualityLossesNeverCount(t *testing.T) {
	db := newTestDB(t)
	tr, _ := newTracker(t, db)
	setQuality(t, db, 1, types.QualityLow)

	for i := 0; i < 12; i++ {
		slashed, err := tr.RecordOutcome("alice", 1, false, 1000)
		require.NoError(t, err)
		require.Equal(t, uint64(0), slashed)
	}
	rec, err := tr.Record("alice")
	require.NoError(t, err)
	require.Equal(t, uint32(0), rec.ConsecutiveLosses)
	require.Equal(t, uint8(0), rec.PenaltyTier)
}

func TestMediumQualityCountsEverySecondLoss(t *testing.T) {
	db := newTestDB(t)
	tr, _ := newTracker(t, db)
	setQuality(t, db, 1, types.QualityMedium)

	expected := []uint32{0, 1, 1, 2, 2, 3}
	for i, want := range expected {
		_, err := tr.RecordOutcome("alice", 1, false, 1000)
		require.NoError(t, err)
		rec, err := tr.Record("alice")
		require.NoError(t, err)
		require.Equal(t, want, rec.ConsecutiveLosses, "after loss %d", i+1)
	}
}

func TestUnassessedCaseDerivesTier(t *testing.T) {
	db := newTestDB(t)
	tr, _ := newTracker(t, db)

	// high stake, evidence, decisive margin
	require.NoError(t, db.Create(&types.CaseQuality{
		CaseID: 1, VotesFor: 9000, VotesAgainst: 1000, TotalStake: 20000, HasEvidence: true,
	}).Error)
	require.Equal(t, types.QualityHigh, tr.QualityTier(1))

	// same but controversial: margin under 20%
	require.NoError(t, db.Create(&types.CaseQuality{
		CaseID: 2, VotesFor: 5500, VotesAgainst: 4500, TotalStake: 20000, HasEvidence: true,
	}).Error)
	require.Equal(t, types.QualityMedium, tr.QualityTier(2))

	// low stake, no evidence
	require.NoError(t, db.Create(&types.CaseQuality{
		CaseID: 3, VotesFor: 300, VotesAgainst: 100, TotalStake: 400,
	}).Error)
	require.Equal(t, types.QualityLow, tr.QualityTier(3))

	require.Equal(t, types.QualityUnknown, tr.QualityTier(99))
}

func TestWinsResetAndStepTierDown(t *testing.T) {
	db := newTestDB(t)
	tr, _ := newTracker(t, db)
	setQuality(t, db, 1, types.QualityHigh)

	for i := 0; i < 4; i++ {
		_, err := tr.RecordOutcome("alice", 1, false, 1000)
		require.NoError(t, err)
	}
	rec, err := tr.Record("alice")
	require.NoError(t, err)
	require.Equal(t, uint8(1), rec.PenaltyTier)

	// one win clears the loss streak immediately
	_, err = tr.RecordOutcome("alice", 1, true, 1000)
	require.NoError(t, err)
	rec, err = tr.Record("alice")
	require.NoError(t, err)
	require.Equal(t, uint32(0), rec.ConsecutiveLosses)
	require.Equal(t, uint8(1), rec.PenaltyTier)

	// four more wins step the tier down
	for i := 0; i < 4; i++ {
		_, err = tr.RecordOutcome("alice", 1, true, 1000)
		require.NoError(t, err)
	}
	rec, err = tr.Record("alice")
	require.NoError(t, err)
	require.Equal(t, uint8(0), rec.PenaltyTier)
}

func TestStepDownToZeroLiftsVotingBan(t *testing.T) {
	db := newTestDB(t)
	tr, _ := newTracker(t, db)

	expiry := time.Now().Add(24 * time.Hour)
	require.NoError(t, db.Create(&types.VoterRecord{
		Address:         "alice",
		PenaltyTier:     1,
		ConsecutiveWins: 4,
		VotingBanned:    true,
		BanExpiresAt:    &expiry,
		LastVoteAt:      time.Now(),
	}).Error)

	_, err := tr.RecordOutcome("alice", 1, true, 1000)
	require.NoError(t, err)

	rec, err := tr.Record("alice")
	require.NoError(t, err)
	require.Equal(t, uint8(0), rec.PenaltyTier)
	require.False(t, rec.VotingBanned)
	require.Nil(t, rec.BanExpiresAt)
}

func TestVotingBanExpiresLazily(t *testing.T) {
	db := newTestDB(t)
	tr, _ := newTracker(t, db)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.Create(&types.VoterRecord{
		Address:      "alice",
		VotingBanned: true,
		BanExpiresAt: &past,
		LastVoteAt:   time.Now(),
	}).Error)

	banned, err := tr.IsVotingBanned("alice")
	require.NoError(t, err)
	require.False(t, banned)

	rec, err := tr.Record("alice")
	require.NoError(t, err)
	require.False(t, rec.VotingBanned)
	require.Nil(t, rec.BanExpiresAt)
}

func TestInactivityResetsStreaksNotHistory(t *testing.T) {
	db := newTestDB(t)
	tr, _ := newTracker(t, db)
	setQuality(t, db, 1, types.QualityLow)

	expiry := time.Now().Add(24 * time.Hour)
	require.NoError(t, db.Create(&types.VoterRecord{
		Address:           "alice",
		TotalVotes:        20,
		TotalWins:         8,
		ConsecutiveLosses: 6,
		VotingBanned:      true,
		BanExpiresAt:      &expiry,
		LastVoteAt:        time.Now().Add(-91 * 24 * time.Hour),
	}).Error)

	_, err := tr.RecordOutcome("alice", 1, false, 1000)
	require.NoError(t, err)

	rec, err := tr.Record("alice")
	require.NoError(t, err)
	require.Equal(t, uint32(0), rec.ConsecutiveLosses)
	require.False(t, rec.VotingBanned)
	require.Equal(t, uint32(21), rec.TotalVotes)
	require.Equal(t, uint32(8), rec.TotalWins)
}

func TestAssessQualityGatedToAssessors(t *testing.T) {
	db := newTestDB(t)
	tr, _ := newTracker(t, db)

	require.ErrorIs(t, tr.AssessQuality(1, types.QualityHigh, "stranger"), ErrNotAssessor)
	require.ErrorIs(t, tr.AssessQuality(1, 9, "assessor"), ErrBadTier)
	require.NoError(t, tr.AssessQuality(1, types.QualityHigh, "assessor"))
	require.Equal(t, types.QualityHigh, tr.QualityTier(1))

	// reassessment overrides
	require.NoError(t, tr.AssessQuality(1, types.QualityLow, "assessor"))
	require.Equal(t, types.QualityLow, tr.QualityTier(1))
}

func TestAccuracyScore(t *testing.T) {
	db := newTestDB(t)
	tr, _ := newTracker(t, db)
	setQuality(t, db, 1, types.QualityLow)

	_, err := tr.AccuracyScoreBps("alice")
	require.ErrorIs(t, err, ErrUnknownVoter)

	for i := 0; i < 3; i++ {
		_, err := tr.RecordOutcome("alice", 1, true, 1000)
		require.NoError(t, err)
	}
	_, err = tr.RecordOutcome("alice", 1, false, 1000)
	require.NoError(t, err)

	score, err := tr.AccuracyScoreBps("alice")
	require.NoError(t, err)
	require.Equal(t, uint32(7500), score)
}
