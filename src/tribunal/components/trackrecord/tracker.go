package trackrecord

import (
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/components/notify"
	"github.com/stake-plus/tribunal/src/tribunal/components/payout"
	"github.com/stake-plus/tribunal/src/tribunal/types"
)

var (
	ErrNotAssessor    = errors.New("assessor not authorized")
	ErrBadTier        = errors.New("invalid quality tier")
	ErrUnknownVoter   = errors.New("no record for voter")
	ErrNoDecidedVotes = errors.New("voter has no decided votes")
)

const (
	slashTier1Losses = 4
	slashTier2Losses = 7
	slashTier3Losses = 10

	slashTier1Pct = 5
	slashTier2Pct = 15
	slashTier3Pct = 25

	winsToStepDown  = 5
	votingBanPeriod = 30 * 24 * time.Hour
	inactivityReset = 90 * 24 * time.Hour

	// vote margin below 20% marks a case controversial
	controversialMarginBps = 2000
)

type Config struct {
	HighStakeMin   uint64
	MediumStakeMin uint64
	Treasury       string
	Assessors      map[string]bool
}

// Tracker observes per-voter outcomes and applies progressive, quality-gated
// slashing. Losses only count against a voter when the case itself was
// legitimate enough, so spam cases cannot be used to grief honest voters.
type Tracker struct {
	db       *gorm.DB
	payouts  *payout.Ledger
	notifier notify.Notifier
	cfg      Config
	mu       sync.Mutex
}

func NewTracker(db *gorm.DB, payouts *payout.Ledger, notifier notify.Notifier, cfg Config) *Tracker {
	if cfg.HighStakeMin == 0 {
		cfg.HighStakeMin = 10000
	}
	if cfg.MediumStakeMin == 0 {
		cfg.MediumStakeMin = 1000
	}
	return &Tracker{db: db, payouts: payouts, notifier: notifier, cfg: cfg}
}

// RecordOutcome registers one decided case for a voter and returns the
// slashed amount, if any.
func (t *Tracker) RecordOutcome(voter string, caseID uint64, won bool, stakeAtRisk uint64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.loadOrCreate(voter)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	t.applyInactivityReset(rec, now)

	rec.TotalVotes++
	rec.LastVoteAt = now

	if won {
		rec.TotalWins++
		rec.ConsecutiveLosses = 0
		rec.MediumLossParity = false
		rec.ConsecutiveWins++
		if rec.ConsecutiveWins >= winsToStepDown && rec.PenaltyTier > 0 {
			rec.PenaltyTier--
			rec.ConsecutiveWins = 0
			if rec.PenaltyTier == 0 && rec.VotingBanned {
				rec.VotingBanned = false
				rec.BanExpiresAt = nil
				t.notifier.Notify("voting_ban_lifted", map[string]interface{}{"voter": voter})
			}
		}
		return 0, t.db.Save(rec).Error
	}

	rec.ConsecutiveWins = 0
	if !t.lossQualifies(rec, caseID) {
		return 0, t.db.Save(rec).Error
	}
	rec.ConsecutiveLosses++

	var slashed uint64
	switch {
	case rec.ConsecutiveLosses >= slashTier3Losses:
		slashed = stakeAtRisk * slashTier3Pct / 100
		rec.PenaltyTier = 3
		rec.VotingBanned = true
		expiry := now.Add(votingBanPeriod)
		rec.BanExpiresAt = &expiry
		t.notifier.Notify("voting_ban_applied", map[string]interface{}{"voter": voter, "expires": expiry})
	case rec.ConsecutiveLosses >= slashTier2Losses:
		slashed = stakeAtRisk * slashTier2Pct / 100
		if rec.PenaltyTier < 2 {
			rec.PenaltyTier = 2
		}
	case rec.ConsecutiveLosses >= slashTier1Losses:
		slashed = stakeAtRisk * slashTier1Pct / 100
		if rec.PenaltyTier < 1 {
			rec.PenaltyTier = 1
		}
	}

	if slashed > 0 {
		rec.TotalSlashed += slashed
		rec.LastSlashAt = &now
		if err := t.payouts.Credit(t.cfg.Treasury, slashed); err != nil {
			return 0, err
		}
		t.notifier.Notify("voter_slashed", map[string]interface{}{
			"voter": voter, "case": caseID, "amount": slashed, "losses": rec.ConsecutiveLosses,
		})
	}
	return slashed, t.db.Save(rec).Error
}

// AssessQuality lets an authorized assessor fix a case's quality tier.
func (t *Tracker) AssessQuality(caseID uint64, tier uint8, assessor string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.cfg.Assessors[assessor] {
		return ErrNotAssessor
	}
	if tier < types.QualityLow || tier > types.QualityHigh {
		return ErrBadTier
	}

	now := time.Now()
	var q types.CaseQuality
	err := t.db.First(&q, "case_id = ?", caseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		q = types.CaseQuality{CaseID: caseID, Tier: tier, Assessor: assessor, AssessedAt: &now}
		return t.db.Create(&q).Error
	}
	if err != nil {
		return err
	}
	q.Tier = tier
	q.Assessor = assessor
	q.AssessedAt = &now
	return t.db.Save(&q).Error
}

// QualityTier returns the effective tier for a case: an explicit assessment
// if present, otherwise a derivation from stake, evidence and vote margin.
func (t *Tracker) QualityTier(caseID uint64) uint8 {
	var q types.CaseQuality
	if err := t.db.First(&q, "case_id = ?", caseID).Error; err != nil {
		return types.QualityUnknown
	}
	if q.Tier != types.QualityUnknown {
		return q.Tier
	}
	return t.deriveTier(&q)
}

// IsVotingBanned reports whether the voter is currently barred from voting.
// Expired bans are cleared lazily.
func (t *Tracker) IsVotingBanned(voter string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var rec types.VoterRecord
	err := t.db.First(&rec, "address = ?", voter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !rec.VotingBanned {
		return false, nil
	}
	if rec.BanExpiresAt != nil && time.Now().After(*rec.BanExpiresAt) {
		rec.VotingBanned = false
		rec.BanExpiresAt = nil
		if err := t.db.Save(&rec).Error; err != nil {
			return false, err
		}
		t.notifier.Notify("voting_ban_expired", map[string]interface{}{"voter": voter})
		return false, nil
	}
	return true, nil
}

// AccuracyScoreBps returns the voter's win rate in basis points.
func (t *Tracker) AccuracyScoreBps(voter string) (uint32, error) {
	var rec types.VoterRecord
	err := t.db.First(&rec, "address = ?", voter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrUnknownVoter
	}
	if err != nil {
		return 0, err
	}
	if rec.TotalVotes == 0 {
		return 0, ErrNoDecidedVotes
	}
	return rec.TotalWins * 10000 / rec.TotalVotes, nil
}

// Record returns the raw voter record.
func (t *Tracker) Record(voter string) (*types.VoterRecord, error) {
	var rec types.VoterRecord
	err := t.db.First(&rec, "address = ?", voter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownVoter
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// lossQualifies applies the quality gate: HIGH counts every loss, MEDIUM
// every second one, anything below never counts.
func (t *Tracker) lossQualifies(rec *types.VoterRecord, caseID uint64) bool {
	switch t.QualityTier(caseID) {
	case types.QualityHigh:
		return true
	case types.QualityMedium:
		rec.MediumLossParity = !rec.MediumLossParity
		return !rec.MediumLossParity
	default:
		return false
	}
}

func (t *Tracker) deriveTier(q *types.CaseQuality) uint8 {
	totalVotes := q.VotesFor + q.VotesAgainst
	controversial := false
	if totalVotes > 0 {
		diff := q.VotesFor - q.VotesAgainst
		if q.VotesAgainst > q.VotesFor {
			diff = q.VotesAgainst - q.VotesFor
		}
		controversial = diff*10000/totalVotes < controversialMarginBps
	}

	if q.TotalStake >= t.cfg.HighStakeMin && q.HasEvidence {
		if controversial {
			return types.QualityMedium
		}
		return types.QualityHigh
	}
	if q.TotalStake >= t.cfg.MediumStakeMin || q.HasEvidence {
		return types.QualityMedium
	}
	return types.QualityLow
}

func (t *Tracker) applyInactivityReset(rec *types.VoterRecord, now time.Time) {
	if rec.LastVoteAt.IsZero() || now.Sub(rec.LastVoteAt) <= inactivityReset {
		return
	}
	rec.ConsecutiveLosses = 0
	rec.ConsecutiveWins = 0
	rec.MediumLossParity = false
	if rec.VotingBanned {
		rec.VotingBanned = false
		rec.BanExpiresAt = nil
	}
}

func (t *Tracker) loadOrCreate(voter string) (*types.VoterRecord, error) {
	var rec types.VoterRecord
	err := t.db.First(&rec, "address = ?", voter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rec = types.VoterRecord{Address: voter}
		if err := t.db.Create(&rec).Error; err != nil {
			return nil, err
		}
		return &rec, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
