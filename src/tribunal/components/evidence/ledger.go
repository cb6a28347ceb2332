package evidence

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mr-tron/base58"
	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/components/notify"
	"github.com/stake-plus/tribunal/src/tribunal/components/payout"
	"github.com/stake-plus/tribunal/src/tribunal/data"
	"github.com/stake-plus/tribunal/src/tribunal/types"
)

var (
	ErrCaseNotFound      = errors.New("case not found")
	ErrWindowClosed      = errors.New("evidence window closed")
	ErrStakeTooLow       = errors.New("stake below minimum")
	ErrBadSummary        = errors.New("summary length out of bounds")
	ErrBadContentRef     = errors.New("content ref is not valid base58")
	ErrCaseFull          = errors.New("evidence cap reached for case")
	ErrEvidenceNotFound  = errors.New("evidence not found")
	ErrOwnEvidence       = errors.New("submitter cannot support own evidence")
	ErrAlreadySupported  = errors.New("account already took a position on this evidence")
	ErrEvidenceFull      = errors.New("support cap reached for evidence")
	ErrPoolNotClosed     = errors.New("evidence pool not closed")
	ErrPoolClosed        = errors.New("evidence pool already closed")
	ErrCaseNotResolved   = errors.New("case not resolved")
	ErrNotWinner         = errors.New("position did not match the outcome")
	ErrAlreadyClaimed    = errors.New("already claimed")
	ErrNoSupportRecorded = errors.New("no support recorded for claimant")
)

const (
	weightBaseBps    = 10000
	weightPerHourBps = 100
	weightCapBps     = 7200

	minSummaryLen = 10
	maxSummaryLen = 1000

	// submitters earn a 10% larger share than supporters
	submitterBonusNum = 110
	submitterBonusDen = 100
)

type Config struct {
	MinStake   uint64
	FeeBps     uint64
	MaxPerCase int
	MaxSupport int
	CloseBatch int
	Treasury   string
}

// Ledger accepts staked evidence and counter-stakes during a case's voting
// window, then settles the pools against the resolved outcome.
type Ledger struct {
	db        *gorm.DB
	payouts   *payout.Ledger
	notifier  notify.Notifier
	sanitizer *bluemonday.Policy
	cfg       Config
	mu        sync.Mutex
}

func NewLedger(db *gorm.DB, payouts *payout.Ledger, notifier notify.Notifier, cfg Config) *Ledger {
	if cfg.MaxPerCase <= 0 {
		cfg.MaxPerCase = 50
	}
	if cfg.MaxSupport <= 0 {
		cfg.MaxSupport = 100
	}
	if cfg.CloseBatch <= 0 {
		cfg.CloseBatch = 100
	}
	return &Ledger{
		db:        db,
		payouts:   payouts,
		notifier:  notifier,
		sanitizer: bluemonday.StrictPolicy(),
		cfg:       cfg,
	}
}

// minStake reads the live minimum so executed parameter changes apply
// without a restart.
func (l *Ledger) minStake() uint64 {
	return data.GetSettingUint("min_evidence_stake", l.cfg.MinStake)
}

// TimeWeightBps rewards earlier submissions: 100 bps per whole hour left
// until the window closes, on top of the 10000 bps base, capped at +7200.
func TimeWeightBps(now, windowEnd time.Time) uint32 {
	if !windowEnd.After(now) {
		return weightBaseBps
	}
	hours := uint32(windowEnd.Sub(now) / time.Hour)
	bonus := hours * weightPerHourBps
	if bonus > weightCapBps {
		bonus = weightCapBps
	}
	return weightBaseBps + bonus
}

// Submit records a staked evidence item for an open case.
func (l *Ledger) Submit(caseID uint64, submitter string, stake uint64, position bool, contentRef, summary string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.loadCase(caseID)
	if err != nil {
		return "", err
	}
	now := time.Now()
	if c.Resolved || now.After(c.VotingEnd) {
		return "", ErrWindowClosed
	}
	if stake < l.minStake() {
		return "", ErrStakeTooLow
	}

	summary = strings.TrimSpace(l.sanitizer.Sanitize(summary))
	if len(summary) < minSummaryLen || len(summary) > maxSummaryLen {
		return "", ErrBadSummary
	}
	if _, err := base58.Decode(contentRef); err != nil || contentRef == "" {
		return "", ErrBadContentRef
	}

	var count int64
	if err := l.db.Model(&types.Evidence{}).Where("case_id = ?", caseID).Count(&count).Error; err != nil {
		return "", err
	}
	if count >= int64(l.cfg.MaxPerCase) {
		return "", ErrCaseFull
	}

	ev := types.Evidence{
		ID:         uuid.NewString(),
		CaseID:     caseID,
		Submitter:  submitter,
		Stake:      stake,
		Position:   position,
		ContentRef: contentRef,
		Summary:    summary,
		WeightBps:  TimeWeightBps(now, c.VotingEnd),
		CreatedAt:  now,
	}
	if err := l.db.Create(&ev).Error; err != nil {
		return "", err
	}
	if err := l.addToPool(caseID, stake); err != nil {
		return "", err
	}
	if err := l.markCaseHasEvidence(caseID); err != nil {
		return "", err
	}

	l.notifier.Notify("evidence_submitted", map[string]interface{}{
		"case": caseID, "evidence": ev.ID, "submitter": submitter, "stake": stake,
	})
	return ev.ID, nil
}

// Support places a counter-stake for or against an evidence item.
func (l *Ledger) Support(evidenceID, supporter string, stake uint64, supporting bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ev types.Evidence
	if err := l.db.First(&ev, "id = ?", evidenceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrEvidenceNotFound
		}
		return err
	}
	c, err := l.loadCase(ev.CaseID)
	if err != nil {
		return err
	}
	now := time.Now()
	if c.Resolved || now.After(c.VotingEnd) || ev.Status != types.EvidenceActive {
		return ErrWindowClosed
	}
	if supporter == ev.Submitter {
		return ErrOwnEvidence
	}
	if stake < l.minStake() {
		return ErrStakeTooLow
	}
	if int(ev.SupportCount+ev.OpposeCount) >= l.cfg.MaxSupport {
		return ErrEvidenceFull
	}

	var existing types.EvidenceSupport
	if err := l.db.First(&existing, "evidence_id = ? AND supporter = ?", evidenceID, supporter).Error; err == nil {
		return ErrAlreadySupported
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	sup := types.EvidenceSupport{
		EvidenceID: evidenceID,
		Supporter:  supporter,
		Stake:      stake,
		Supporting: supporting,
		WeightBps:  TimeWeightBps(now, c.VotingEnd),
		CreatedAt:  now,
	}
	if err := l.db.Create(&sup).Error; err != nil {
		return err
	}

	if supporting {
		ev.SupportStake += stake
		ev.SupportCount++
	} else {
		ev.OpposeStake += stake
		ev.OpposeCount++
	}
	if err := l.db.Save(&ev).Error; err != nil {
		return err
	}
	if err := l.addToPool(ev.CaseID, stake); err != nil {
		return err
	}

	l.notifier.Notify("evidence_supported", map[string]interface{}{
		"case": ev.CaseID, "evidence": evidenceID, "supporter": supporter, "supporting": supporting,
	})
	return nil
}

// CloseBatch settles up to one batch of still-active evidence items against
// the resolved outcome. Returns the remaining count; once it reaches zero
// the pool is closed, the fee is taken and claims open.
func (l *Ledger) CloseBatch(caseID uint64) (remaining int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.loadCase(caseID)
	if err != nil {
		return 0, err
	}
	if !c.Resolved {
		return 0, ErrCaseNotResolved
	}

	pool, err := l.loadPool(caseID)
	if err != nil {
		return 0, err
	}
	if pool.Closed {
		return 0, ErrPoolClosed
	}
	actionTaken := c.Outcome == types.OutcomeAction

	var batch []types.Evidence
	err = l.db.Where("case_id = ? AND status = ?", caseID, types.EvidenceActive).
		Limit(l.cfg.CloseBatch).Find(&batch).Error
	if err != nil {
		return 0, err
	}

	for i := range batch {
		ev := &batch[i]
		evWins := ev.Position == actionTaken
		if evWins {
			ev.Status = types.EvidenceRewarded
			pool.WinningWeighted += weighted(ev.Stake, ev.WeightBps) * submitterBonusNum / submitterBonusDen
		} else {
			ev.Status = types.EvidenceSlashed
			pool.LosingPool += ev.Stake
		}
		if err := l.db.Save(ev).Error; err != nil {
			return 0, err
		}

		var sups []types.EvidenceSupport
		if err := l.db.Where("evidence_id = ?", ev.ID).Find(&sups).Error; err != nil {
			return 0, err
		}
		for _, s := range sups {
			if supportWins(s.Supporting, ev.Position, actionTaken) {
				pool.WinningWeighted += weighted(s.Stake, s.WeightBps)
			} else {
				pool.LosingPool += s.Stake
			}
		}
	}

	err = l.db.Model(&types.Evidence{}).
		Where("case_id = ? AND status = ?", caseID, types.EvidenceActive).
		Count(&remaining).Error
	if err != nil {
		return 0, err
	}

	if remaining == 0 {
		pool.Outcome = c.Outcome
		pool.Fee = pool.LosingPool * l.cfg.FeeBps / 10000
		treasuryCut := pool.Fee
		if pool.WinningWeighted == 0 {
			// nothing on the winning side; the whole losing pool is protocol revenue
			treasuryCut = pool.LosingPool
			pool.Fee = pool.LosingPool
		}
		if treasuryCut > 0 {
			if err := l.payouts.Credit(l.cfg.Treasury, treasuryCut); err != nil {
				return 0, err
			}
		}
		pool.Closed = true
		l.notifier.Notify("evidence_pool_closed", map[string]interface{}{"case": caseID, "outcome": c.Outcome})
	}
	pool.UpdatedAt = time.Now()
	if err := l.db.Save(pool).Error; err != nil {
		return 0, err
	}
	return remaining, nil
}

// Claim settles one participant's position on one evidence item.
func (l *Ledger) Claim(evidenceID, claimant string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claimLocked(evidenceID, claimant)
}

// ClaimBatch settles several evidence items at once. Items the claimant
// cannot collect on are skipped.
func (l *Ledger) ClaimBatch(evidenceIDs []string, claimant string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total uint64
	for _, id := range evidenceIDs {
		amount, err := l.claimLocked(id, claimant)
		if err != nil {
			log.Printf("evidence: claim %s for %s skipped: %v", id, claimant, err)
			continue
		}
		total += amount
	}
	return total, nil
}

// Claimable reports what claimant would receive for an evidence item.
func (l *Ledger) Claimable(evidenceID, claimant string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	amount, _, _, err := l.settleAmount(evidenceID, claimant)
	return amount, err
}

func (l *Ledger) claimLocked(evidenceID, claimant string) (uint64, error) {
	amount, ev, sup, err := l.settleAmount(evidenceID, claimant)
	if err != nil {
		return 0, err
	}

	if sup != nil {
		sup.Claimed = true
		if err := l.db.Save(sup).Error; err != nil {
			return 0, err
		}
	} else {
		ev.SubmitterClaimed = true
		if err := l.db.Save(ev).Error; err != nil {
			return 0, err
		}
	}

	pool, err := l.loadPool(ev.CaseID)
	if err != nil {
		return 0, err
	}
	pool.ClaimedTotal += amount
	pool.UpdatedAt = time.Now()
	if err := l.db.Save(pool).Error; err != nil {
		return 0, err
	}

	if err := l.payouts.Credit(claimant, amount); err != nil {
		return 0, err
	}
	l.notifier.Notify("rewards_claimed", map[string]interface{}{
		"case": ev.CaseID, "evidence": evidenceID, "claimant": claimant, "amount": amount,
	})
	return amount, nil
}

// settleAmount validates a claim and computes the payout without mutating.
func (l *Ledger) settleAmount(evidenceID, claimant string) (uint64, *types.Evidence, *types.EvidenceSupport, error) {
	var ev types.Evidence
	if err := l.db.First(&ev, "id = ?", evidenceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil, nil, ErrEvidenceNotFound
		}
		return 0, nil, nil, err
	}
	pool, err := l.loadPool(ev.CaseID)
	if err != nil {
		return 0, nil, nil, err
	}
	if !pool.Closed {
		return 0, nil, nil, ErrPoolNotClosed
	}
	actionTaken := pool.Outcome == types.OutcomeAction
	distributable := pool.LosingPool - pool.Fee

	if claimant == ev.Submitter {
		if ev.SubmitterClaimed {
			return 0, nil, nil, ErrAlreadyClaimed
		}
		if ev.Status != types.EvidenceRewarded {
			return 0, nil, nil, ErrNotWinner
		}
		eff := weighted(ev.Stake, ev.WeightBps) * submitterBonusNum / submitterBonusDen
		amount := ev.Stake + share(eff, distributable, pool.WinningWeighted)
		return amount, &ev, nil, nil
	}

	var sup types.EvidenceSupport
	if err := l.db.First(&sup, "evidence_id = ? AND supporter = ?", evidenceID, claimant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil, nil, ErrNoSupportRecorded
		}
		return 0, nil, nil, err
	}
	if sup.Claimed {
		return 0, nil, nil, ErrAlreadyClaimed
	}
	if !supportWins(sup.Supporting, ev.Position, actionTaken) {
		return 0, nil, nil, ErrNotWinner
	}
	amount := sup.Stake + share(weighted(sup.Stake, sup.WeightBps), distributable, pool.WinningWeighted)
	return amount, &ev, &sup, nil
}

// supportWins resolves a counter-stake to an effective position: backing an
// item means sharing its position, opposing it means the inverse.
func supportWins(supporting, evidencePosition, actionTaken bool) bool {
	effective := evidencePosition
	if !supporting {
		effective = !evidencePosition
	}
	return effective == actionTaken
}

func weighted(stake uint64, weightBps uint32) uint64 {
	return stake * uint64(weightBps) / 10000
}

func share(effWeighted, distributable, winningWeighted uint64) uint64 {
	if winningWeighted == 0 {
		return 0
	}
	return effWeighted * distributable / winningWeighted
}

func (l *Ledger) loadCase(caseID uint64) (*types.Case, error) {
	var c types.Case
	if err := l.db.First(&c, "id = ?", caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (l *Ledger) loadPool(caseID uint64) (*types.EvidencePool, error) {
	var pool types.EvidencePool
	err := l.db.First(&pool, "case_id = ?", caseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		pool = types.EvidencePool{CaseID: caseID, UpdatedAt: time.Now()}
		if err := l.db.Create(&pool).Error; err != nil {
			return nil, err
		}
		return &pool, nil
	}
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (l *Ledger) addToPool(caseID uint64, stake uint64) error {
	pool, err := l.loadPool(caseID)
	if err != nil {
		return err
	}
	pool.TotalCollected += stake
	pool.UpdatedAt = time.Now()
	return l.db.Save(pool).Error
}

func (l *Ledger) markCaseHasEvidence(caseID uint64) error {
	var q types.CaseQuality
	err := l.db.First(&q, "case_id = ?", caseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		q = types.CaseQuality{CaseID: caseID, HasEvidence: true}
		return l.db.Create(&q).Error
	}
	if err != nil {
		return err
	}
	if q.HasEvidence {
		return nil
	}
	q.HasEvidence = true
	return l.db.Save(&q).Error
}
