package voting

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/components/notify"
	"github.com/stake-plus/tribunal/src/tribunal/components/payout"
	"github.com/stake-plus/tribunal/src/tribunal/data"
	"github.com/stake-plus/tribunal/src/tribunal/types"
)

var (
	ErrCaseNotFound     = errors.New("case not found")
	ErrCaseExists       = errors.New("case already registered")
	ErrCommitClosed     = errors.New("commit phase closed")
	ErrRevealNotOpen    = errors.New("reveal phase not open")
	ErrStakeTooLow      = errors.New("stake below minimum")
	ErrAlreadyCommitted = errors.New("voter already committed")
	ErrNoCommit         = errors.New("no commit for voter")
	ErrAlreadyRevealed  = errors.New("vote already revealed")
	ErrHashMismatch     = errors.New("reveal does not match commit")
	ErrAlreadyResolved  = errors.New("case already resolved")
	ErrRevealNotEnded   = errors.New("reveal phase still open")
	ErrForfeitsPending  = errors.New("unrevealed commits not yet forfeited")
	ErrNotResolved      = errors.New("case not resolved")
	ErrNotWinner        = errors.New("vote did not back the outcome")
	ErrVoteForfeited    = errors.New("vote was forfeited")
	ErrAlreadyClaimed   = errors.New("reward already claimed")
)

type Config struct {
	MinStake     uint64
	FeeBps       uint64
	ForfeitBatch int
	Treasury     string
}

// Engine runs the commit-reveal lifecycle for a case: commits while the
// voting window is open, reveals until RevealEnd, batched forfeiture of
// non-revealers, then resolution and pull-style reward claims.
type Engine struct {
	db       *gorm.DB
	payouts  *payout.Ledger
	notifier notify.Notifier
	cfg      Config
	mu       sync.Mutex
}

func NewEngine(db *gorm.DB, payouts *payout.Ledger, notifier notify.Notifier, cfg Config) *Engine {
	if cfg.ForfeitBatch <= 0 {
		cfg.ForfeitBatch = 100
	}
	return &Engine{db: db, payouts: payouts, notifier: notifier, cfg: cfg}
}

// minStake reads the live minimum, so an executed parameter change applies
// to the next commit without a restart.
func (e *Engine) minStake() uint64 {
	return data.GetSettingUint("min_vote_stake", e.cfg.MinStake)
}

// CommitHash binds a hidden vote to the case and the voter so a commitment
// cannot be replayed by anyone else or on another case.
func CommitHash(caseID uint64, position bool, salt, voter string) string {
	var buf [9]byte
	binary.LittleEndian.PutUint64(buf[:8], caseID)
	if position {
		buf[8] = 1
	}
	h, _ := blake2b.New256(nil)
	h.Write(buf[:])
	h.Write([]byte(salt))
	h.Write([]byte(voter))
	return hex.EncodeToString(h.Sum(nil))
}

// RegisterCase accepts a new dispute from the case-opening authority.
func (e *Engine) RegisterCase(id uint64, subject, agentID, openedBy string, votingEnd, revealEnd time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var existing types.Case
	if err := e.db.First(&existing, "id = ?", id).Error; err == nil {
		return ErrCaseExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if !revealEnd.After(votingEnd) {
		return fmt.Errorf("reveal end %v not after voting end %v", revealEnd, votingEnd)
	}

	c := types.Case{
		ID:        id,
		Subject:   subject,
		AgentID:   agentID,
		OpenedBy:  openedBy,
		VotingEnd: votingEnd,
		RevealEnd: revealEnd,
	}
	if err := e.db.Create(&c).Error; err != nil {
		return err
	}
	e.notifier.Notify("case_registered", map[string]interface{}{"case": id, "subject": subject})
	return nil
}

// Commit locks stake behind a hidden vote. One commit per voter per case.
func (e *Engine) Commit(caseID uint64, voter, commitHash string, stake uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.loadCase(caseID)
	if err != nil {
		return err
	}
	if c.Resolved {
		return ErrAlreadyResolved
	}
	if time.Now().After(c.VotingEnd) {
		return ErrCommitClosed
	}
	if stake < e.minStake() {
		return ErrStakeTooLow
	}

	var existing types.VoteCommit
	if err := e.db.First(&existing, "case_id = ? AND voter = ?", caseID, voter).Error; err == nil {
		return ErrAlreadyCommitted
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	vc := types.VoteCommit{
		CaseID:      caseID,
		Voter:       voter,
		CommitHash:  commitHash,
		Stake:       stake,
		CommittedAt: time.Now(),
	}
	if err := e.db.Create(&vc).Error; err != nil {
		return err
	}

	c.TotalStaked += stake
	if err := e.db.Save(c).Error; err != nil {
		return err
	}
	e.notifier.Notify("vote_committed", map[string]interface{}{"case": caseID, "voter": voter, "stake": stake})
	return nil
}

// Reveal discloses the vote behind a commitment. The revealed position and
// salt must hash back to the stored commitment.
func (e *Engine) Reveal(caseID uint64, voter string, position bool, salt string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.loadCase(caseID)
	if err != nil {
		return err
	}
	now := time.Now()
	if !now.After(c.VotingEnd) || now.After(c.RevealEnd) {
		return ErrRevealNotOpen
	}

	var vc types.VoteCommit
	if err := e.db.First(&vc, "case_id = ? AND voter = ?", caseID, voter).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoCommit
		}
		return err
	}
	if vc.Revealed {
		return ErrAlreadyRevealed
	}
	if vc.Forfeited {
		return ErrVoteForfeited
	}
	if CommitHash(caseID, position, salt, voter) != vc.CommitHash {
		return ErrHashMismatch
	}

	vc.Revealed = true
	vc.Position = position
	vc.RevealedAt = &now
	if err := e.db.Save(&vc).Error; err != nil {
		return err
	}
	e.notifier.Notify("vote_revealed", map[string]interface{}{"case": caseID, "voter": voter})
	return nil
}

// ProcessForfeits marks up to one batch of unrevealed commits as forfeited.
// It returns how many were processed and how many remain; resolution is
// blocked until the remainder reaches zero.
func (e *Engine) ProcessForfeits(caseID uint64) (processed int, remaining int64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.loadCase(caseID)
	if err != nil {
		return 0, 0, err
	}
	if c.Resolved {
		return 0, 0, ErrAlreadyResolved
	}
	if !time.Now().After(c.RevealEnd) {
		return 0, 0, ErrRevealNotEnded
	}

	var batch []types.VoteCommit
	err = e.db.Where("case_id = ? AND revealed = ? AND forfeited = ?", caseID, false, false).
		Limit(e.cfg.ForfeitBatch).Find(&batch).Error
	if err != nil {
		return 0, 0, err
	}

	for i := range batch {
		batch[i].Forfeited = true
		if err := e.db.Save(&batch[i]).Error; err != nil {
			return processed, 0, err
		}
		c.ForfeitPool += batch[i].Stake
		processed++
	}
	if err := e.db.Save(c).Error; err != nil {
		return processed, 0, err
	}

	err = e.db.Model(&types.VoteCommit{}).
		Where("case_id = ? AND revealed = ? AND forfeited = ?", caseID, false, false).
		Count(&remaining).Error
	if err != nil {
		return processed, 0, err
	}
	if processed > 0 {
		e.notifier.Notify("votes_forfeited", map[string]interface{}{"case": caseID, "count": processed})
	}
	return processed, remaining, nil
}

// Resolve tallies revealed stakes and fixes the outcome. Exact ties resolve
// to no action. The loser pool plus all forfeited stakes, minus the protocol
// fee, becomes the reward pool for the winning side.
func (e *Engine) Resolve(caseID uint64) (uint8, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.loadCase(caseID)
	if err != nil {
		return types.OutcomePending, err
	}
	if c.Resolved {
		return types.OutcomePending, ErrAlreadyResolved
	}
	if !time.Now().After(c.RevealEnd) {
		return types.OutcomePending, ErrRevealNotEnded
	}

	var pending int64
	err = e.db.Model(&types.VoteCommit{}).
		Where("case_id = ? AND revealed = ? AND forfeited = ?", caseID, false, false).
		Count(&pending).Error
	if err != nil {
		return types.OutcomePending, err
	}
	if pending > 0 {
		return types.OutcomePending, ErrForfeitsPending
	}

	forStake, againstStake, err := e.tally(caseID)
	if err != nil {
		return types.OutcomePending, err
	}

	outcome := types.OutcomeRejected
	winStake, loseStake := againstStake, forStake
	if forStake > againstStake {
		outcome = types.OutcomeAction
		winStake, loseStake = forStake, againstStake
	}

	pool := loseStake + c.ForfeitPool
	fee := pool * e.cfg.FeeBps / 10000
	rewardPool := pool - fee
	if winStake == 0 {
		// nobody backed the outcome; the whole pool goes to the treasury
		fee += rewardPool
		rewardPool = 0
	}
	if fee > 0 {
		if err := e.payouts.Credit(e.cfg.Treasury, fee); err != nil {
			return types.OutcomePending, err
		}
	}

	c.Resolved = true
	c.Outcome = outcome
	c.WinningStake = winStake
	c.RewardPool = rewardPool
	if err := e.db.Save(c).Error; err != nil {
		return types.OutcomePending, err
	}

	if err := e.recordQualityStats(c, forStake, againstStake); err != nil {
		return types.OutcomePending, err
	}

	e.notifier.Notify("case_resolved", map[string]interface{}{
		"case": caseID, "outcome": outcome, "for": forStake, "against": againstStake,
	})
	return outcome, nil
}

// Claim credits a winning voter's stake plus reward share to the payout
// ledger. Idempotent per (case, voter) via the claimed flag.
func (e *Engine) Claim(caseID uint64, voter string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.loadCase(caseID)
	if err != nil {
		return 0, err
	}
	if !c.Resolved {
		return 0, ErrNotResolved
	}

	var vc types.VoteCommit
	if err := e.db.First(&vc, "case_id = ? AND voter = ?", caseID, voter).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNoCommit
		}
		return 0, err
	}
	if vc.Claimed {
		return 0, ErrAlreadyClaimed
	}
	if vc.Forfeited {
		return 0, ErrVoteForfeited
	}
	won := vc.Revealed && ((c.Outcome == types.OutcomeAction) == vc.Position)
	if !won {
		return 0, ErrNotWinner
	}

	amount := vc.Stake
	if c.WinningStake > 0 {
		amount += vc.Stake * c.RewardPool / c.WinningStake
	}

	vc.Claimed = true
	if err := e.db.Save(&vc).Error; err != nil {
		return 0, err
	}
	c.ClaimedTotal += amount
	if err := e.db.Save(c).Error; err != nil {
		return 0, err
	}
	if err := e.payouts.Credit(voter, amount); err != nil {
		return 0, err
	}
	e.notifier.Notify("rewards_claimed", map[string]interface{}{"case": caseID, "voter": voter, "amount": amount})
	return amount, nil
}

// Tally returns the revealed stake totals for and against the action.
func (e *Engine) Tally(caseID uint64) (forStake, againstStake uint64, err error) {
	if _, err := e.loadCase(caseID); err != nil {
		return 0, 0, err
	}
	return e.tally(caseID)
}

// GetCase returns the stored case record.
func (e *Engine) GetCase(caseID uint64) (*types.Case, error) {
	return e.loadCase(caseID)
}

func (e *Engine) tally(caseID uint64) (forStake, againstStake uint64, err error) {
	var revealed []types.VoteCommit
	err = e.db.Where("case_id = ? AND revealed = ?", caseID, true).Find(&revealed).Error
	if err != nil {
		return 0, 0, err
	}
	for _, vc := range revealed {
		if vc.Position {
			forStake += vc.Stake
		} else {
			againstStake += vc.Stake
		}
	}
	return forStake, againstStake, nil
}

func (e *Engine) loadCase(caseID uint64) (*types.Case, error) {
	var c types.Case
	if err := e.db.First(&c, "id = ?", caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}
	return &c, nil
}

// recordQualityStats mirrors the final tally into the case quality record so
// auto-assessment can derive a tier from stake, margin and evidence presence.
func (e *Engine) recordQualityStats(c *types.Case, forStake, againstStake uint64) error {
	var q types.CaseQuality
	err := e.db.First(&q, "case_id = ?", c.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		q = types.CaseQuality{
			CaseID:       c.ID,
			VotesFor:     forStake,
			VotesAgainst: againstStake,
			TotalStake:   c.TotalStaked,
		}
		return e.db.Create(&q).Error
	}
	if err != nil {
		return err
	}
	q.VotesFor = forStake
	q.VotesAgainst = againstStake
	q.TotalStake = c.TotalStaked
	return e.db.Save(&q).Error
}
