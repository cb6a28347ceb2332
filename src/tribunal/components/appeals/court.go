package appeals

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/components/ban"
	"github.com/stake-plus/tribunal/src/tribunal/components/notify"
	"github.com/stake-plus/tribunal/src/tribunal/components/payout"
	"github.com/stake-plus/tribunal/src/tribunal/data"
	"github.com/stake-plus/tribunal/src/tribunal/types"
)

var (
	ErrStakeTooLow        = errors.New("appeal stake below minimum")
	ErrCaseNotFound       = errors.New("original case not found")
	ErrCaseNotActionable  = errors.New("case did not result in action")
	ErrAppellantNotBanned = errors.New("appellant is not banned")
	ErrActiveAppeal       = errors.New("case already has an active appeal")
	ErrAppealNotFound     = errors.New("appeal not found")
	ErrWrongStatus        = errors.New("appeal is not in the required state")
	ErrNotBoardMember     = errors.New("voter is not on the review board")
	ErrAlreadyVoted       = errors.New("board member already voted")
	ErrReviewClosed       = errors.New("review window closed")
	ErrReviewOpen         = errors.New("review window still open")
	ErrTooFewVotes        = errors.New("not enough board votes")
	ErrNotAuthority       = errors.New("caller is not the final authority")
)

const reviewWindow = 7 * 24 * time.Hour

// BanLifter clears a ban when an appeal is decided in the appellant's favor.
type BanLifter interface {
	ClearFromResolution(target string, caseID uint64) error
}

type Config struct {
	MinStake      uint64
	MinBoardVotes int
	Authority     string
	InsuranceFund string
	Board         map[string]bool
}

// Court runs the two-stage review of a ban: a peer board votes within a
// fixed window, then the final authority renders the binding decision and
// disposes of the appellant's stake.
type Court struct {
	db       *gorm.DB
	payouts  *payout.Ledger
	notifier notify.Notifier
	banCheck ban.PolicyChecker
	lifter   BanLifter
	cfg      Config
	mu       sync.Mutex
}

func NewCourt(db *gorm.DB, payouts *payout.Ledger, notifier notify.Notifier, banCheck ban.PolicyChecker, lifter BanLifter, cfg Config) *Court {
	if cfg.MinBoardVotes <= 0 {
		cfg.MinBoardVotes = 3
	}
	return &Court{db: db, payouts: payouts, notifier: notifier, banCheck: banCheck, lifter: lifter, cfg: cfg}
}

// minStake reads the live minimum so executed parameter changes apply
// without a restart.
func (c *Court) minStake() uint64 {
	return data.GetSettingUint("min_appeal_stake", c.cfg.MinStake)
}

// File opens an appeal against a resolved case. The stake minimum is
// checked before anything else so a short stake never moves value.
func (c *Court) File(appellant string, caseID uint64, stake uint64, evidenceRef string) (string, error) {
	if stake < c.minStake() {
		return "", ErrStakeTooLow
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var orig types.Case
	if err := c.db.First(&orig, "id = ?", caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrCaseNotFound
		}
		return "", err
	}
	if !orig.Resolved || orig.Outcome != types.OutcomeAction {
		return "", ErrCaseNotActionable
	}
	if !c.banCheck.Banned(appellant) {
		return "", ErrAppellantNotBanned
	}
	if orig.ActiveAppeal {
		return "", ErrActiveAppeal
	}

	now := time.Now()
	appeal := types.Appeal{
		ID:          uuid.NewString(),
		CaseID:      caseID,
		Appellant:   appellant,
		Stake:       stake,
		EvidenceRef: evidenceRef,
		Status:      types.AppealFiled,
		ReviewEnds:  now.Add(reviewWindow),
		CreatedAt:   now,
	}
	if err := c.db.Create(&appeal).Error; err != nil {
		return "", err
	}
	orig.ActiveAppeal = true
	if err := c.db.Save(&orig).Error; err != nil {
		return "", err
	}

	c.notifier.Notify("appeal_filed", map[string]interface{}{
		"appeal": appeal.ID, "case": caseID, "appellant": appellant, "stake": stake,
	})
	return appeal.ID, nil
}

// BoardVote records one board member's position. The first vote moves the
// appeal into board review.
func (c *Court) BoardVote(appealID, member string, restore bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Board[member] {
		return ErrNotBoardMember
	}

	appeal, err := c.load(appealID)
	if err != nil {
		return err
	}
	if appeal.Status != types.AppealFiled && appeal.Status != types.AppealBoardReview {
		return ErrWrongStatus
	}
	if time.Now().After(appeal.ReviewEnds) {
		return ErrReviewClosed
	}

	var existing types.AppealVote
	if err := c.db.First(&existing, "appeal_id = ? AND member = ?", appealID, member).Error; err == nil {
		return ErrAlreadyVoted
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	vote := types.AppealVote{AppealID: appealID, Member: member, Restore: restore, CreatedAt: time.Now()}
	if err := c.db.Create(&vote).Error; err != nil {
		return err
	}

	if restore {
		appeal.VotesRestore++
	} else {
		appeal.VotesUphold++
	}
	appeal.Status = types.AppealBoardReview
	if err := c.db.Save(appeal).Error; err != nil {
		return err
	}
	c.notifier.Notify("appeal_voted", map[string]interface{}{"appeal": appealID, "member": member, "restore": restore})
	return nil
}

// CompleteReview closes the board stage once the window has passed and
// enough votes are in, handing the appeal to the final authority.
func (c *Court) CompleteReview(appealID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	appeal, err := c.load(appealID)
	if err != nil {
		return err
	}
	if appeal.Status != types.AppealBoardReview {
		return ErrWrongStatus
	}
	if !time.Now().After(appeal.ReviewEnds) {
		return ErrReviewOpen
	}
	if int(appeal.VotesRestore+appeal.VotesUphold) < c.cfg.MinBoardVotes {
		return ErrTooFewVotes
	}

	appeal.Status = types.AppealDirectorDecision
	if err := c.db.Save(appeal).Error; err != nil {
		return err
	}
	c.notifier.Notify("appeal_review_complete", map[string]interface{}{
		"appeal": appealID, "restore": appeal.VotesRestore, "uphold": appeal.VotesUphold,
	})
	return nil
}

// FinalDecision renders the binding outcome. Restoring returns the stake
// and lifts the ban; rejecting forfeits the stake to the insurance fund.
func (c *Court) FinalDecision(appealID, caller string, restore bool, reasoning string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.cfg.Authority {
		return ErrNotAuthority
	}

	appeal, err := c.load(appealID)
	if err != nil {
		return err
	}
	if appeal.Status != types.AppealDirectorDecision {
		return ErrWrongStatus
	}

	now := time.Now()
	appeal.Status = types.AppealResolved
	appeal.Decision = reasoning
	appeal.DecidedBy = caller
	appeal.Restored = restore
	appeal.ResolvedAt = &now
	if err := c.db.Save(appeal).Error; err != nil {
		return err
	}

	var orig types.Case
	if err := c.db.First(&orig, "id = ?", appeal.CaseID).Error; err == nil {
		orig.ActiveAppeal = false
		if err := c.db.Save(&orig).Error; err != nil {
			return err
		}
		if restore {
			if err := c.lifter.ClearFromResolution(orig.Subject, orig.ID); err != nil {
				return err
			}
		}
	}

	if restore {
		if err := c.payouts.Credit(appeal.Appellant, appeal.Stake); err != nil {
			return err
		}
	} else {
		if err := c.payouts.Credit(c.cfg.InsuranceFund, appeal.Stake); err != nil {
			return err
		}
	}

	c.notifier.Notify("appeal_resolved", map[string]interface{}{
		"appeal": appealID, "restored": restore,
	})
	return nil
}

// Status returns the appeal record and its tallies.
func (c *Court) Status(appealID string) (*types.Appeal, error) {
	return c.load(appealID)
}

func (c *Court) load(appealID string) (*types.Appeal, error) {
	var appeal types.Appeal
	if err := c.db.First(&appeal, "id = ?", appealID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAppealNotFound
		}
		return nil, err
	}
	return &appeal, nil
}
