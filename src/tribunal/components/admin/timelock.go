package admin

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/components/notify"
	"github.com/stake-plus/tribunal/src/tribunal/data"
	"github.com/stake-plus/tribunal/src/tribunal/types"
)

var (
	ErrNotAuthority    = errors.New("caller may not propose changes")
	ErrUnknownKind     = errors.New("unknown change kind")
	ErrChangeNotFound  = errors.New("pending change not found")
	ErrChangeSpent     = errors.New("change already executed or cancelled")
	ErrDelayNotElapsed = errors.New("timelock delay not elapsed")
	ErrQuorumTooLow    = errors.New("quorum below the protocol minimum")
	ErrBadWeight       = errors.New("domain weight out of range")
	ErrZeroValue       = errors.New("value must be positive")
	ErrDomainNotFound  = errors.New("domain not registered")
)

const minQuorum = 2

// Change kinds
const (
	KindDomainWeight     = "domain_weight"
	KindDomainQuorum     = "domain_quorum"
	KindMinVoteStake     = "min_vote_stake"
	KindMinEvidenceStake = "min_evidence_stake"
	KindMinAppealStake   = "min_appeal_stake"
)

type Config struct {
	Delay     time.Duration
	Authority string
}

// Timelock runs administrative parameter changes through a two-stage
// propose-then-execute path. Proposals are validated twice: on entry and
// again at execution, since state may have changed during the delay.
type Timelock struct {
	db       *gorm.DB
	notifier notify.Notifier
	cfg      Config
	mu       sync.Mutex
}

func NewTimelock(db *gorm.DB, notifier notify.Notifier, cfg Config) *Timelock {
	if cfg.Delay <= 0 {
		cfg.Delay = 48 * time.Hour
	}
	return &Timelock{db: db, notifier: notifier, cfg: cfg}
}

// Propose stages a parameter change that becomes executable after the
// delay window.
func (t *Timelock) Propose(proposer, kind, target string, value uint64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if proposer != t.cfg.Authority {
		return 0, ErrNotAuthority
	}
	if err := t.validate(kind, target, value); err != nil {
		return 0, err
	}

	change := types.PendingChange{
		Kind:         kind,
		Target:       target,
		Value:        value,
		ProposedBy:   proposer,
		ExecuteAfter: time.Now().Add(t.cfg.Delay),
		CreatedAt:    time.Now(),
	}
	if err := t.db.Create(&change).Error; err != nil {
		return 0, err
	}
	t.notifier.Notify("change_proposed", map[string]interface{}{
		"change": change.ID, "kind": kind, "target": target, "value": value,
	})
	return change.ID, nil
}

// Cancel withdraws a staged change before it executes.
func (t *Timelock) Cancel(caller string, id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.cfg.Authority {
		return ErrNotAuthority
	}
	change, err := t.load(id)
	if err != nil {
		return err
	}
	if change.Executed || change.Cancelled {
		return ErrChangeSpent
	}
	change.Cancelled = true
	if err := t.db.Save(change).Error; err != nil {
		return err
	}
	t.notifier.Notify("change_cancelled", map[string]interface{}{"change": id})
	return nil
}

// Execute applies a staged change once the delay has elapsed.
func (t *Timelock) Execute(id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	change, err := t.load(id)
	if err != nil {
		return err
	}
	if change.Executed || change.Cancelled {
		return ErrChangeSpent
	}
	if time.Now().Before(change.ExecuteAfter) {
		return ErrDelayNotElapsed
	}
	if err := t.validate(change.Kind, change.Target, change.Value); err != nil {
		return err
	}
	if err := t.apply(change); err != nil {
		return err
	}

	change.Executed = true
	if err := t.db.Save(change).Error; err != nil {
		return err
	}
	t.notifier.Notify("change_executed", map[string]interface{}{
		"change": id, "kind": change.Kind, "target": change.Target, "value": change.Value,
	})
	return nil
}

func (t *Timelock) load(id uint64) (*types.PendingChange, error) {
	var change types.PendingChange
	if err := t.db.First(&change, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChangeNotFound
		}
		return nil, err
	}
	return &change, nil
}

func (t *Timelock) validate(kind, target string, value uint64) error {
	switch kind {
	case KindDomainWeight:
		if value == 0 || value > 20000 {
			return ErrBadWeight
		}
		var d types.Domain
		if err := t.db.First(&d, "name = ?", target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDomainNotFound
			}
			return err
		}
		return nil
	case KindDomainQuorum:
		if value < minQuorum {
			return ErrQuorumTooLow
		}
		return nil
	case KindMinVoteStake, KindMinEvidenceStake, KindMinAppealStake:
		if value == 0 {
			return ErrZeroValue
		}
		return nil
	default:
		return ErrUnknownKind
	}
}

func (t *Timelock) apply(change *types.PendingChange) error {
	switch change.Kind {
	case KindDomainWeight:
		var d types.Domain
		if err := t.db.First(&d, "name = ?", change.Target).Error; err != nil {
			return err
		}
		d.WeightBps = uint32(change.Value)
		return t.db.Save(&d).Error
	default:
		if err := t.upsertSetting(change.Kind, fmt.Sprintf("%d", change.Value)); err != nil {
			return err
		}
		return data.RefreshSettings(t.db)
	}
}

func (t *Timelock) upsertSetting(name, value string) error {
	var s types.Setting
	err := t.db.First(&s, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return t.db.Create(&types.Setting{Name: name, Value: value}).Error
	}
	if err != nil {
		return err
	}
	s.Value = value
	return t.db.Save(&s).Error
}
