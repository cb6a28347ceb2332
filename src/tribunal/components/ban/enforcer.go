package ban

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/components/crossdomain"
	"github.com/stake-plus/tribunal/src/tribunal/components/notify"
	"github.com/stake-plus/tribunal/src/tribunal/types"
)

var (
	ErrNotAuthority = errors.New("caller is not the moderation authority")
	ErrNotBanned    = errors.New("subject is not banned")
	ErrBadBanType   = errors.New("invalid ban type")
)

// Status is the tri-state result of a ban lookup. Callers decide what
// Unknown means via Policy instead of inferring it from a failed call.
type Status int

const (
	StatusNotBanned Status = iota
	StatusBanned
	StatusUnknown
)

// StatusChecker answers ban lookups; remote implementations may return
// StatusUnknown when unreachable.
type StatusChecker interface {
	Status(subject string) Status
}

// Policy fixes the unknown-status decision.
type Policy int

const (
	// FailOpen treats an unknown status as not banned.
	FailOpen Policy = iota
	// FailClosed treats an unknown status as banned.
	FailClosed
)

// PolicyChecker resolves tri-state lookups to a boolean under an explicit
// policy.
type PolicyChecker struct {
	Checker StatusChecker
	Policy  Policy
}

func (p PolicyChecker) Banned(subject string) bool {
	switch p.Checker.Status(subject) {
	case StatusBanned:
		return true
	case StatusNotBanned:
		return false
	default:
		return p.Policy == FailClosed
	}
}

type Config struct {
	Authority   string
	LocalDomain string
}

// Enforcer owns address- and agent-level ban records. Expiry is lazy: a
// record stays in place and IsActive evaluates it against the clock until
// ClearExpired sweeps it.
type Enforcer struct {
	db        *gorm.DB
	notifier  notify.Notifier
	transport crossdomain.Transport
	cfg       Config
	mu        sync.Mutex
}

func NewEnforcer(db *gorm.DB, notifier notify.Notifier, transport crossdomain.Transport, cfg Config) *Enforcer {
	return &Enforcer{db: db, notifier: notifier, transport: transport, cfg: cfg}
}

// ApplyAddressBan bans an address. Only the moderation authority may call
// it. A zero expiry means the ban is permanent.
func (e *Enforcer) ApplyAddressBan(caller, addr string, banType uint8, expiresAt time.Time, reason string, caseID uint64) error {
	if caller != e.cfg.Authority {
		return ErrNotAuthority
	}
	if banType < types.BanOnNotice || banType > types.BanPermanent {
		return ErrBadBanType
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyAddress(addr, banType, expiresAt, reason, caseID)
}

// RemoveAddressBan lifts an address ban.
func (e *Enforcer) RemoveAddressBan(caller, addr string) error {
	if caller != e.cfg.Authority {
		return ErrNotAuthority
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeAddress(addr, 0)
}

// ApplyAgentBan bans an agent, keeping its owner and slashed flag on record.
func (e *Enforcer) ApplyAgentBan(caller, agentID, owner string, banType uint8, expiresAt time.Time, reason string, caseID uint64, slashed bool) error {
	if caller != e.cfg.Authority {
		return ErrNotAuthority
	}
	if banType < types.BanOnNotice || banType > types.BanPermanent {
		return ErrBadBanType
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	var rec types.AgentBan
	err := e.db.First(&rec, "agent_id = ?", agentID).Error
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return err
	}
	if isNew {
		rec = types.AgentBan{AgentID: agentID}
	}
	rec.Owner = owner
	rec.Banned = true
	rec.Slashed = rec.Slashed || slashed
	rec.BanType = banType
	rec.BannedAt = now
	rec.ExpiresAt = expiresAt
	rec.Reason = reason
	rec.CaseID = caseID
	rec.UpdatedAt = now
	if err := e.saveAgent(&rec, isNew); err != nil {
		return err
	}
	e.notifier.Notify("agent_ban_applied", map[string]interface{}{"agent": agentID, "type": banType, "case": caseID})
	return nil
}

// RemoveAgentBan lifts an agent ban.
func (e *Enforcer) RemoveAgentBan(caller, agentID string) error {
	if caller != e.cfg.Authority {
		return ErrNotAuthority
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var rec types.AgentBan
	if err := e.db.First(&rec, "agent_id = ?", agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotBanned
		}
		return err
	}
	if !rec.Banned {
		return ErrNotBanned
	}
	rec.Banned = false
	rec.BanType = types.BanNone
	rec.UpdatedAt = time.Now()
	if err := e.db.Save(&rec).Error; err != nil {
		return err
	}
	e.notifier.Notify("agent_ban_removed", map[string]interface{}{"agent": agentID})
	return nil
}

// IsAddressBanned evaluates expiry lazily without mutating the record.
func (e *Enforcer) IsAddressBanned(addr string) (bool, error) {
	var rec types.BanRecord
	err := e.db.First(&rec, "address = ?", addr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return banActive(rec.Banned, rec.ExpiresAt), nil
}

// IsAgentBanned evaluates expiry lazily without mutating the record.
func (e *Enforcer) IsAgentBanned(agentID string) (bool, error) {
	var rec types.AgentBan
	err := e.db.First(&rec, "agent_id = ?", agentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return banActive(rec.Banned, rec.ExpiresAt), nil
}

// Status implements StatusChecker over the local store, which is always
// reachable; remote checkers may return StatusUnknown.
func (e *Enforcer) Status(subject string) Status {
	banned, err := e.IsAddressBanned(subject)
	if err != nil {
		return StatusUnknown
	}
	if banned {
		return StatusBanned
	}
	return StatusNotBanned
}

// ClearExpired sweeps records whose expiry has passed and returns how many
// were cleared.
func (e *Enforcer) ClearExpired() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	cleared := 0

	var addrs []types.BanRecord
	if err := e.db.Where("banned = ?", true).Find(&addrs).Error; err != nil {
		return 0, err
	}
	for i := range addrs {
		if addrs[i].ExpiresAt.IsZero() || now.Before(addrs[i].ExpiresAt) {
			continue
		}
		addrs[i].Banned = false
		addrs[i].BanType = types.BanNone
		addrs[i].UpdatedAt = now
		if err := e.db.Save(&addrs[i]).Error; err != nil {
			return cleared, err
		}
		cleared++
		e.notifier.Notify("ban_expired", map[string]interface{}{"address": addrs[i].Address})
	}

	var agents []types.AgentBan
	if err := e.db.Where("banned = ?", true).Find(&agents).Error; err != nil {
		return cleared, err
	}
	for i := range agents {
		if agents[i].ExpiresAt.IsZero() || now.Before(agents[i].ExpiresAt) {
			continue
		}
		agents[i].Banned = false
		agents[i].BanType = types.BanNone
		agents[i].UpdatedAt = now
		if err := e.db.Save(&agents[i]).Error; err != nil {
			return cleared, err
		}
		cleared++
		e.notifier.Notify("ban_expired", map[string]interface{}{"agent": agents[i].AgentID})
	}
	return cleared, nil
}

// Replicate forwards a ban decision to another domain over the transport.
func (e *Enforcer) Replicate(ctx context.Context, domain, addr string, banType uint8, expiresAt time.Time, reason string, caseID uint64) error {
	var expires int64
	if !expiresAt.IsZero() {
		expires = expiresAt.Unix()
	}
	payload, err := json.Marshal(crossdomain.Message{
		Type:      "ban",
		CaseID:    caseID,
		Target:    addr,
		BanType:   banType,
		ExpiresAt: expires,
		Reason:    reason,
	})
	if err != nil {
		return err
	}
	_, err = e.transport.Send(ctx, domain, payload)
	return err
}

// ApplyFromResolution applies a ban decided by a resolved case; no
// authority check, the resolution itself is the authorization.
func (e *Enforcer) ApplyFromResolution(target string, caseID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyAddress(target, types.BanChallenged, time.Time{}, "case resolution", caseID)
}

// ClearFromResolution lifts a ban after a resolution or appeal in the
// subject's favor. Clearing an address that was never banned is a no-op.
func (e *Enforcer) ClearFromResolution(target string, caseID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.removeAddress(target, caseID)
	if errors.Is(err, ErrNotBanned) {
		return nil
	}
	return err
}

// ApplyReplicated applies a ban replicated from another domain.
func (e *Enforcer) ApplyReplicated(target string, banType uint8, expiresAt time.Time, reason string, caseID uint64) error {
	if banType < types.BanOnNotice || banType > types.BanPermanent {
		return ErrBadBanType
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyAddress(target, banType, expiresAt, reason, caseID)
}

func (e *Enforcer) applyAddress(addr string, banType uint8, expiresAt time.Time, reason string, caseID uint64) error {
	now := time.Now()
	var rec types.BanRecord
	err := e.db.First(&rec, "address = ?", addr).Error
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return err
	}
	if isNew {
		rec = types.BanRecord{Address: addr}
	}
	rec.Banned = true
	rec.BanType = banType
	rec.BannedAt = now
	rec.ExpiresAt = expiresAt
	rec.Reason = reason
	rec.CaseID = caseID
	rec.UpdatedAt = now

	if isNew {
		err = e.db.Create(&rec).Error
	} else {
		err = e.db.Save(&rec).Error
	}
	if err != nil {
		return err
	}
	e.notifier.Notify("ban_applied", map[string]interface{}{"address": addr, "type": banType, "case": caseID})
	return nil
}

func (e *Enforcer) removeAddress(addr string, caseID uint64) error {
	var rec types.BanRecord
	if err := e.db.First(&rec, "address = ?", addr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotBanned
		}
		return err
	}
	if !rec.Banned {
		return ErrNotBanned
	}
	rec.Banned = false
	rec.BanType = types.BanNone
	rec.UpdatedAt = time.Now()
	if err := e.db.Save(&rec).Error; err != nil {
		return err
	}
	e.notifier.Notify("ban_removed", map[string]interface{}{"address": addr, "case": caseID})
	return nil
}

func (e *Enforcer) saveAgent(rec *types.AgentBan, isNew bool) error {
	if isNew {
		return e.db.Create(rec).Error
	}
	return e.db.Save(rec).Error
}

// banActive is the lazy expiry rule: zero expiry means permanent.
func banActive(banned bool, expiresAt time.Time) bool {
	if !banned {
		return false
	}
	if expiresAt.IsZero() {
		return true
	}
	return time.Now().Before(expiresAt)
}
