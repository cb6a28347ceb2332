package crossdomain

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/components/notify"
	"github.com/stake-plus/tribunal/src/tribunal/data"
	"github.com/stake-plus/tribunal/src/tribunal/types"
)

var (
	ErrNotHub              = errors.New("operation only valid on the hub domain")
	ErrCrossCaseExists     = errors.New("case already escalated")
	ErrCrossCaseNotFound   = errors.New("cross-domain case not found")
	ErrUnknownDomain       = errors.New("domain not registered")
	ErrUnauthorizedSender  = errors.New("sender not authorized for domain")
	ErrAlreadySubmitted    = errors.New("domain already submitted votes")
	ErrVotingClosed        = errors.New("cross-domain voting period ended")
	ErrVotingOpen          = errors.New("cross-domain voting period still open")
	ErrAlreadyResolved     = errors.New("cross-domain case already resolved")
	ErrInsufficientDomains = errors.New("insufficient participating domains")
)

// votingPeriod is fixed for every escalated case.
const votingPeriod = 5 * 24 * time.Hour

// Message is the wire format between domains.
type Message struct {
	Type      string `json:"type"` // escalate | votes | resolution | ban | unban
	CaseID    uint64 `json:"caseId"`
	Target    string `json:"target,omitempty"`
	Yes       uint64 `json:"yes,omitempty"`
	No        uint64 `json:"no,omitempty"`
	Outcome   uint8  `json:"outcome,omitempty"`
	BanType   uint8  `json:"banType,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// BanApplier applies hub resolutions locally on each domain.
type BanApplier interface {
	ApplyFromResolution(target string, caseID uint64) error
	ClearFromResolution(target string, caseID uint64) error
	ApplyReplicated(target string, banType uint8, expiresAt time.Time, reason string, caseID uint64) error
}

type Config struct {
	LocalDomain string
	HubDomain   string
	Quorum      int
}

// Arbitrator aggregates weighted domain votes at the hub and broadcasts the
// final resolution back to every registered domain. Inbound handling is
// idempotent under at-least-once delivery.
type Arbitrator struct {
	db        *gorm.DB
	transport Transport
	notifier  notify.Notifier
	enforcer  BanApplier
	cfg       Config
	mu        sync.Mutex
}

func NewArbitrator(db *gorm.DB, transport Transport, notifier notify.Notifier, enforcer BanApplier, cfg Config) *Arbitrator {
	if cfg.Quorum < 2 {
		cfg.Quorum = 2
	}
	return &Arbitrator{db: db, transport: transport, notifier: notifier, enforcer: enforcer, cfg: cfg}
}

func (a *Arbitrator) isHub() bool {
	return a.cfg.LocalDomain == a.cfg.HubDomain
}

// quorum reads the live domain quorum so an executed parameter change
// applies to the next resolution without a restart. Values below the
// protocol minimum of 2 fall back to the wired config.
func (a *Arbitrator) quorum() int {
	if q := int(data.GetSettingUint("domain_quorum", 0)); q >= 2 {
		return q
	}
	return a.cfg.Quorum
}

// RegisterDomain adds a domain with its vote weight in basis points, or
// updates the weight of an existing one.
func (a *Arbitrator) RegisterDomain(name string, weightBps uint32) error {
	var d types.Domain
	err := a.db.First(&d, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return a.db.Create(&types.Domain{Name: name, WeightBps: weightBps, Active: true}).Error
	}
	if err != nil {
		return err
	}
	d.WeightBps = weightBps
	d.Active = true
	return a.db.Save(&d).Error
}

// AuthorizeSender allows sender to speak for domain.
func (a *Arbitrator) AuthorizeSender(domain, sender string) error {
	var ds types.DomainSender
	err := a.db.First(&ds, "domain = ? AND sender = ?", domain, sender).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return a.db.Create(&types.DomainSender{Domain: domain, Sender: sender}).Error
}

// Escalate opens cross-domain aggregation for a case. On the hub this
// creates the aggregate directly; on a spoke it messages the hub.
func (a *Arbitrator) Escalate(ctx context.Context, caseID uint64, target string) error {
	if !a.isHub() {
		payload, err := json.Marshal(Message{Type: "escalate", CaseID: caseID, Target: target})
		if err != nil {
			return err
		}
		_, err = a.transport.Send(ctx, a.cfg.HubDomain, payload)
		return err
	}
	return a.openCase(caseID, a.cfg.LocalDomain, target)
}

// SubmitVotes forwards this domain's local weighted totals to the hub.
func (a *Arbitrator) SubmitVotes(ctx context.Context, caseID, yes, no uint64) error {
	if a.isHub() {
		return a.recordDomainVotes(caseID, a.cfg.LocalDomain, yes, no)
	}
	payload, err := json.Marshal(Message{Type: "votes", CaseID: caseID, Yes: yes, No: no})
	if err != nil {
		return err
	}
	_, err = a.transport.Send(ctx, a.cfg.HubDomain, payload)
	return err
}

// Resolve finalizes an escalated case at the hub. It requires the voting
// period to have ended and at least the quorum of distinct participating
// domains, then broadcasts the outcome everywhere.
func (a *Arbitrator) Resolve(ctx context.Context, caseID uint64) (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isHub() {
		return types.OutcomePending, ErrNotHub
	}

	var cc types.CrossDomainCase
	if err := a.db.First(&cc, "case_id = ?", caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.OutcomePending, ErrCrossCaseNotFound
		}
		return types.OutcomePending, err
	}
	if cc.Resolved {
		return types.OutcomePending, ErrAlreadyResolved
	}
	if !time.Now().After(cc.VotingEnds) {
		return types.OutcomePending, ErrVotingOpen
	}

	var votes []types.DomainVote
	if err := a.db.Where("case_id = ?", caseID).Find(&votes).Error; err != nil {
		return types.OutcomePending, err
	}
	if len(votes) < a.quorum() {
		return types.OutcomePending, ErrInsufficientDomains
	}

	var yes, no uint64
	for _, v := range votes {
		yes += v.WeightedYes
		no += v.WeightedNo
	}
	outcome := types.OutcomeRejected
	if yes > no {
		outcome = types.OutcomeAction
	}

	cc.Resolved = true
	cc.Outcome = outcome
	if err := a.db.Save(&cc).Error; err != nil {
		return types.OutcomePending, err
	}

	a.applyResolutionLocally(cc.Target, caseID, outcome)
	a.broadcastResolution(ctx, &cc)
	a.notifier.Notify("crossdomain_resolved", map[string]interface{}{
		"case": caseID, "outcome": outcome, "domains": len(votes), "yes": yes, "no": no,
	})
	return outcome, nil
}

// HandleMessage is the transport receive path: dedup, sender authorization,
// then dispatch. Replays return nil so redelivery stays harmless.
func (a *Arbitrator) HandleMessage(origin, sender string, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	hash := MessageHash(origin, sender, payload)
	var seen types.ProcessedMessage
	if err := a.db.First(&seen, "hash = ?", hash).Error; err == nil {
		log.Printf("crossdomain: duplicate message %s from %s dropped", hash, origin)
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if err := a.authorize(origin, sender); err != nil {
		return err
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}

	var err error
	switch msg.Type {
	case "escalate":
		if !a.isHub() {
			err = ErrNotHub
		} else {
			err = a.openCase(msg.CaseID, origin, msg.Target)
		}
	case "votes":
		if !a.isHub() {
			err = ErrNotHub
		} else {
			// the vote is attributed to the verified origin, never the payload
			err = a.recordDomainVotes(msg.CaseID, origin, msg.Yes, msg.No)
		}
	case "resolution":
		a.applyResolutionLocally(msg.Target, msg.CaseID, msg.Outcome)
	case "ban":
		var expires time.Time
		if msg.ExpiresAt > 0 {
			expires = time.Unix(msg.ExpiresAt, 0)
		}
		err = a.enforcer.ApplyReplicated(msg.Target, msg.BanType, expires, msg.Reason, msg.CaseID)
	case "unban":
		err = a.enforcer.ClearFromResolution(msg.Target, msg.CaseID)
	default:
		log.Printf("crossdomain: unknown message type %q from %s", msg.Type, origin)
	}
	if err != nil {
		return err
	}

	return a.db.Create(&types.ProcessedMessage{
		Hash:       hash,
		Origin:     origin,
		ReceivedAt: time.Now(),
	}).Error
}

// Status returns the aggregate and per-domain submissions for a case.
func (a *Arbitrator) Status(caseID uint64) (*types.CrossDomainCase, []types.DomainVote, error) {
	var cc types.CrossDomainCase
	if err := a.db.First(&cc, "case_id = ?", caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrCrossCaseNotFound
		}
		return nil, nil, err
	}
	var votes []types.DomainVote
	if err := a.db.Where("case_id = ?", caseID).Find(&votes).Error; err != nil {
		return nil, nil, err
	}
	return &cc, votes, nil
}

func (a *Arbitrator) authorize(origin, sender string) error {
	var d types.Domain
	if err := a.db.First(&d, "name = ? AND active = ?", origin, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownDomain
		}
		return err
	}
	var ds types.DomainSender
	if err := a.db.First(&ds, "domain = ? AND sender = ?", origin, sender).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnauthorizedSender
		}
		return err
	}
	return nil
}

func (a *Arbitrator) openCase(caseID uint64, originDomain, target string) error {
	var existing types.CrossDomainCase
	if err := a.db.First(&existing, "case_id = ?", caseID).Error; err == nil {
		return ErrCrossCaseExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	cc := types.CrossDomainCase{
		CaseID:       caseID,
		OriginDomain: originDomain,
		Target:       target,
		VotingEnds:   time.Now().Add(votingPeriod),
		CreatedAt:    time.Now(),
	}
	if err := a.db.Create(&cc).Error; err != nil {
		return err
	}
	a.notifier.Notify("case_escalated", map[string]interface{}{"case": caseID, "origin": originDomain})
	return nil
}

func (a *Arbitrator) recordDomainVotes(caseID uint64, domain string, yes, no uint64) error {
	var cc types.CrossDomainCase
	if err := a.db.First(&cc, "case_id = ?", caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCrossCaseNotFound
		}
		return err
	}
	if cc.Resolved {
		return ErrAlreadyResolved
	}
	if time.Now().After(cc.VotingEnds) {
		return ErrVotingClosed
	}

	var d types.Domain
	if err := a.db.First(&d, "name = ? AND active = ?", domain, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownDomain
		}
		return err
	}

	var existing types.DomainVote
	if err := a.db.First(&existing, "case_id = ? AND domain = ?", caseID, domain).Error; err == nil {
		return ErrAlreadySubmitted
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	dv := types.DomainVote{
		CaseID:      caseID,
		Domain:      domain,
		WeightedYes: yes * uint64(d.WeightBps) / 10000,
		WeightedNo:  no * uint64(d.WeightBps) / 10000,
		SubmittedAt: time.Now(),
	}
	if err := a.db.Create(&dv).Error; err != nil {
		return err
	}
	a.notifier.Notify("domain_votes_received", map[string]interface{}{"case": caseID, "domain": domain})
	return nil
}

func (a *Arbitrator) applyResolutionLocally(target string, caseID uint64, outcome uint8) {
	var err error
	if outcome == types.OutcomeAction {
		err = a.enforcer.ApplyFromResolution(target, caseID)
	} else {
		err = a.enforcer.ClearFromResolution(target, caseID)
	}
	if err != nil {
		log.Printf("crossdomain: applying resolution for case %d: %v", caseID, err)
	}
}

func (a *Arbitrator) broadcastResolution(ctx context.Context, cc *types.CrossDomainCase) {
	payload, err := json.Marshal(Message{
		Type:    "resolution",
		CaseID:  cc.CaseID,
		Target:  cc.Target,
		Outcome: cc.Outcome,
	})
	if err != nil {
		log.Printf("crossdomain: marshal resolution: %v", err)
		return
	}

	var domains []types.Domain
	if err := a.db.Where("active = ?", true).Find(&domains).Error; err != nil {
		log.Printf("crossdomain: list domains: %v", err)
		return
	}
	for _, d := range domains {
		if d.Name == a.cfg.LocalDomain {
			continue
		}
		if _, err := a.transport.Send(ctx, d.Name, payload); err != nil {
			log.Printf("crossdomain: broadcast to %s: %v", d.Name, err)
		}
	}
}
