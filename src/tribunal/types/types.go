package types

import "time"

// Case outcomes
const (
	OutcomePending  uint8 = 0
	OutcomeAction   uint8 = 1 // ban upheld
	OutcomeRejected uint8 = 2 // presumption of innocence
)

// Evidence status
const (
	EvidenceActive   uint8 = 0
	EvidenceRewarded uint8 = 1
	EvidenceSlashed  uint8 = 2
)

// Case quality tiers
const (
	QualityUnknown uint8 = 0
	QualityLow     uint8 = 1
	QualityMedium  uint8 = 2
	QualityHigh    uint8 = 3
)

// Ban types
const (
	BanNone       uint8 = 0
	BanOnNotice   uint8 = 1
	BanChallenged uint8 = 2
	BanPermanent  uint8 = 3
)

// Appeal statuses
const (
	AppealFiled            uint8 = 1
	AppealBoardReview      uint8 = 2
	AppealDirectorDecision uint8 = 3
	AppealResolved         uint8 = 4
)

// Disputes under review. VotingEnd closes both the commit phase and the
// evidence window; reveals run until RevealEnd.
type Case struct {
	ID           uint64 `gorm:"primaryKey"`
	Subject      string `gorm:"size:128;index;not null"`
	AgentID      string `gorm:"size:128"`
	OpenedBy     string `gorm:"size:128"`
	VotingEnd    time.Time
	RevealEnd    time.Time
	Resolved     bool   `gorm:"default:false"`
	Outcome      uint8  `gorm:"default:0"`
	ActiveAppeal bool   `gorm:"default:false"`
	TotalStaked  uint64 `gorm:"default:0"`
	WinningStake uint64 `gorm:"default:0"`
	RewardPool   uint64 `gorm:"default:0"`
	ForfeitPool  uint64 `gorm:"default:0"`
	ClaimedTotal uint64 `gorm:"default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// One commit per (case, voter); mutated once on reveal, never deleted
type VoteCommit struct {
	CaseID      uint64 `gorm:"primaryKey;autoIncrement:false"`
	Voter       string `gorm:"primaryKey;size:128"`
	CommitHash  string `gorm:"size:64;not null"`
	Stake       uint64 `gorm:"not null"`
	Revealed    bool   `gorm:"default:false"`
	Forfeited   bool   `gorm:"default:false"`
	Position    bool   `gorm:"default:false"` // valid once revealed; true = ban
	Claimed     bool   `gorm:"default:false"`
	CommittedAt time.Time
	RevealedAt  *time.Time
}

// Staked evidence submissions
type Evidence struct {
	ID               string `gorm:"primaryKey;size:36"`
	CaseID           uint64 `gorm:"index;not null"`
	Submitter        string `gorm:"size:128;not null"`
	Stake            uint64 `gorm:"not null"`
	Position         bool   // true = supports the ban
	ContentRef       string `gorm:"size:128"`
	Summary          string `gorm:"size:1024"`
	WeightBps        uint32 `gorm:"default:10000"`
	SupportStake     uint64 `gorm:"default:0"`
	OpposeStake      uint64 `gorm:"default:0"`
	SupportCount     uint32 `gorm:"default:0"`
	OpposeCount      uint32 `gorm:"default:0"`
	Status           uint8  `gorm:"default:0"`
	SubmitterClaimed bool   `gorm:"default:false"`
	CreatedAt        time.Time
}

// Counter-stakes on evidence; a submitter never supports their own item
type EvidenceSupport struct {
	EvidenceID string `gorm:"primaryKey;size:36"`
	Supporter  string `gorm:"primaryKey;size:128"`
	Stake      uint64 `gorm:"not null"`
	Supporting bool
	WeightBps  uint32 `gorm:"default:10000"`
	Claimed    bool   `gorm:"default:false"`
	CreatedAt  time.Time
}

// Per-case evidence pool accounting, filled while closing in batches
type EvidencePool struct {
	CaseID          uint64 `gorm:"primaryKey;autoIncrement:false"`
	Outcome         uint8
	WinningWeighted uint64 `gorm:"default:0"`
	LosingPool      uint64 `gorm:"default:0"`
	Fee             uint64 `gorm:"default:0"`
	Closed          bool   `gorm:"default:false"`
	TotalCollected  uint64 `gorm:"default:0"`
	ClaimedTotal    uint64 `gorm:"default:0"`
	UpdatedAt       time.Time
}

// Per-voter slashing state; historical totals survive inactivity resets
type VoterRecord struct {
	Address           string `gorm:"primaryKey;size:128"`
	TotalVotes        uint32 `gorm:"default:0"`
	TotalWins         uint32 `gorm:"default:0"`
	ConsecutiveLosses uint32 `gorm:"default:0"`
	ConsecutiveWins   uint32 `gorm:"default:0"`
	MediumLossParity  bool   `gorm:"default:false"`
	PenaltyTier       uint8  `gorm:"default:0"`
	TotalSlashed      uint64 `gorm:"default:0"`
	VotingBanned      bool   `gorm:"default:false"`
	BanExpiresAt      *time.Time
	LastVoteAt        time.Time
	LastSlashAt       *time.Time
}

// Assessed or auto-derived case legitimacy, gates slashing
type CaseQuality struct {
	CaseID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Tier         uint8  `gorm:"default:0"`
	VotesFor     uint64 `gorm:"default:0"`
	VotesAgainst uint64 `gorm:"default:0"`
	TotalStake   uint64 `gorm:"default:0"`
	HasEvidence  bool   `gorm:"default:false"`
	Assessor     string `gorm:"size:128"`
	AssessedAt   *time.Time
}

// Address-level bans. ExpiresAt zero value = permanent
type BanRecord struct {
	Address   string `gorm:"primaryKey;size:128"`
	Banned    bool   `gorm:"default:false"`
	BanType   uint8  `gorm:"default:0"`
	BannedAt  time.Time
	ExpiresAt time.Time
	Reason    string `gorm:"size:256"`
	CaseID    uint64 `gorm:"default:0"`
	UpdatedAt time.Time
}

// Agent-level bans keep owner and slashed flag alongside the ban
type AgentBan struct {
	AgentID   string `gorm:"primaryKey;size:128"`
	Owner     string `gorm:"size:128"`
	Banned    bool   `gorm:"default:false"`
	Slashed   bool   `gorm:"default:false"`
	BanType   uint8  `gorm:"default:0"`
	BannedAt  time.Time
	ExpiresAt time.Time
	Reason    string `gorm:"size:256"`
	CaseID    uint64 `gorm:"default:0"`
	UpdatedAt time.Time
}

// Hub-side aggregate for a case escalated across domains
type CrossDomainCase struct {
	CaseID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	OriginDomain string `gorm:"size:64"`
	Target       string `gorm:"size:128"`
	VotingEnds   time.Time
	Resolved     bool  `gorm:"default:false"`
	Outcome      uint8 `gorm:"default:0"`
	CreatedAt    time.Time
}

// One weighted submission per (case, domain)
type DomainVote struct {
	CaseID      uint64 `gorm:"primaryKey;autoIncrement:false"`
	Domain      string `gorm:"primaryKey;size:64"`
	WeightedYes uint64 `gorm:"default:0"`
	WeightedNo  uint64 `gorm:"default:0"`
	SubmittedAt time.Time
}

// Registered network domains
type Domain struct {
	Name      string `gorm:"primaryKey;size:64"`
	WeightBps uint32 `gorm:"default:10000"`
	Active    bool   `gorm:"default:true"`
}

// Senders allowed to speak for a domain
type DomainSender struct {
	Domain string `gorm:"primaryKey;size:64"`
	Sender string `gorm:"primaryKey;size:128"`
}

// Inbound message dedup under at-least-once delivery
type ProcessedMessage struct {
	Hash       string `gorm:"primaryKey;size:16"`
	Origin     string `gorm:"size:64"`
	ReceivedAt time.Time
}

// Appeals
type Appeal struct {
	ID           string `gorm:"primaryKey;size:36"`
	CaseID       uint64 `gorm:"index;not null"`
	Appellant    string `gorm:"size:128;not null"`
	Stake        uint64 `gorm:"not null"`
	EvidenceRef  string `gorm:"size:128"`
	Status       uint8  `gorm:"default:1"`
	VotesRestore uint32 `gorm:"default:0"`
	VotesUphold  uint32 `gorm:"default:0"`
	ReviewEnds   time.Time
	Decision     string `gorm:"size:1024"`
	DecidedBy    string `gorm:"size:128"`
	Restored     bool   `gorm:"default:false"`
	ResolvedAt   *time.Time
	CreatedAt    time.Time
}

// One board vote per (appeal, member)
type AppealVote struct {
	AppealID  string `gorm:"primaryKey;size:36"`
	Member    string `gorm:"primaryKey;size:128"`
	Restore   bool
	CreatedAt time.Time
}

// Pull-withdrawal balances; every payout path credits here
type ClaimBalance struct {
	Address   string `gorm:"primaryKey;size:128"`
	Amount    uint64 `gorm:"default:0"`
	UpdatedAt time.Time
}

// Two-stage admin changes separated by a timelock delay
type PendingChange struct {
	ID           uint64 `gorm:"primaryKey"`
	Kind         string `gorm:"size:32;not null"`
	Target       string `gorm:"size:64"`
	Value        uint64 `gorm:"default:0"`
	ProposedBy   string `gorm:"size:128"`
	ExecuteAfter time.Time
	Executed     bool `gorm:"default:false"`
	Cancelled    bool `gorm:"default:false"`
	CreatedAt    time.Time
}

// Settings
type Setting struct {
	ID    uint8  `gorm:"primaryKey"`
	Name  string `gorm:"size:32;not null"`
	Value string `gorm:"size:256;not null"`
}

// Moderators allowed to authenticate against the API
type Moderator struct {
	Address     string `gorm:"primaryKey;size:128"`
	KeyHash     string `gorm:"size:64;not null"`
	IsAuthority bool   `gorm:"default:false"`
}
