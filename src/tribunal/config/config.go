package config

import (
	"log"
	"os"
	"strconv"

	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/data"
)

type Config struct {
	MySQLDSN  string
	RedisURL  string
	JWTSecret string
	Port      string

	// Domain identity
	LocalDomain string
	HubDomain   string

	// Protocol parameters (db settings override env)
	MinVoteStake      uint64
	MinEvidenceStake  uint64
	MinAppealStake    uint64
	ProtocolFeeBps    uint64
	ForfeitBatchSize  int
	EvidenceBatchSize int
	DomainQuorum      int
	TimelockDelayHrs  int

	// Addresses
	Authority     string
	Treasury      string
	InsuranceFund string

	// Unknown ban-status policy: "open" treats unknown as not banned,
	// "closed" treats unknown as banned.
	BanFailPolicy string

	// Discord notifications (optional)
	DiscordToken   string
	DiscordChannel string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getsetting(name, def string) string {
	if v := data.GetSetting(name); v != "" {
		return v
	}
	return getenv(name, def)
}

func getuint(name string, def uint64) uint64 {
	v := getsetting(name, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		log.Printf("config: bad value for %s: %v", name, err)
		return def
	}
	return n
}

func Load(db *gorm.DB) Config {
	if err := data.LoadSettings(db); err != nil {
		log.Printf("Failed to load settings: %v", err)
	}

	return Config{
		MySQLDSN:  getenv("MYSQL_DSN", "tribunal:test@tcp(127.0.0.1:3306)/tribunal"),
		RedisURL:  getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		JWTSecret: getenv("JWT_SECRET", ""),
		Port:      getenv("PORT", "8080"),

		LocalDomain: getsetting("local_domain", "hub"),
		HubDomain:   getsetting("hub_domain", "hub"),

		MinVoteStake:      getuint("min_vote_stake", 100),
		MinEvidenceStake:  getuint("min_evidence_stake", 50),
		MinAppealStake:    getuint("min_appeal_stake", 500),
		ProtocolFeeBps:    getuint("protocol_fee_bps", 500),
		ForfeitBatchSize:  int(getuint("forfeit_batch_size", 100)),
		EvidenceBatchSize: int(getuint("evidence_batch_size", 100)),
		DomainQuorum:      int(getuint("domain_quorum", 2)),
		TimelockDelayHrs:  int(getuint("timelock_delay_hours", 48)),

		Authority:     getsetting("authority_address", ""),
		Treasury:      getsetting("treasury_address", "treasury"),
		InsuranceFund: getsetting("insurance_fund_address", "insurance"),

		BanFailPolicy: getsetting("ban_fail_policy", "open"),

		DiscordToken:   getsetting("discord_token", ""),
		DiscordChannel: getsetting("discord_channel_id", ""),
	}
}
