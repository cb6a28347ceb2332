package data

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/types"
)

func MustMySQL(dsn string) *gorm.DB {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("mysql: %v", err)
	}
	return db
}

// Migrate creates or updates every persisted table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Case{},
		&types.VoteCommit{},
		&types.Evidence{},
		&types.EvidenceSupport{},
		&types.EvidencePool{},
		&types.VoterRecord{},
		&types.CaseQuality{},
		&types.BanRecord{},
		&types.AgentBan{},
		&types.CrossDomainCase{},
		&types.DomainVote{},
		&types.Domain{},
		&types.DomainSender{},
		&types.ProcessedMessage{},
		&types.Appeal{},
		&types.AppealVote{},
		&types.ClaimBalance{},
		&types.PendingChange{},
		&types.Setting{},
		&types.Moderator{},
	)
}
