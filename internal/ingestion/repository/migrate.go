package repository

import (
	"talent-inbox/internal/ingestion/domain"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.MailboxConnection{},
		&domain.InboundMessageRecord{},
		&domain.CandidateRecord{},
		&domain.ScoreRecord{},
		&domain.Role{},
	)
}
