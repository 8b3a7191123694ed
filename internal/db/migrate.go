package db

import (
	"payment_engine/internal/domain" // Importing domain models

	"github.com/sirupsen/logrus"

	"gorm.io/driver/mysql" // MySQL driver for GORM
	"gorm.io/gorm"         // GORM ORM library
)

// Models is every persisted entity, in migration order.
func Models() []any {
	return []any{
		&domain.User{},
		&domain.Device{},
		&domain.Account{},
		&domain.Transaction{},
		&domain.LedgerEntry{},
		&domain.Nonce{},
		&domain.AuditBlock{},
		&domain.QueueItem{},
		&domain.RateLimitRecord{},
		&domain.Consent{},
		&domain.SanctionEntry{},
		&domain.ComplianceLog{},
		&domain.SecurityLog{},
		&domain.Notification{},
	}
}

// Migrate performs automatic migration for the database schema
func Migrate(dsn string) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{}) // Open a connection to the database
	if err != nil {
		logrus.Fatalf("failed to connect database: %v", err)
	}
	// AutoMigrate will create tables, missing foreign keys, constraints, columns and indexes
	if err := db.AutoMigrate(Models()...); err != nil {
		logrus.Fatalf("migration failed: %v", err)
	}
	logrus.Info("Migration completed.")
}
