// Package store is the Record Store (SPEC_FULL.md 4.A): schema-validated
// gorm persistence with secondary indexes for GeneratedRecord, MemoryItem,
// and IterationLog, adapted from the gateway's persistence package.
package store

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ngoclaw/ngoclaw/gateway/internal/config"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"
)

// Open connects to the configured database and runs AutoMigrate for every
// persisted collection named in SPEC_FULL.md §6.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&model.GeneratedRecord{},
		&model.MemoryItem{},
		&model.IterationLog{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}
