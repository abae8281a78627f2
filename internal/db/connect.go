// Package db opens the GORM/postgres connection backing the Balance,
// Order, and Trade Stores, and runs their AutoMigrate schema, adapted from
// the venue's legacy internal/db.Connect/runMigrations.
package db

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kairostrade/matchingcore/internal/config"
	"github.com/kairostrade/matchingcore/internal/dbmodels"
)

// Connect opens a pooled connection to the configured postgres database.
func Connect(cfg *config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	gormLogger := gormlogger.New(
		&zapWriter{logger: logger},
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: acquire pool handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// Migrate runs AutoMigrate for every model the matching core persists.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&dbmodels.Order{},
		&dbmodels.Trade{},
		&dbmodels.AccountBalance{},
		&dbmodels.AccountTransaction{},
	)
}

type zapWriter struct {
	logger *zap.Logger
}

func (w *zapWriter) Printf(format string, args ...interface{}) {
	w.logger.Debug("gorm", zap.String("msg", fmt.Sprintf(format, args...)))
}
