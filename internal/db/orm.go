package db

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"geotrail/syncd/internal/logging"
	gormModels "geotrail/syncd/internal/models/gorm"
)

// IsPostgresDSN reports whether dsn should be opened with the postgres driver.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// gormWriter forwards gorm's log lines to zap.
type gormWriter struct {
	log *zap.SugaredLogger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warnf(format, args...)
}

// newGormLogger logs errors and slow queries only. A missed First is an expected lookup
// result throughout the repositories and is not logged.
func newGormLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Open connects to sqlite (file path or ":memory:") or postgres depending on the DSN.
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: newGormLogger(gormWriter{log: logging.Named("gorm")}),
	}

	if IsPostgresDSN(dsn) {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		logging.Info("Connected to Postgres via GORM")
		return db, nil
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(dsn)), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	logging.Info("Opened sqlite database via GORM", "dsn", dsn)
	return db, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	if dsn == ":memory:" {
		return dsn
	}
	return dsn + "?_busy_timeout=5000&_journal_mode=WAL"
}

// AutoMigrate creates or updates every table syncd owns.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&gormModels.QueuedSample{},
		&gormModels.PendingMutation{},
		&gormModels.TimelinePoint{},
		&gormModels.SyncReferenceRow{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
