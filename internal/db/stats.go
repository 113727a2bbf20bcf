package db

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"gorm.io/gorm"
)

// OpenStats returns a sqlx handle for raw statistics queries. Postgres gets its own
// lib/pq connection; sqlite shares the gorm connection pool.
func OpenStats(gdb *gorm.DB, dsn string) (*sqlx.DB, error) {
	if IsPostgresDSN(dsn) {
		var (
			db  *sqlx.DB
			err error
		)
		for i := 0; i < 10; i++ {
			db, err = sqlx.Connect("postgres", dsn)
			if err == nil {
				return db, nil
			}
			time.Sleep(500 * time.Millisecond)
		}
		return nil, fmt.Errorf("failed to connect stats handle: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	return sqlx.NewDb(sqlDB, "sqlite3"), nil
}
