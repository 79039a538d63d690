package storage

import (
	"fmt"
	"strings"

	"github.com/nlstn/go-entityhub/internal/observability"
	"github.com/nlstn/go-entityhub/internal/sqlfilter"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open opens the database SQL containers are stored in. driver is "sqlite"
// or "postgres". Database callbacks for tracing and Server-Timing are
// registered as configured by cfg, which may be nil.
func Open(driver, dsn string, cfg *observability.Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		db, err = OpenSQLite(dsn)
	case "postgres", "postgresql":
		db, err = OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := observability.RegisterGORMCallbacks(db, cfg); err != nil {
		return nil, fmt.Errorf("failed to register tracing callbacks: %w", err)
	}
	if cfg.ServerTimingEnabled() {
		if err := observability.RegisterServerTimingCallbacks(db); err != nil {
			return nil, fmt.Errorf("failed to register server timing callbacks: %w", err)
		}
	}
	return db, nil
}

// OpenSQLite opens a SQLite database with case sensitive LIKE, which string
// predicates rely on, and the math functions compiled filters call. An in-memory database is limited to one connection
// because every connection would open a separate database.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := gorm.Open(sqlite.New(sqlite.Config{
		DriverName: sqlfilter.SQLiteDriverName,
		DSN:        dsn + sep + "_cslike=true",
	}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.Exec("PRAGMA case_sensitive_like = ON").Error; err != nil {
		return nil, fmt.Errorf("failed to enable case sensitive like: %w", err)
	}
	return db, nil
}

// OpenPostgres opens a PostgreSQL database. Entity values are stored as jsonb.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	return db, nil
}
