package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// registered drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Config selects the SQL backend.
type Config struct {
	Driver string // sqlite, mysql
	DSN    string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DB implements UserStore and ClaimStore on database/sql.
type DB struct {
	db     *sql.DB
	driver string
	now    func() time.Time
	logger zerolog.Logger
}

var (
	_ UserStore  = (*DB)(nil)
	_ ClaimStore = (*DB)(nil)
)

// Open connects, pings and migrates the database.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	driverName, dsn, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		// one writer; also keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		} else {
			db.SetMaxOpenConns(20)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		} else {
			db.SetConnMaxLifetime(30 * time.Minute)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	s := &DB{
		db:     db,
		driver: cfg.Driver,
		now:    time.Now,
		logger: logger.With().Str("component", "store").Str("driver", cfg.Driver).Logger(),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func resolve(cfg Config) (string, string, error) {
	switch cfg.Driver {
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			return "", "", fmt.Errorf("sqlite DSN is required")
		}
		if dsn != ":memory:" && !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
		}
		return "sqlite3", dsn, nil
	case "mysql":
		if strings.TrimSpace(cfg.DSN) == "" {
			return "", "", fmt.Errorf("mysql DSN is required")
		}
		return "mysql", cfg.DSN, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Close releases the connection pool.
func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the connection. Used by the admin health endpoint.
func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *DB) migrate(ctx context.Context) error {
	for i, stmt := range schema(s.driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	s.logger.Debug().Msg("Schema ready")
	return nil
}

func schema(driver string) []string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	text := "TEXT"
	key := "TEXT"
	suffix := ""
	if driver == "mysql" {
		pk = "BIGINT AUTO_INCREMENT PRIMARY KEY"
		key = "VARCHAR(191)"
		suffix = " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id ` + pk + `,
			telegram_id BIGINT NOT NULL UNIQUE,
			username ` + key + ` NOT NULL DEFAULT '',
			name ` + key + ` NOT NULL DEFAULT '',
			mnemonic ` + text + `,
			referral_code ` + key + ` NOT NULL UNIQUE,
			referred_by ` + key + ` NOT NULL DEFAULT '',
			current_thread_id ` + key + ` NOT NULL,
			created_at BIGINT NOT NULL
		)` + suffix,
		`CREATE TABLE IF NOT EXISTS claims (
			id ` + pk + `,
			telegram_id BIGINT NOT NULL,
			amount ` + key + ` NOT NULL,
			token_symbol ` + key + ` NOT NULL,
			network ` + key + ` NOT NULL,
			provider ` + key + ` NOT NULL,
			tx_hash ` + key + ` NOT NULL,
			eligible_at BIGINT NOT NULL,
			notified_at BIGINT NOT NULL DEFAULT 0,
			notify_attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)` + suffix,
	}
}
