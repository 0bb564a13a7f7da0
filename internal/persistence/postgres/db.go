// Package postgres implements the persistence stores on PostgreSQL via
// sqlx. Every call runs under the repo timeout so a stuck pool cannot
// stall the scan or monitor loops.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/equityrun/internal/persistence"
)

// Config controls the connection pool.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn" validate:"required_if=Enabled true"`

	TimeoutSeconds     int `yaml:"timeout_seconds" validate:"gte=1"`
	MaxOpenConns       int `yaml:"max_open_conns" validate:"gte=1"`
	MaxIdleConns       int `yaml:"max_idle_conns" validate:"gte=0"`
	ConnLifetimeMinute int `yaml:"conn_lifetime_minutes" validate:"gte=0"`
}

// DefaultConfig returns pool settings sized for a single engine process.
func DefaultConfig() Config {
	return Config{
		Enabled:            false,
		TimeoutSeconds:     5,
		MaxOpenConns:       8,
		MaxIdleConns:       4,
		ConnLifetimeMinute: 30,
	}
}

// Connect opens and pings the pool.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnLifetimeMinute) * time.Minute)

	return db, nil
}

// NewStore wires the three repos onto one pool.
func NewStore(db *sqlx.DB, timeout time.Duration) persistence.Store {
	return persistence.Store{
		Positions: NewPositionsRepo(db, timeout),
		Ledger:    NewLedgerRepo(db, timeout),
		Journal:   NewJournalRepo(db, timeout),
	}
}
