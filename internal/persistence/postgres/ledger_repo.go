package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/equityrun/internal/persistence"
	"github.com/sawpanic/equityrun/internal/risk"
)

type ledgerRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewLedgerRepo creates the postgres-backed ledger snapshot store. The
// snapshot lives in a single row so restore always sees the newest one.
func NewLedgerRepo(db *sqlx.DB, timeout time.Duration) persistence.LedgerStore {
	return &ledgerRepo{db: db, timeout: timeout}
}

func (r *ledgerRepo) Save(ctx context.Context, s risk.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger snapshot: %w", err)
	}

	query := `
		INSERT INTO ledger (id, snapshot, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save ledger snapshot: %w", err)
	}

	return nil
}

func (r *ledgerRepo) Load(ctx context.Context) (*risk.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var payload []byte
	err := r.db.QueryRowxContext(ctx, `SELECT snapshot FROM ledger WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger snapshot: %w", err)
	}

	var s risk.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger snapshot: %w", err)
	}

	return &s, nil
}
