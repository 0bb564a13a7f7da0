package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/equityrun/internal/persistence"
)

type journalRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewJournalRepo creates the postgres-backed audit journal.
func NewJournalRepo(db *sqlx.DB, timeout time.Duration) persistence.JournalStore {
	return &journalRepo{db: db, timeout: timeout}
}

func (r *journalRepo) Append(ctx context.Context, e persistence.JournalEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var payload interface{}
	if len(e.Payload) > 0 {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal journal payload: %w", err)
		}
		payload = raw
	}

	query := `
		INSERT INTO journal (at, kind, symbol, reason, detail, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query, e.At.UTC(), e.Kind, e.Symbol, e.Reason, e.Detail, payload)
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}

	return nil
}

func (r *journalRepo) Recent(ctx context.Context, limit int) ([]persistence.JournalEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, at, kind, symbol, reason, detail, payload
		FROM journal
		ORDER BY at DESC, id DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent journal entries: %w", err)
	}
	defer rows.Close()

	return scanJournal(rows)
}

func (r *journalRepo) BySymbol(ctx context.Context, symbol string, tr persistence.TimeRange, limit int) ([]persistence.JournalEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, at, kind, symbol, reason, detail, payload
		FROM journal
		WHERE symbol = $1 AND at >= $2 AND at <= $3
		ORDER BY at DESC, id DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, symbol, tr.From.UTC(), tr.To.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal for %s: %w", symbol, err)
	}
	defer rows.Close()

	return scanJournal(rows)
}

func (r *journalRepo) CountByKind(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT kind, COUNT(*)
		FROM journal
		WHERE at >= $1 AND at <= $2
		GROUP BY kind`

	rows, err := r.db.QueryxContext(ctx, query, tr.From.UTC(), tr.To.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count journal kinds: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan journal count row: %w", err)
		}
		counts[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal count rows: %w", err)
	}

	return counts, nil
}

func scanJournal(rows *sqlx.Rows) ([]persistence.JournalEntry, error) {
	var entries []persistence.JournalEntry
	for rows.Next() {
		var (
			e       persistence.JournalEntry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.At, &e.Kind, &e.Symbol, &e.Reason, &e.Detail, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal journal payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal rows: %w", err)
	}

	return entries, nil
}
