package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/equityrun/internal/persistence"
	"github.com/sawpanic/equityrun/internal/position"
)

type positionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPositionsRepo creates the postgres-backed position store.
func NewPositionsRepo(db *sqlx.DB, timeout time.Duration) persistence.PositionStore {
	return &positionsRepo{db: db, timeout: timeout}
}

func (r *positionsRepo) Save(ctx context.Context, p position.Position) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO positions (
			id, symbol, state, qty, entry, fill, stop, target,
			score, pattern, created_at, opened_at, closed_at,
			exit_price, exit_reason, pnl
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			fill = EXCLUDED.fill,
			stop = EXCLUDED.stop,
			target = EXCLUDED.target,
			opened_at = EXCLUDED.opened_at,
			closed_at = EXCLUDED.closed_at,
			exit_price = EXCLUDED.exit_price,
			exit_reason = EXCLUDED.exit_reason,
			pnl = EXCLUDED.pnl`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Symbol, p.State.String(), p.Qty, p.Entry, p.Fill, p.Stop, p.Target,
		p.Score, p.Pattern, p.CreatedAt.UTC(), nullTime(p.OpenedAt), nullTime(p.ClosedAt),
		p.ExitPrice, p.ExitReason, p.PnL)
	if err != nil {
		return fmt.Errorf("failed to save position %s: %w", p.ID, err)
	}

	return nil
}

func (r *positionsRepo) Live(ctx context.Context) ([]position.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, symbol, state, qty, entry, fill, stop, target,
		       score, pattern, created_at, opened_at, closed_at,
		       exit_price, exit_reason, pnl
		FROM positions
		WHERE state IN ('pending', 'open')
		ORDER BY symbol ASC`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query live positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (r *positionsRepo) History(ctx context.Context, symbol string, tr persistence.TimeRange, limit int) ([]position.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, symbol, state, qty, entry, fill, stop, target,
		       score, pattern, created_at, opened_at, closed_at,
		       exit_price, exit_reason, pnl
		FROM positions
		WHERE closed_at IS NOT NULL AND closed_at >= $1 AND closed_at <= $2`
	args := []interface{}{tr.From.UTC(), tr.To.UTC()}

	if symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", len(args)+1)
		args = append(args, symbol)
	}
	query += fmt.Sprintf(" ORDER BY closed_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query position history: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (r *positionsRepo) Stats(ctx context.Context, tr persistence.TimeRange) (persistence.TradeStats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stats := persistence.TradeStats{
		ByReason: make(map[string]int64),
		PnLByDay: make(map[string]float64),
	}

	totals := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE pnl > 0),
		       COUNT(*) FILTER (WHERE pnl < 0),
		       COALESCE(SUM(pnl), 0)
		FROM positions
		WHERE closed_at IS NOT NULL AND closed_at >= $1 AND closed_at <= $2`

	err := r.db.QueryRowxContext(ctx, totals, tr.From.UTC(), tr.To.UTC()).
		Scan(&stats.Closed, &stats.Wins, &stats.Losses, &stats.TotalPnL)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate position totals: %w", err)
	}

	byReason := `
		SELECT exit_reason, COUNT(*)
		FROM positions
		WHERE closed_at IS NOT NULL AND closed_at >= $1 AND closed_at <= $2
		GROUP BY exit_reason`

	rows, err := r.db.QueryxContext(ctx, byReason, tr.From.UTC(), tr.To.UTC())
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate exit reasons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var reason string
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return stats, fmt.Errorf("failed to scan exit reason row: %w", err)
		}
		stats.ByReason[reason] = count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("error iterating exit reason rows: %w", err)
	}

	byDay := `
		SELECT to_char(closed_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
		       COALESCE(SUM(pnl), 0)
		FROM positions
		WHERE closed_at IS NOT NULL AND closed_at >= $1 AND closed_at <= $2
		GROUP BY day
		ORDER BY day ASC`

	dayRows, err := r.db.QueryxContext(ctx, byDay, tr.From.UTC(), tr.To.UTC())
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate daily pnl: %w", err)
	}
	defer dayRows.Close()

	for dayRows.Next() {
		var day string
		var pnl float64
		if err := dayRows.Scan(&day, &pnl); err != nil {
			return stats, fmt.Errorf("failed to scan daily pnl row: %w", err)
		}
		stats.PnLByDay[day] = pnl
	}
	if err := dayRows.Err(); err != nil {
		return stats, fmt.Errorf("error iterating daily pnl rows: %w", err)
	}

	return stats, nil
}

type positionRow struct {
	ID         uuid.UUID    `db:"id"`
	Symbol     string       `db:"symbol"`
	State      string       `db:"state"`
	Qty        int64        `db:"qty"`
	Entry      float64      `db:"entry"`
	Fill       float64      `db:"fill"`
	Stop       float64      `db:"stop"`
	Target     float64      `db:"target"`
	Score      int          `db:"score"`
	Pattern    string       `db:"pattern"`
	CreatedAt  time.Time    `db:"created_at"`
	OpenedAt   sql.NullTime `db:"opened_at"`
	ClosedAt   sql.NullTime `db:"closed_at"`
	ExitPrice  float64      `db:"exit_price"`
	ExitReason string       `db:"exit_reason"`
	PnL        float64      `db:"pnl"`
}

func scanPositions(rows *sqlx.Rows) ([]position.Position, error) {
	var positions []position.Position
	for rows.Next() {
		var row positionRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}

		state, err := position.ParseState(row.State)
		if err != nil {
			return nil, fmt.Errorf("failed to decode position %s: %w", row.ID, err)
		}

		positions = append(positions, position.Position{
			ID:         row.ID,
			Symbol:     row.Symbol,
			State:      state,
			Qty:        row.Qty,
			Entry:      row.Entry,
			Fill:       row.Fill,
			Stop:       row.Stop,
			Target:     row.Target,
			Score:      row.Score,
			Pattern:    row.Pattern,
			CreatedAt:  row.CreatedAt,
			OpenedAt:   timeOrZero(row.OpenedAt),
			ClosedAt:   timeOrZero(row.ClosedAt),
			ExitPrice:  row.ExitPrice,
			ExitReason: row.ExitReason,
			PnL:        row.PnL,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}

	return positions, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func timeOrZero(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
