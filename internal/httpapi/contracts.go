// Package httpapi serves the operator surface: health, metrics, status,
// the live book, and the halt controls. The API binds to localhost by
// default; nothing here places orders.
package httpapi

import (
	"context"
	"time"

	"github.com/sawpanic/equityrun/internal/alert"
	"github.com/sawpanic/equityrun/internal/net/circuit"
	"github.com/sawpanic/equityrun/internal/net/ratelimit"
	"github.com/sawpanic/equityrun/internal/position"
	"github.com/sawpanic/equityrun/internal/risk"
	"github.com/sawpanic/equityrun/internal/watchlist"
)

// Controller is the engine surface the API drives. The engine
// implements it; handlers never reach into engine internals.
type Controller interface {
	Status() StatusReport
	Positions() []position.Position
	ClosePosition(ctx context.Context, symbol string, price float64) (position.Position, error)
	Halt(reason, detail string)
	ClearHalt(operator string) bool
	Watchlist() WatchlistReport
	ExcludeSymbol(ctx context.Context, symbol, reason string) error
	ReinstateSymbol(ctx context.Context, symbol string) error
}

// HealthCheck probes one dependency for GET /health.
type HealthCheck func(ctx context.Context) error

// StatusReport aggregates the runtime surfaces for GET /status.
type StatusReport struct {
	State     string                         `json:"state"`
	StartedAt time.Time                      `json:"started_at"`
	Risk      risk.Status                    `json:"risk"`
	Pending   int                            `json:"pending_positions"`
	Open      int                            `json:"open_positions"`
	LastScan  *ScanSummary                   `json:"last_scan,omitempty"`
	Alerts    alert.Stats                    `json:"alerts"`
	Limiter   map[string]ratelimit.HostStats `json:"limiter,omitempty"`
	Breaker   *circuit.Status                `json:"breaker,omitempty"`
}

// ScanSummary describes the most recent scan cycle.
type ScanSummary struct {
	StartedAt   time.Time `json:"started_at"`
	DurationMs  int64     `json:"duration_ms"`
	Universe    int       `json:"universe"`
	Evaluated   int       `json:"evaluated"`
	Admitted    int       `json:"admitted"`
	Rejected    int       `json:"rejected"`
	Unavailable int       `json:"unavailable"`
	Authorized  int       `json:"authorized"`
	Denied      int       `json:"denied"`
	TimedOut    bool      `json:"timed_out,omitempty"`
	Skipped     string    `json:"skipped,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status    string                `json:"status"`
	Timestamp time.Time             `json:"timestamp"`
	Checks    map[string]CheckState `json:"checks,omitempty"`
}

// CheckState is one dependency probe result.
type CheckState struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// WatchlistReport is the GET /watchlist body.
type WatchlistReport struct {
	Universe []string        `json:"universe"`
	Excluded []string        `json:"excluded"`
	Stats    watchlist.Stats `json:"stats"`
}

// CloseRequest optionally pins the exit price for a manual close. A
// zero price lets the engine close at the current bid.
type CloseRequest struct {
	Price float64 `json:"price"`
}

// ExcludeRequest pulls a symbol out of scans; Reason lands in the
// journal next to the exclusion.
type ExcludeRequest struct {
	Reason string `json:"reason"`
}

// HaltRequest raises the governor halt.
type HaltRequest struct {
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

// ResumeRequest clears the halt; Operator lands in the audit log.
type ResumeRequest struct {
	Operator string `json:"operator"`
}
