package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/equityrun/internal/persistence"
	"github.com/sawpanic/equityrun/internal/position"
)

// Sentinel errors the Controller returns so handlers can map status
// codes without knowing engine internals.
var (
	ErrPositionNotFound = errors.New("position not found")
	ErrPriceUnavailable = errors.New("exit price unavailable")
	ErrUnknownSymbol    = errors.New("symbol not on the watchlist")
	ErrNotExcluded      = errors.New("symbol is not excluded")
)

const (
	listDefaultLimit  = 50
	listMaxLimit      = 500
	defaultWindowDays = 7
	maxWindowDays     = 365
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckState, len(s.deps.Checks)),
	}

	status := http.StatusOK
	for name, check := range s.deps.Checks {
		if err := check(r.Context()); err != nil {
			response.Status = "degraded"
			response.Checks[name] = CheckState{Status: "down", Error: err.Error()}
			status = http.StatusServiceUnavailable
			continue
		}
		response.Checks[name] = CheckState{Status: "up"}
	}

	s.writeJSON(w, status, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Controller.Status())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.deps.Controller.Positions()
	if positions == nil {
		positions = []position.Position{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var req CloseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Price < 0 {
		s.writeError(w, r, http.StatusBadRequest, "invalid_price", "price must not be negative")
		return
	}

	closed, err := s.deps.Controller.ClosePosition(r.Context(), symbol, req.Price)
	switch {
	case errors.Is(err, ErrPositionNotFound):
		s.writeError(w, r, http.StatusNotFound, "position_not_found", err.Error())
		return
	case errors.Is(err, ErrPriceUnavailable):
		s.writeError(w, r, http.StatusServiceUnavailable, "price_unavailable", err.Error())
		return
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, "close_failed", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, closed)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		s.writeError(w, r, http.StatusNotFound, "journal_disabled", "no journal store configured")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}

	entries, err := s.deps.Journal.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "journal_query_failed", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trades == nil {
		s.writeError(w, r, http.StatusNotFound, "history_disabled", "no position store configured")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_days", err.Error())
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	closed, err := s.deps.Trades.History(r.Context(), symbol, window, limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "history_query_failed", err.Error())
		return
	}
	if closed == nil {
		closed = []position.Position{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions": closed,
		"count":     len(closed),
		"from":      window.From,
		"to":        window.To,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trades == nil {
		s.writeError(w, r, http.StatusNotFound, "stats_disabled", "no position store configured")
		return
	}

	window, err := parseWindow(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_days", err.Error())
		return
	}

	stats, err := s.deps.Trades.Stats(r.Context(), window)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "stats_query_failed", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats": stats,
		"from":  window.From,
		"to":    window.To,
	})
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Controller.Watchlist())
}

func (s *Server) handleExclude(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var req ExcludeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	err := s.deps.Controller.ExcludeSymbol(r.Context(), symbol, req.Reason)
	switch {
	case errors.Is(err, ErrUnknownSymbol):
		s.writeError(w, r, http.StatusNotFound, "unknown_symbol", err.Error())
		return
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, "exclude_failed", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"symbol": strings.ToUpper(symbol),
		"state":  "excluded",
		"reason": req.Reason,
	})
}

func (s *Server) handleReinstate(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	err := s.deps.Controller.ReinstateSymbol(r.Context(), symbol)
	switch {
	case errors.Is(err, ErrUnknownSymbol):
		s.writeError(w, r, http.StatusNotFound, "unknown_symbol", err.Error())
		return
	case errors.Is(err, ErrNotExcluded):
		s.writeError(w, r, http.StatusConflict, "not_excluded", err.Error())
		return
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, "reinstate_failed", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"symbol": strings.ToUpper(symbol),
		"state":  "active",
	})
}

func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	var req HaltRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	s.deps.Controller.Halt(req.Reason, req.Detail)
	s.writeJSON(w, http.StatusOK, map[string]string{"state": "halted", "reason": req.Reason})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Operator == "" {
		s.writeError(w, r, http.StatusBadRequest, "operator_required", "resume requires an operator name for the audit log")
		return
	}

	if !s.deps.Controller.ClearHalt(req.Operator) {
		s.writeError(w, r, http.StatusConflict, "not_halted", "no halt is raised")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"state": "running"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}

// parseLimit reads ?limit= with a default and a hard cap.
func parseLimit(r *http.Request) (int, error) {
	limit := listDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return 0, errors.New("limit must be a positive integer")
		}
		limit = parsed
	}
	if limit > listMaxLimit {
		limit = listMaxLimit
	}
	return limit, nil
}

// parseWindow reads ?days= into a closed window ending now.
func parseWindow(r *http.Request) (persistence.TimeRange, error) {
	days := defaultWindowDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return persistence.TimeRange{}, errors.New("days must be a positive integer")
		}
		days = parsed
	}
	if days > maxWindowDays {
		days = maxWindowDays
	}
	now := time.Now().UTC()
	return persistence.TimeRange{From: now.AddDate(0, 0, -days), To: now}, nil
}

// decodeBody tolerates an empty body so POSTs without arguments work.
func decodeBody(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	})
}
