package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/metrics"
	"github.com/sawpanic/equityrun/internal/persistence"
)

// Config holds server settings. The default binds localhost only.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=0,lte=65535"`

	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds" validate:"gte=1"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds" validate:"gte=1"`
	IdleTimeoutSeconds  int `yaml:"idle_timeout_seconds" validate:"gte=1"`
	RequestTimeoutSecs  int `yaml:"request_timeout_seconds" validate:"gte=1"`
}

// DefaultConfig returns the local-only server settings.
func DefaultConfig() Config {
	return Config{
		Host:                "127.0.0.1",
		Port:                8080,
		ReadTimeoutSeconds:  10,
		WriteTimeoutSeconds: 10,
		IdleTimeoutSeconds:  60,
		RequestTimeoutSecs:  5,
	}
}

// Deps are the runtime surfaces the handlers serve. Trades backs the
// history and stats queries; the live book comes through Controller.
type Deps struct {
	Controller Controller
	Journal    persistence.JournalStore
	Trades     persistence.PositionStore
	Metrics    *metrics.Registry
	Checks     map[string]HealthCheck
}

// Server is the operator HTTP server.
type Server struct {
	router *mux.Router
	server *http.Server
	config Config
	deps   Deps
}

// NewServer builds the server and verifies the port is free.
func NewServer(config Config, deps Deps) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", config.Port, err)
	}
	listener.Close()

	s := &Server{
		router: mux.NewRouter(),
		config: config,
		deps:   deps,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(config.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(config.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(config.IdleTimeoutSeconds) * time.Second,
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/positions", s.handlePositions).Methods("GET")
	api.HandleFunc("/positions/{symbol}/close", s.handleClosePosition).Methods("POST")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/journal", s.handleJournal).Methods("GET")
	api.HandleFunc("/watchlist", s.handleWatchlist).Methods("GET")
	api.HandleFunc("/watchlist/{symbol}/exclude", s.handleExclude).Methods("POST")
	api.HandleFunc("/watchlist/{symbol}/reinstate", s.handleReinstate).Methods("POST")
	api.HandleFunc("/halt", s.handleHalt).Methods("POST")
	api.HandleFunc("/resume", s.handleResume).Methods("POST")

	s.router.NotFoundHandler = jsonContentTypeMiddleware(http.HandlerFunc(s.handleNotFound))
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Address returns the bound address.
func (s *Server) Address() string {
	return s.server.Addr
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("API server listening")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("API server shutting down")
	return s.server.Shutdown(ctx)
}

type contextKey string

const requestIDKey contextKey = "request_id"

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Debug().
			Str("request_id", requestID(r)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("API request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	timeout := time.Duration(s.config.RequestTimeoutSecs) * time.Second
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// responseWrapper captures status codes for the request log.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
