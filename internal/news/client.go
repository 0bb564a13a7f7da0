package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/net/circuit"
	"github.com/sawpanic/equityrun/internal/net/ratelimit"
)

const userAgent = "equityrun/1.0"

// HTTPConfig configures the REST news source.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	APIKey  string `yaml:"api_key"`

	TimeoutSeconds int     `yaml:"timeout_seconds" validate:"gt=0"`
	RPS            float64 `yaml:"rps" validate:"gt=0"`
	Burst          int     `yaml:"burst" validate:"gte=1"`
}

// DefaultHTTPConfig returns the news source defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		BaseURL:        "http://localhost:8092",
		TimeoutSeconds: 10,
		RPS:            2,
		Burst:          5,
	}
}

// HTTPSource implements Source against a REST feed. Failures surface as
// data.ErrUnavailable so the dependent gates fail closed.
type HTTPSource struct {
	base    string
	host    string
	apiKey  string
	client  *http.Client
	limiter *ratelimit.Limiter
	breaker *circuit.Breaker
	now     func() time.Time
}

// NewHTTPSource builds a source from cfg.
func NewHTTPSource(cfg HTTPConfig) (*HTTPSource, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", cfg.BaseURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q: missing host", cfg.BaseURL)
	}
	return &HTTPSource{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		host:   u.Host,
		apiKey: cfg.APIKey,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		limiter: ratelimit.NewLimiter(cfg.RPS, cfg.Burst),
		breaker: circuit.New(circuit.DefaultConfig("news")),
		now:     time.Now,
	}, nil
}

// EarningsWithin reports whether the next scheduled report falls inside
// the window starting now. An unknown report date counts as no earnings.
func (s *HTTPSource) EarningsWithin(ctx context.Context, symbol string, window time.Duration) (bool, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var payload struct {
		NextReport time.Time `json:"next_report"`
	}
	if err := s.getJSON(ctx, "/v1/earnings", q, &payload); err != nil {
		return false, data.Unavailable("earnings "+symbol, err)
	}
	if payload.NextReport.IsZero() {
		return false, nil
	}
	now := s.now()
	if payload.NextReport.Before(now) {
		return false, nil
	}
	return payload.NextReport.Sub(now) <= window, nil
}

// RecentNews returns articles published inside the trailing window,
// oldest first.
func (s *HTTPSource) RecentNews(ctx context.Context, symbol string, window time.Duration) ([]Item, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("since", s.now().Add(-window).UTC().Format(time.RFC3339))

	var payload struct {
		Items []Item `json:"items"`
	}
	if err := s.getJSON(ctx, "/v1/news", q, &payload); err != nil {
		return nil, data.Unavailable("news "+symbol, err)
	}
	items := payload.Items
	sort.Slice(items, func(i, j int) bool { return items[i].At.Before(items[j].At) })
	return items, nil
}

// RecentRatingChanges returns analyst actions inside the trailing
// window, oldest first.
func (s *HTTPSource) RecentRatingChanges(ctx context.Context, symbol string, window time.Duration) ([]RatingChange, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("since", s.now().Add(-window).UTC().Format(time.RFC3339))

	var payload struct {
		Changes []RatingChange `json:"changes"`
	}
	if err := s.getJSON(ctx, "/v1/ratings", q, &payload); err != nil {
		return nil, data.Unavailable("ratings "+symbol, err)
	}
	changes := payload.Changes
	sort.Slice(changes, func(i, j int) bool { return changes[i].At.Before(changes[j].At) })
	return changes, nil
}

// BreakerStatus exposes the breaker state for the status surface.
func (s *HTTPSource) BreakerStatus() circuit.Status {
	return s.breaker.Status()
}

// LimiterStats exposes the per-host limiter state for the status surface.
func (s *HTTPSource) LimiterStats() map[string]ratelimit.HostStats {
	return s.limiter.Stats()
}

func (s *HTTPSource) getJSON(ctx context.Context, path string, query url.Values, v interface{}) error {
	if err := s.limiter.Wait(ctx, s.host); err != nil {
		return err
	}
	return s.breaker.Do(func() error {
		return s.fetch(ctx, path, query, v)
	})
}

func (s *HTTPSource) fetch(ctx context.Context, path string, query url.Values, v interface{}) error {
	u := s.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode: %w", path, err)
	}
	return nil
}
