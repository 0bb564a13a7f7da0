package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/equityrun/internal/market"
	"github.com/sawpanic/equityrun/internal/net/circuit"
	"github.com/sawpanic/equityrun/internal/net/ratelimit"
)

const userAgent = "equityrun/1.0"

// HTTPConfig configures the polling REST provider.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	APIKey  string `yaml:"api_key"`

	// Indices lists the proxy symbols fetched by IndexReadings.
	Indices []string `yaml:"indices" validate:"min=1"`

	TimeoutSeconds int     `yaml:"timeout_seconds" validate:"gt=0"`
	RPS            float64 `yaml:"rps" validate:"gt=0"`
	Burst          int     `yaml:"burst" validate:"gte=1"`
}

// DefaultHTTPConfig returns the provider defaults applied when the config
// file leaves the block out.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		BaseURL:        "http://localhost:8090",
		Indices:        []string{"SPY", "QQQ", "^VIX"},
		TimeoutSeconds: 10,
		RPS:            5,
		Burst:          10,
	}
}

// HTTPProvider polls a REST feed for bars, books, and index readings.
// Requests pass through a per-host rate limiter and a circuit breaker;
// every failure surfaces as ErrUnavailable.
type HTTPProvider struct {
	base    string
	host    string
	apiKey  string
	indices []string
	client  *http.Client
	limiter *ratelimit.Limiter
	breaker *circuit.Breaker
}

// NewHTTPProvider builds a provider from cfg. The base URL must parse;
// anything else wrong with the feed shows up as ErrUnavailable at call
// time.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", cfg.BaseURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q: missing host", cfg.BaseURL)
	}
	return &HTTPProvider{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		host:    u.Host,
		apiKey:  cfg.APIKey,
		indices: append([]string(nil), cfg.Indices...),
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		limiter: ratelimit.NewLimiter(cfg.RPS, cfg.Burst),
		breaker: circuit.New(circuit.DefaultConfig("market-data")),
	}, nil
}

// LatestBars fetches the n most recent bars, oldest first.
func (p *HTTPProvider) LatestBars(ctx context.Context, symbol string, interval market.Interval, n int) ([]market.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", string(interval))
	q.Set("limit", strconv.Itoa(n))

	var payload struct {
		Bars []market.Bar `json:"bars"`
	}
	if err := p.getJSON(ctx, "/v1/bars", q, &payload); err != nil {
		return nil, Unavailable("bars "+symbol, err)
	}
	if len(payload.Bars) == 0 {
		return nil, Unavailable("bars "+symbol+": empty series", nil)
	}

	bars := payload.Bars
	sort.Slice(bars, func(i, j int) bool { return bars[i].Start.Before(bars[j].Start) })
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

// OrderBook fetches the current top-of-book snapshot.
func (p *HTTPProvider) OrderBook(ctx context.Context, symbol string) (market.Quote, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var quote market.Quote
	if err := p.getJSON(ctx, "/v1/book", q, &quote); err != nil {
		return market.Quote{}, Unavailable("book "+symbol, err)
	}
	return quote, nil
}

// IndexReadings fetches the configured index proxies keyed by symbol.
func (p *HTTPProvider) IndexReadings(ctx context.Context) (map[string]market.IndexReading, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(p.indices, ","))

	var payload struct {
		Indices []market.IndexReading `json:"indices"`
	}
	if err := p.getJSON(ctx, "/v1/indices", q, &payload); err != nil {
		return nil, Unavailable("indices", err)
	}
	if len(payload.Indices) == 0 {
		return nil, Unavailable("indices: empty response", nil)
	}

	readings := make(map[string]market.IndexReading, len(payload.Indices))
	for _, r := range payload.Indices {
		readings[r.Symbol] = r
	}
	return readings, nil
}

// LimiterStats exposes the per-host limiter state for the status surface.
func (p *HTTPProvider) LimiterStats() map[string]ratelimit.HostStats {
	return p.limiter.Stats()
}

// BreakerStatus exposes the breaker state for the status surface.
func (p *HTTPProvider) BreakerStatus() circuit.Status {
	return p.breaker.Status()
}

func (p *HTTPProvider) getJSON(ctx context.Context, path string, query url.Values, v interface{}) error {
	if err := p.limiter.Wait(ctx, p.host); err != nil {
		return err
	}
	return p.breaker.Do(func() error {
		return p.fetch(ctx, path, query, v)
	})
}

func (p *HTTPProvider) fetch(ctx context.Context, path string, query url.Values, v interface{}) error {
	u := p.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
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
