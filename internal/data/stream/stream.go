// Package stream keeps the quote cache warm from a push feed. The warmer
// is an optimization only: the engine reads through the cache and falls
// back to the polling provider whenever the stream is down.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/market"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	pingInterval     = 30 * time.Second
	writeTimeout     = 5 * time.Second
	backoffBase      = time.Second
	backoffMax       = 30 * time.Second
)

// Config controls the quote stream connection.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`

	// Symbols to subscribe; normally the watchlist universe.
	Symbols []string `yaml:"symbols"`

	// QuoteTTLSeconds matches the cache layer so pushed quotes age out
	// on the same schedule as polled ones.
	QuoteTTLSeconds int `yaml:"quote_ttl_seconds" validate:"gt=0"`
}

// DefaultConfig returns the stream defaults; the feed stays off until a
// URL is configured.
func DefaultConfig() Config {
	return Config{
		URL:             "ws://localhost:8091/v1/stream",
		QuoteTTLSeconds: 5,
	}
}

type subscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type quoteMessage struct {
	Type  string       `json:"type"`
	Quote market.Quote `json:"quote"`
}

// Warmer pumps pushed quotes into Redis under the same keys the cached
// provider reads.
type Warmer struct {
	config Config
	rdb    *redis.Client
	ttl    time.Duration
}

// NewWarmer builds a warmer writing through rdb.
func NewWarmer(cfg Config, rdb *redis.Client) *Warmer {
	return &Warmer{
		config: cfg,
		rdb:    rdb,
		ttl:    time.Duration(cfg.QuoteTTLSeconds) * time.Second,
	}
}

// Run connects and pumps quotes until ctx is done, reconnecting with
// capped exponential backoff after any failure. It never returns an
// error: a dead stream degrades to polling, nothing more.
func (w *Warmer) Run(ctx context.Context) {
	backoff := backoffBase
	for {
		started := time.Now()
		err := w.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > time.Minute {
			backoff = backoffBase
		}
		log.Warn().Err(err).Dur("backoff", backoff).Str("url", w.config.URL).
			Msg("quote stream disconnected")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func (w *Warmer) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.config.URL, err)
	}
	defer conn.Close()

	sub := subscribeRequest{Action: "subscribe", Symbols: w.config.Symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Info().Str("url", w.config.URL).Int("symbols", len(w.config.Symbols)).
		Msg("quote stream connected")

	done := make(chan struct{})
	defer close(done)
	go w.pingLoop(ctx, conn, done)

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := w.handleMessage(ctx, raw); err != nil {
			log.Debug().Err(err).Msg("quote stream message dropped")
		}
	}
}

func (w *Warmer) handleMessage(ctx context.Context, raw []byte) error {
	var msg quoteMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if msg.Type != "quote" || !msg.Quote.Valid() {
		return nil
	}

	quote := msg.Quote
	if quote.At.IsZero() {
		quote.At = time.Now().UTC()
	}
	payload, err := json.Marshal(quote)
	if err != nil {
		return err
	}
	if err := w.rdb.Set(ctx, data.QuoteKey(quote.Symbol), payload, w.ttl).Err(); err != nil {
		return fmt.Errorf("cache %s: %w", quote.Symbol, err)
	}
	return nil
}

func (w *Warmer) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
