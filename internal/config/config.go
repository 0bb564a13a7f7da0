// Package config assembles the full runtime configuration from
// defaults, an optional YAML file, and environment overrides for
// secrets. An invalid configuration is fatal at startup; nothing here
// is re-read at runtime.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/equityrun/internal/alert"
	"github.com/sawpanic/equityrun/internal/breakout"
	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/data/stream"
	"github.com/sawpanic/equityrun/internal/engine"
	"github.com/sawpanic/equityrun/internal/gate"
	"github.com/sawpanic/equityrun/internal/httpapi"
	"github.com/sawpanic/equityrun/internal/market"
	"github.com/sawpanic/equityrun/internal/news"
	"github.com/sawpanic/equityrun/internal/pattern"
	"github.com/sawpanic/equityrun/internal/persistence/postgres"
	"github.com/sawpanic/equityrun/internal/regime"
	"github.com/sawpanic/equityrun/internal/risk"
	"github.com/sawpanic/equityrun/internal/sector"
	"github.com/sawpanic/equityrun/internal/watchlist"
)

// Config is the root document. Every block has a working default; the
// file only needs the fields that differ.
type Config struct {
	Engine     engine.Config     `yaml:"engine"`
	Session    market.Session    `yaml:"session"`
	Watchlist  watchlist.Config  `yaml:"watchlist"`
	Regime     regime.Config     `yaml:"regime"`
	Sector     sector.Config     `yaml:"sector"`
	Membership sector.Membership `yaml:"membership"`
	Pattern    pattern.Config    `yaml:"pattern"`
	Breakout   breakout.Config   `yaml:"breakout"`
	Gates      gate.Config       `yaml:"gates"`
	Risk       risk.Config       `yaml:"risk"`
	Data       DataConfig        `yaml:"data"`
	News       news.HTTPConfig   `yaml:"news"`
	Alerts     AlertConfig       `yaml:"alerts"`
	Server     httpapi.Config    `yaml:"server"`
	Database   postgres.Config   `yaml:"database"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// DataConfig groups the market-data clients: the REST provider, the
// optional Redis read-through cache, and the optional quote stream.
type DataConfig struct {
	HTTP   data.HTTPConfig  `yaml:"http"`
	Redis  RedisConfig      `yaml:"redis"`
	Cache  data.CacheConfig `yaml:"cache"`
	Stream stream.Config    `yaml:"stream"`
}

// RedisConfig points the cache and stream warmer at a Redis instance.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// AlertConfig groups the dispatcher tuning and its sinks.
type AlertConfig struct {
	Dispatch alert.Config        `yaml:"dispatch"`
	Webhook  alert.WebhookConfig `yaml:"webhook"`
}

// LoggingConfig controls log level, format, and optional file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gt=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
}

// Default returns the full production configuration.
func Default() *Config {
	return &Config{
		Engine:     engine.DefaultConfig(),
		Session:    market.DefaultSession(),
		Watchlist:  watchlist.DefaultConfig(),
		Regime:     regime.DefaultConfig(),
		Sector:     sector.DefaultConfig(),
		Membership: sector.DefaultMembership(),
		Pattern:    pattern.DefaultConfig(),
		Breakout:   breakout.DefaultConfig(),
		Gates:      gate.DefaultConfig(),
		Risk:       risk.DefaultConfig(),
		Data: DataConfig{
			HTTP:   data.DefaultHTTPConfig(),
			Redis:  RedisConfig{Addr: "localhost:6379"},
			Cache:  data.DefaultCacheConfig(),
			Stream: stream.DefaultConfig(),
		},
		News: news.DefaultHTTPConfig(),
		Alerts: AlertConfig{
			Dispatch: alert.DefaultConfig(),
			Webhook:  alert.DefaultWebhookConfig(),
		},
		Server:   httpapi.DefaultConfig(),
		Database: postgres.DefaultConfig(),
		Logging: LoggingConfig{
			Level:      "info",
			JSON:       true,
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file when path
// is non-empty, then environment overrides, then validation. Any error
// here must abort startup.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the secrets that must not live in the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("EQUITYRUN_DATA_API_KEY"); v != "" {
		cfg.Data.HTTP.APIKey = v
	}
	if v := os.Getenv("EQUITYRUN_NEWS_API_KEY"); v != "" {
		cfg.News.APIKey = v
	}
	if v := os.Getenv("EQUITYRUN_DB_DSN"); v != "" {
		cfg.Database.DSN = v
		cfg.Database.Enabled = true
	}
	if v := os.Getenv("EQUITYRUN_REDIS_ADDR"); v != "" {
		cfg.Data.Redis.Addr = v
		cfg.Data.Redis.Enabled = true
	}
	if v := os.Getenv("EQUITYRUN_REDIS_PASSWORD"); v != "" {
		cfg.Data.Redis.Password = v
	}
	if v := os.Getenv("EQUITYRUN_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
		cfg.Alerts.Webhook.Enabled = true
	}
}

// Validate checks field constraints and the cross-field rules no tag
// can express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		return fmt.Errorf("config invalid: session timezone %q: %w", c.Session.Timezone, err)
	}
	if c.Session.CloseMinute <= c.Session.OpenMinute {
		return fmt.Errorf("config invalid: session close %d not after open %d",
			c.Session.CloseMinute, c.Session.OpenMinute)
	}
	if len(c.Watchlist.Core) == 0 {
		return fmt.Errorf("config invalid: watchlist core list is empty")
	}
	// Symbols without a sector mapping can never clear the sector gate,
	// so catch the mismatch at startup rather than in the scan log.
	for _, symbol := range c.Watchlist.Core {
		if _, ok := c.Membership.Sector(symbol); !ok {
			return fmt.Errorf("config invalid: watchlist symbol %s has no sector mapping", symbol)
		}
	}
	if c.Risk.StopLossPct >= c.Risk.TargetPct {
		return fmt.Errorf("config invalid: stop_loss_pct %.3f must be below target_pct %.3f",
			c.Risk.StopLossPct, c.Risk.TargetPct)
	}
	if c.Engine.MonitorIntervalSeconds > c.Engine.ScanIntervalSeconds {
		return fmt.Errorf("config invalid: monitor interval %ds exceeds scan interval %ds",
			c.Engine.MonitorIntervalSeconds, c.Engine.ScanIntervalSeconds)
	}
	if c.Engine.CycleTimeoutSeconds > c.Engine.ScanIntervalSeconds {
		return fmt.Errorf("config invalid: cycle timeout %ds exceeds scan interval %ds",
			c.Engine.CycleTimeoutSeconds, c.Engine.ScanIntervalSeconds)
	}

	// A position admitted at the spread ceiling must not instantly
	// trip the emergency spread exit.
	monitor := c.Engine.Monitor
	if monitor.SpreadMultiple*monitor.MaxSpreadPct < c.Gates.MaxSpreadPct {
		return fmt.Errorf("config invalid: emergency spread ceiling %.4f below admission ceiling %.4f",
			monitor.SpreadMultiple*monitor.MaxSpreadPct, c.Gates.MaxSpreadPct)
	}

	if c.Alerts.Webhook.Enabled && c.Alerts.Webhook.URL == "" {
		return fmt.Errorf("config invalid: alert webhook enabled without a url")
	}
	return nil
}
