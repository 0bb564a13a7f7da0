package gate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/breakout"
	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/market"
	"github.com/sawpanic/equityrun/internal/news"
	"github.com/sawpanic/equityrun/internal/pattern"
	"github.com/sawpanic/equityrun/internal/regime"
	"github.com/sawpanic/equityrun/internal/sector"
	"github.com/sawpanic/equityrun/internal/watchlist"
)

// Config holds the pipeline thresholds and windows.
type Config struct {
	// Interval and BarWindow control the candidate bar fetch shared by
	// the candle-quality, pattern, and breakout gates.
	Interval  market.Interval `yaml:"interval"`
	BarWindow int             `yaml:"bar_window" validate:"gte=5"`

	EarningsWindowHours int `yaml:"earnings_window_hours" validate:"gt=0"`
	NewsWindowMinutes   int `yaml:"news_window_minutes" validate:"gt=0"`
	DowngradeWindowDays int `yaml:"downgrade_window_days" validate:"gt=0"`

	// MaxSpreadPct is the spread/mid admission ceiling, as a fraction.
	MaxSpreadPct float64 `yaml:"max_spread_pct" validate:"gt=0"`

	Quality QualityConfig `yaml:"quality"`
	Score   ScoreConfig   `yaml:"score"`
}

// DefaultConfig returns the production pipeline settings.
func DefaultConfig() Config {
	return Config{
		Interval:            market.Interval5Min,
		BarWindow:           21,
		EarningsWindowHours: 48,
		NewsWindowMinutes:   30,
		DowngradeWindowDays: 1,
		MaxSpreadPct:        0.005,
		Quality:             DefaultQualityConfig(),
		Score:               DefaultScoreConfig(),
	}
}

// ScoreConfig weights the composite-score bonuses added on top of the
// pattern confidence.
type ScoreConfig struct {
	VolumeBonusRatio float64 `yaml:"volume_bonus_ratio" validate:"gt=0"`
	VolumeBonus      int     `yaml:"volume_bonus" validate:"gte=0"`
	PressureBonusMin float64 `yaml:"pressure_bonus_min" validate:"gt=0,lt=1"`
	PressureBonus    int     `yaml:"pressure_bonus" validate:"gte=0"`
	Cap              int     `yaml:"cap" validate:"gt=0"`
}

// DefaultScoreConfig returns the production score weights.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		VolumeBonusRatio: 2.0,
		VolumeBonus:      10,
		PressureBonusMin: 0.60,
		PressureBonus:    5,
		Cap:              100,
	}
}

// Score combines pattern confidence with breakout participation bonuses,
// capped. Bonuses require strictly exceeding their thresholds.
func Score(cfg ScoreConfig, det pattern.Detection, conf breakout.Confirmation) int {
	score := det.Confidence
	if market.Above(conf.VolumeRatio, cfg.VolumeBonusRatio) {
		score += cfg.VolumeBonus
	}
	if market.Above(conf.BidPressure, cfg.PressureBonusMin) {
		score += cfg.PressureBonus
	}
	if score > cfg.Cap {
		score = cfg.Cap
	}
	return score
}

// Snapshots are the per-cycle read-only regime views shared by every
// candidate in the cycle.
type Snapshots struct {
	Regime *regime.Snapshot
	Sector *sector.Snapshot
}

// Deps wires the pipeline's collaborators.
type Deps struct {
	Watchlist  *watchlist.Manager
	Session    *market.Session
	Provider   data.Provider
	News       *news.Monitor
	Recognizer *pattern.Recognizer
	Detector   *breakout.Detector
	Sectors    sector.Membership
}

// Pipeline is the ordered admission chain.
type Pipeline struct {
	config Config
	deps   Deps
	now    func() time.Time
}

// NewPipeline creates a pipeline over the given collaborators.
func NewPipeline(config Config, deps Deps) *Pipeline {
	return &Pipeline{config: config, deps: deps, now: time.Now}
}

// Evaluate runs every gate in order for one candidate and stops at the
// first failure. External-data trouble fails the owning gate closed.
func (p *Pipeline) Evaluate(ctx context.Context, symbol string, snaps Snapshots) Decision {
	started := p.now()
	var checks []Check

	rejected := func(c Check) Decision {
		checks = append(checks, c)
		log.Debug().Str("symbol", symbol).Str("gate", c.Gate).
			Str("detail", c.Detail).Msg("Candidate rejected")
		return Decision{
			Symbol:      symbol,
			At:          started,
			Checks:      checks,
			FirstFailed: c.Gate,
			ElapsedMs:   time.Since(started).Milliseconds(),
		}
	}

	// Gate 1: tradable universe membership.
	if !p.deps.Watchlist.Member(symbol) {
		return rejected(failCheck(GateMembership, "", "", "not in tradable universe"))
	}
	checks = append(checks, passCheck(GateMembership, "", ""))

	// Gate 2: exclusion list.
	if p.deps.Watchlist.Excluded(symbol) {
		return rejected(failCheck(GateNotExcluded, "", "", "symbol excluded"))
	}
	checks = append(checks, passCheck(GateNotExcluded, "", ""))

	// Gate 3: trading window, opening exclusion included.
	if !p.deps.Session.Tradable(started) {
		detail := "outside trading window"
		if p.deps.Session.Open(started) {
			detail = "inside opening exclusion"
		}
		return rejected(failCheck(GateTradingWindow, "", "", detail))
	}
	checks = append(checks, passCheck(GateTradingWindow, "", ""))

	// Gate 4: no imminent earnings.
	earningsWindow := time.Duration(p.config.EarningsWindowHours) * time.Hour
	imminent, err := p.deps.News.EarningsWithin(ctx, symbol, earningsWindow)
	if err != nil {
		return rejected(unavailableCheck(GateEarnings, err))
	}
	if imminent {
		return rejected(failCheck(GateEarnings, "imminent", "none",
			fmt.Sprintf("earnings within %s", earningsWindow)))
	}
	checks = append(checks, passCheck(GateEarnings, "none", "none"))

	// Gate 5: market regime must be bullish.
	if snaps.Regime == nil {
		return rejected(Check{Gate: GateMarketRegime, Detail: "no regime snapshot", Unavailable: true})
	}
	if snaps.Regime.Composite != regime.Bullish {
		return rejected(failCheck(GateMarketRegime, snaps.Regime.Composite.String(),
			regime.Bullish.String(), "market regime not bullish"))
	}
	checks = append(checks, passCheck(GateMarketRegime, snaps.Regime.Composite.String(), regime.Bullish.String()))

	// Gate 6: sector regime must be bullish; unknown sector rejects.
	sec, ok := p.deps.Sectors.Sector(symbol)
	if !ok {
		return rejected(failCheck(GateSectorRegime, "unknown", "bullish", "no sector mapping"))
	}
	state, ok := snaps.Sector.State(sec)
	if !ok {
		return rejected(Check{Gate: GateSectorRegime, Value: sec,
			Detail: "sector proxy data unavailable", Unavailable: true})
	}
	if !state.Bullish {
		return rejected(failCheck(GateSectorRegime, sec, "bullish",
			fmt.Sprintf("sector %s not bullish: change %+.2f%%, volume %.2fx",
				sec, state.ChangePct, state.VolumeRatio)))
	}
	checks = append(checks, passCheck(GateSectorRegime, sec, "bullish"))

	// Gate 7: candle quality over the shared candidate window.
	bars, err := p.deps.Provider.LatestBars(ctx, symbol, p.config.Interval, p.config.BarWindow)
	if err != nil {
		return rejected(unavailableCheck(GateCandleQuality, err))
	}
	quality, err := AssessQuality(p.config.Quality, bars)
	if err != nil {
		return rejected(unavailableCheck(GateCandleQuality, err))
	}
	if !quality.OK {
		return rejected(failCheck(GateCandleQuality, quality.Reason, "clean candle", qualityDetail(quality)))
	}
	checks = append(checks, passCheck(GateCandleQuality,
		fmt.Sprintf("body %.2f, shadow %.2f, volume %.2fx",
			quality.BodyRatio, quality.UpperShadowRatio, quality.VolumeRatio), ""))

	// Gate 8: no recent negative headline.
	newsWindow := time.Duration(p.config.NewsWindowMinutes) * time.Minute
	negative, err := p.deps.News.NegativeNews(ctx, symbol, newsWindow)
	if err != nil {
		return rejected(unavailableCheck(GateNegativeNews, err))
	}
	if len(negative) > 0 {
		return rejected(failCheck(GateNegativeNews, strconv.Itoa(len(negative)), "0",
			fmt.Sprintf("negative headline: %q", negative[len(negative)-1].Headline)))
	}
	checks = append(checks, passCheck(GateNegativeNews, "0", "0"))

	// Gate 9: no recent analyst downgrade.
	downgradeWindow := time.Duration(p.config.DowngradeWindowDays) * 24 * time.Hour
	downgrades, err := p.deps.News.RecentDowngrades(ctx, symbol, downgradeWindow)
	if err != nil {
		return rejected(unavailableCheck(GateDowngrade, err))
	}
	if len(downgrades) > 0 {
		last := downgrades[len(downgrades)-1]
		detail := "analyst downgrade"
		if last.Firm != "" {
			detail = "downgraded by " + last.Firm
		}
		return rejected(failCheck(GateDowngrade, strconv.Itoa(len(downgrades)), "0", detail))
	}
	checks = append(checks, passCheck(GateDowngrade, "0", "0"))

	// Gate 10: acceptable spread on a two-sided book.
	quote, err := p.deps.Provider.OrderBook(ctx, symbol)
	if err != nil {
		return rejected(unavailableCheck(GateSpread, err))
	}
	if !quote.Valid() {
		return rejected(Check{Gate: GateSpread, Detail: "one-sided or empty book", Unavailable: true})
	}
	spreadPct := quote.SpreadPct()
	if market.Above(spreadPct, p.config.MaxSpreadPct) {
		return rejected(failCheck(GateSpread, formatPct(spreadPct), formatPct(p.config.MaxSpreadPct), "spread too wide"))
	}
	checks = append(checks, passCheck(GateSpread, formatPct(spreadPct), formatPct(p.config.MaxSpreadPct)))

	// Gate 11: bullish pattern with volume confirmation.
	detection := p.deps.Recognizer.Detect(bars)
	if !detection.Bullish() {
		detail := "no bullish pattern"
		if detection.Bearish() {
			detail = "bearish pattern " + detection.Kind.String()
		}
		return rejected(failCheck(GatePattern, detection.Kind.String(), "bullish pattern", detail))
	}
	checks = append(checks, passCheck(GatePattern, detection.Kind.String(), "bullish pattern"))

	// Gate 12: confirmed breakout.
	confirmation, err := p.deps.Detector.Assess(bars, quote)
	if err != nil {
		return rejected(unavailableCheck(GateBreakout, err))
	}
	if !confirmation.Confirmed {
		return rejected(failCheck(GateBreakout, confirmation.Reason, "confirmed",
			fmt.Sprintf("close %.2f vs resistance %.2f", confirmation.Close, confirmation.Resistance)))
	}
	checks = append(checks, passCheck(GateBreakout, "confirmed", "confirmed"))

	score := Score(p.config.Score, detection, confirmation)
	signal := &Signal{
		ID:       uuid.New(),
		Symbol:   symbol,
		At:       started,
		Pattern:  detection,
		Breakout: confirmation,
		Quote:    quote,
		Close:    bars[len(bars)-1].Close,
		Score:    score,
		Checks:   checks,
	}
	log.Info().Str("symbol", symbol).Str("pattern", detection.Kind.String()).
		Int("score", score).Float64("close", signal.Close).Msg("Candidate admitted")

	return Decision{
		Symbol:    symbol,
		At:        started,
		Admitted:  true,
		Checks:    checks,
		Signal:    signal,
		ElapsedMs: time.Since(started).Milliseconds(),
	}
}

func qualityDetail(r QualityReport) string {
	switch r.Reason {
	case QualityZeroRange:
		return "zero-range bar"
	case QualityThinBody:
		return fmt.Sprintf("body %.2f of range", r.BodyRatio)
	case QualityUpperShadow:
		return fmt.Sprintf("upper shadow %.2f of range", r.UpperShadowRatio)
	case QualityLowVolume:
		return fmt.Sprintf("volume %.2fx trailing average", r.VolumeRatio)
	}
	return r.Reason
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
