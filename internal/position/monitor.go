package position

import (
	"fmt"

	"github.com/sawpanic/equityrun/internal/market"
)

// MonitorConfig holds the exit thresholds and windows applied on every
// monitor tick.
type MonitorConfig struct {
	// EmergencyNewsMinutes is the trailing headline window that forces
	// an emergency close; it is much tighter than the admission window.
	EmergencyNewsMinutes int `yaml:"emergency_news_minutes" validate:"gt=0"`
	DowngradeWindowDays  int `yaml:"downgrade_window_days" validate:"gt=0"`

	// SpreadMultiple scales MaxSpreadPct into the emergency ceiling.
	SpreadMultiple float64 `yaml:"spread_multiple" validate:"gte=1"`
	MaxSpreadPct   float64 `yaml:"max_spread_pct" validate:"gt=0"`

	// FillTimeoutSeconds bounds how long a pending entry may wait for
	// its fill before the slot is released.
	FillTimeoutSeconds int `yaml:"fill_timeout_seconds" validate:"gt=0"`
}

// DefaultMonitorConfig returns the production exit settings.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		EmergencyNewsMinutes: 10,
		DowngradeWindowDays:  1,
		SpreadMultiple:       2.0,
		MaxSpreadPct:         0.005,
		FillTimeoutSeconds:   120,
	}
}

// TickInputs is one monitor observation for an open position. The
// boolean flags are resolved by the caller against the emergency
// windows; Price is the latest trade or midpoint, zero when unknown.
type TickInputs struct {
	Price         float64
	Quote         market.Quote
	NegativeNews  bool
	Downgraded    bool
	RegimeBearish bool
}

// Verdict is the outcome of one exit evaluation. When ShouldExit is
// set, State carries the terminal state the position must move to.
type Verdict struct {
	ShouldExit bool
	State      State
	Reason     string
	Detail     string
}

func exitVerdict(state State, reason, detail string) Verdict {
	return Verdict{ShouldExit: true, State: state, Reason: reason, Detail: detail}
}

// Evaluate runs the exit chain for an open position in precedence
// order: emergency conditions, then the protective stop, then the
// profit target. Price ties trigger both stop and target; emergencies
// win whenever they coincide with either.
func Evaluate(cfg MonitorConfig, p Position, in TickInputs) Verdict {
	// 1. Emergency conditions, highest precedence.
	switch {
	case in.NegativeNews:
		return exitVerdict(ClosedEmergency, ReasonEmergencyNews,
			fmt.Sprintf("negative headline within %dm", cfg.EmergencyNewsMinutes))
	case in.Downgraded:
		return exitVerdict(ClosedEmergency, ReasonEmergencyDowngrade,
			fmt.Sprintf("analyst downgrade within %dd", cfg.DowngradeWindowDays))
	case in.Quote.Valid() && market.Above(in.Quote.SpreadPct(), cfg.SpreadMultiple*cfg.MaxSpreadPct):
		return exitVerdict(ClosedEmergency, ReasonEmergencySpread,
			fmt.Sprintf("spread %.4f above emergency ceiling %.4f",
				in.Quote.SpreadPct(), cfg.SpreadMultiple*cfg.MaxSpreadPct))
	case in.RegimeBearish:
		return exitVerdict(ClosedEmergency, ReasonEmergencyRegime, "market regime flipped bearish")
	}

	if in.Price <= 0 {
		return Verdict{}
	}

	// 2. Protective stop.
	if !market.Above(in.Price, p.Stop) {
		return exitVerdict(ClosedStop, ReasonStopLoss,
			fmt.Sprintf("price %.2f at or below stop %.2f", in.Price, p.Stop))
	}

	// 3. Profit target, lowest precedence.
	if !market.Beneath(in.Price, p.Target) {
		return exitVerdict(ClosedTarget, ReasonProfitTarget,
			fmt.Sprintf("price %.2f at or above target %.2f", in.Price, p.Target))
	}

	return Verdict{}
}
