package pattern

import (
	"math"

	"github.com/sawpanic/equityrun/internal/indicator"
	"github.com/sawpanic/equityrun/internal/market"
)

// Geometry thresholds are part of the pattern definitions and are not
// tunable. All ratio comparisons go through market.Above / market.Beneath
// so that a ratio sitting exactly on a threshold fails the pattern
// instead of flapping with float noise.
const (
	dojiBodyMax       = 0.10
	hammerBodyMax     = 0.35
	shadowBodyMult    = 2.0
	shadowRangeMax    = 0.10
	hammerPositionMin = 0.80
	invertedPosMax    = 0.20
	soldierBodySpread = 1.5
	soldierWickMax    = 0.25
)

// Config controls the volume confirmation applied to bullish detections.
type Config struct {
	// MinVolumeRatio is the minimum final-bar volume over the trailing
	// average for a bullish pattern to stand.
	MinVolumeRatio float64 `yaml:"min_volume_ratio" validate:"gt=0"`
	// VolumeLookback is the number of trailing bars averaged, excluding
	// the bar under evaluation.
	VolumeLookback int `yaml:"volume_lookback" validate:"gte=5"`
}

// DefaultConfig returns the confirmation thresholds used in production.
func DefaultConfig() Config {
	return Config{
		MinVolumeRatio: 1.2,
		VolumeLookback: 20,
	}
}

// Recognizer classifies bar windows. It keeps no state between calls:
// identical windows always produce identical detections.
type Recognizer struct {
	cfg Config
}

func NewRecognizer(cfg Config) *Recognizer {
	return &Recognizer{cfg: cfg}
}

// Detect returns at most one pattern for the window, which must be
// ordered oldest to newest. Bearish patterns are evaluated first and
// win outright whenever both sides would fire on the same window. A
// bullish pattern additionally needs its final bar's volume to reach
// MinVolumeRatio times the trailing average; without that confirmation
// the result degrades to no pattern at all.
func (r *Recognizer) Detect(bars []market.Bar) Detection {
	if d := r.bearish(bars); d.Kind != None {
		return d
	}
	return r.bullish(bars)
}

func (r *Recognizer) bearish(bars []market.Bar) Detection {
	if len(bars) < 2 {
		return Detection{}
	}
	prev, last := bars[len(bars)-2], bars[len(bars)-1]
	switch {
	case dojiShape(last):
		return detection(Doji, 0)
	case bearishEngulfing(prev, last):
		return detection(BearishEngulfing, 0)
	case invertedHammerShape(last) && last.Bearish():
		return detection(ShootingStar, 0)
	case hammerShape(last) && last.Bearish():
		return detection(HangingMan, 0)
	}
	return Detection{}
}

func (r *Recognizer) bullish(bars []market.Bar) Detection {
	n := len(bars)
	if n < 3 {
		return Detection{}
	}
	prev, last := bars[n-2], bars[n-1]

	var kind Kind
	switch {
	case threeWhiteSoldiers(bars[n-3], bars[n-2], bars[n-1]):
		kind = ThreeWhiteSoldiers
	case bullishEngulfing(prev, last):
		kind = BullishEngulfing
	case piercingLine(prev, last):
		kind = PiercingLine
	case hammerShape(last):
		kind = Hammer
	case invertedHammerShape(last):
		kind = InvertedHammer
	default:
		return Detection{}
	}

	ratio, err := indicator.VolumeRatio(bars, r.cfg.VolumeLookback)
	if err != nil {
		return Detection{}
	}
	if market.Beneath(ratio, r.cfg.MinVolumeRatio) {
		return Detection{}
	}
	return detection(kind, ratio)
}

func detection(k Kind, volumeRatio float64) Detection {
	return Detection{Kind: k, Confidence: k.Confidence(), VolumeRatio: volumeRatio}
}

// hammerShape: small body parked in the top fifth of the range, lower
// shadow at least twice the body, near-absent upper shadow. Read as
// bullish (Hammer) on its own, bearish (HangingMan) on a red bar.
func hammerShape(b market.Bar) bool {
	rng := b.Range()
	if !market.Above(rng, 0) {
		return false
	}
	body := b.Body()
	if !market.Beneath(body/rng, hammerBodyMax) {
		return false
	}
	if !market.Above(b.LowerShadow(), body*shadowBodyMult) {
		return false
	}
	if !market.Beneath(b.UpperShadow(), rng*shadowRangeMax) {
		return false
	}
	pos := (math.Max(b.Open, b.Close) - b.Low) / rng
	return market.Above(pos, hammerPositionMin)
}

// invertedHammerShape mirrors hammerShape: body in the bottom fifth,
// upper shadow at least twice the body. Bullish (InvertedHammer) on its
// own, bearish (ShootingStar) on a red bar.
func invertedHammerShape(b market.Bar) bool {
	rng := b.Range()
	if !market.Above(rng, 0) {
		return false
	}
	body := b.Body()
	if !market.Beneath(body/rng, hammerBodyMax) {
		return false
	}
	if !market.Above(b.UpperShadow(), body*shadowBodyMult) {
		return false
	}
	if !market.Beneath(b.LowerShadow(), rng*shadowRangeMax) {
		return false
	}
	pos := (math.Max(b.Open, b.Close) - b.Low) / rng
	return market.Beneath(pos, invertedPosMax)
}

// dojiShape: body under a tenth of the range. A bar with no range at
// all is a doji as well.
func dojiShape(b market.Bar) bool {
	rng := b.Range()
	if !market.Above(rng, 0) {
		return true
	}
	return market.Beneath(b.Body()/rng, dojiBodyMax)
}

func bullishEngulfing(prev, curr market.Bar) bool {
	if !prev.Bearish() || !curr.Bullish() {
		return false
	}
	return curr.Open <= prev.Close && curr.Close >= prev.Open
}

func bearishEngulfing(prev, curr market.Bar) bool {
	if !prev.Bullish() || !curr.Bearish() {
		return false
	}
	return curr.Open >= prev.Close && curr.Close <= prev.Open
}

func piercingLine(prev, curr market.Bar) bool {
	if !prev.Bearish() || !curr.Bullish() {
		return false
	}
	if curr.Open >= prev.Close {
		return false
	}
	mid := (prev.Open + prev.Close) / 2
	return curr.Close > mid
}

func threeWhiteSoldiers(c1, c2, c3 market.Bar) bool {
	if !c1.Bullish() || !c2.Bullish() || !c3.Bullish() {
		return false
	}
	if !(c1.Close < c2.Close && c2.Close < c3.Close) {
		return false
	}
	minBody, maxBody := c1.Body(), c1.Body()
	for _, b := range []market.Bar{c2, c3} {
		body := b.Body()
		if body < minBody {
			minBody = body
		}
		if body > maxBody {
			maxBody = body
		}
	}
	if !market.Beneath(maxBody, minBody*soldierBodySpread) {
		return false
	}
	for _, b := range []market.Bar{c1, c2, c3} {
		rng := b.Range()
		if market.Above(rng, 0) && !market.Beneath(b.UpperShadow(), rng*soldierWickMax) {
			return false
		}
	}
	return true
}
