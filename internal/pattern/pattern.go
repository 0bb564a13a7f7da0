// Package pattern classifies a window of recent bars into a single
// candlestick reversal pattern, following the Nison definitions for
// body, shadow, and range geometry.
package pattern

// Kind identifies one candlestick pattern.
type Kind int

const (
	None Kind = iota
	Hammer
	InvertedHammer
	BullishEngulfing
	PiercingLine
	ThreeWhiteSoldiers
	Doji
	BearishEngulfing
	ShootingStar
	HangingMan
)

func (k Kind) String() string {
	switch k {
	case Hammer:
		return "hammer"
	case InvertedHammer:
		return "inverted_hammer"
	case BullishEngulfing:
		return "bullish_engulfing"
	case PiercingLine:
		return "piercing_line"
	case ThreeWhiteSoldiers:
		return "three_white_soldiers"
	case Doji:
		return "doji"
	case BearishEngulfing:
		return "bearish_engulfing"
	case ShootingStar:
		return "shooting_star"
	case HangingMan:
		return "hanging_man"
	default:
		return "none"
	}
}

// Direction is the side a pattern argues for.
type Direction int

const (
	NoDirection Direction = iota
	DirectionBullish
	DirectionBearish
)

func (d Direction) String() string {
	switch d {
	case DirectionBullish:
		return "bullish"
	case DirectionBearish:
		return "bearish"
	default:
		return "none"
	}
}

// Direction returns the side k argues for.
func (k Kind) Direction() Direction {
	switch k {
	case Hammer, InvertedHammer, BullishEngulfing, PiercingLine, ThreeWhiteSoldiers:
		return DirectionBullish
	case Doji, BearishEngulfing, ShootingStar, HangingMan:
		return DirectionBearish
	default:
		return NoDirection
	}
}

// Confidence returns the fixed base confidence for k on a 0-100 scale.
// Confidence is informational; it never relaxes any admission check.
func (k Kind) Confidence() int {
	switch k {
	case ThreeWhiteSoldiers:
		return 90
	case BullishEngulfing, BearishEngulfing:
		return 85
	case PiercingLine:
		return 80
	case Hammer, ShootingStar, HangingMan:
		return 75
	case InvertedHammer:
		return 70
	case Doji:
		return 60
	default:
		return 0
	}
}

// Detection is the outcome of one recognizer evaluation. The zero value
// means no pattern. VolumeRatio is the final bar's volume over the
// trailing average and is only populated for bullish detections, which
// are the only ones gated on it.
type Detection struct {
	Kind        Kind    `json:"kind"`
	Confidence  int     `json:"confidence"`
	VolumeRatio float64 `json:"volume_ratio,omitempty"`
}

// Bullish reports whether the detection is a volume-confirmed bullish
// pattern.
func (d Detection) Bullish() bool {
	return d.Kind.Direction() == DirectionBullish
}

// Bearish reports whether the detection is a bearish pattern.
func (d Detection) Bearish() bool {
	return d.Kind.Direction() == DirectionBearish
}
