package gate

import (
	"github.com/sawpanic/equityrun/internal/indicator"
	"github.com/sawpanic/equityrun/internal/market"
)

// QualityConfig bounds the shape and participation of the latest candle
// before any pattern work happens. A candle that is all indecision or
// all upper wick is not worth classifying.
type QualityConfig struct {
	MinBodyRatio        float64 `yaml:"min_body_ratio" validate:"gt=0,lt=1"`
	MaxUpperShadowRatio float64 `yaml:"max_upper_shadow_ratio" validate:"gt=0,lt=1"`
	MinVolumeRatio      float64 `yaml:"min_volume_ratio" validate:"gt=0"`
	VolumeLookback      int     `yaml:"volume_lookback" validate:"gte=5"`
}

// DefaultQualityConfig returns the production thresholds.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		MinBodyRatio:        0.20,
		MaxUpperShadowRatio: 0.50,
		MinVolumeRatio:      0.5,
		VolumeLookback:      20,
	}
}

// QualityReport carries the measured ratios and the first failing
// measure when the candle is rejected.
type QualityReport struct {
	OK               bool    `json:"ok"`
	BodyRatio        float64 `json:"body_ratio"`
	UpperShadowRatio float64 `json:"upper_shadow_ratio"`
	VolumeRatio      float64 `json:"volume_ratio"`
	Reason           string  `json:"reason,omitempty"`
}

// Quality-reject reasons.
const (
	QualityZeroRange   = "zero_range"
	QualityThinBody    = "thin_body"
	QualityUpperShadow = "upper_shadow"
	QualityLowVolume   = "low_volume"
)

// AssessQuality measures the latest bar against cfg. It needs
// cfg.VolumeLookback+1 bars for the participation check and errors when
// the window is shorter.
func AssessQuality(cfg QualityConfig, bars []market.Bar) (QualityReport, error) {
	volRatio, err := indicator.VolumeRatio(bars, cfg.VolumeLookback)
	if err != nil {
		return QualityReport{}, err
	}

	last := bars[len(bars)-1]
	report := QualityReport{VolumeRatio: volRatio}

	rng := last.Range()
	if rng <= 0 {
		report.Reason = QualityZeroRange
		return report, nil
	}
	report.BodyRatio = last.Body() / rng
	report.UpperShadowRatio = last.UpperShadow() / rng

	switch {
	case market.Beneath(report.BodyRatio, cfg.MinBodyRatio):
		report.Reason = QualityThinBody
	case market.Above(report.UpperShadowRatio, cfg.MaxUpperShadowRatio):
		report.Reason = QualityUpperShadow
	case market.Beneath(report.VolumeRatio, cfg.MinVolumeRatio):
		report.Reason = QualityLowVolume
	default:
		report.OK = true
	}
	return report, nil
}
