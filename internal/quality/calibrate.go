package quality

import "github.com/mkeane/chartex/internal/extract"

// corroborationBonusStep and corroborationBonusCap bound the reward for the
// same normalized value arriving from independent sections or notes.
const (
	corroborationBonusStep = 0.05
	corroborationBonusCap  = 1.15
)

// Multiplier is the grade's confidence multiplier: a monotonically
// non-decreasing step function, worse grade never above a better one.
func Multiplier(g Grade) float64 {
	switch g {
	case GradeExcellent:
		return 1.0
	case GradeGood:
		return 0.95
	case GradeFair:
		return 0.85
	case GradePoor:
		return 0.70
	default:
		return 0.55
	}
}

// CorroborationBonus rewards extra independent sources, capped.
func CorroborationBonus(extraSources int) float64 {
	if extraSources <= 0 {
		return 1.0
	}
	bonus := 1.0 + corroborationBonusStep*float64(extraSources)
	if bonus > corroborationBonusCap {
		return corroborationBonusCap
	}
	return bonus
}

// Calibrator rescales raw confidences by a fixed quality grade.
type Calibrator struct {
	grade      Grade
	multiplier float64
}

// NewCalibrator builds a calibrator for one assessed note.
func NewCalibrator(grade Grade) *Calibrator {
	return &Calibrator{grade: grade, multiplier: Multiplier(grade)}
}

// Grade reports the grade this calibrator applies.
func (c *Calibrator) Grade() Grade { return c.grade }

// CalibrateField returns the field with calibrated confidence. Already
// calibrated fields pass through untouched, so recalibration with the same
// grade is a no-op.
func (c *Calibrator) CalibrateField(f extract.Field) extract.Field {
	if f.Calibrated {
		return f
	}
	v := f.RawConfidence * c.multiplier * CorroborationBonus(f.Corroborations)
	if v > 1 {
		v = 1
	}
	if v < 0 {
		v = 0
	}
	f.Confidence = v
	f.Calibrated = true
	return f
}

// Calibrate calibrates every candidate of every field, returning a new map.
func (c *Calibrator) Calibrate(fields map[string][]extract.Field) map[string][]extract.Field {
	out := make(map[string][]extract.Field, len(fields))
	for name, candidates := range fields {
		calibrated := make([]extract.Field, len(candidates))
		for i, f := range candidates {
			calibrated[i] = c.CalibrateField(f)
		}
		out[name] = calibrated
	}
	return out
}
