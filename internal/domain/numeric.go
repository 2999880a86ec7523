package domain

import "math"

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Round rounds half away from zero, the convention for all persisted scores.
func Round(v float64) float64 {
	return math.Round(v)
}

// Severity is the detector band of a signal.
type Severity string

const (
	SeverityLow  Severity = "low"
	SeverityMed  Severity = "med"
	SeverityHigh Severity = "high"
)

// Rank orders severities for truncation tie-breaks; unknown bands sort lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMed:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ConfidenceLabel buckets a 0..100 confidence score.
type ConfidenceLabel string

const (
	LabelHidden ConfidenceLabel = "HIDDEN"
	LabelLow    ConfidenceLabel = "LOW"
	LabelMedium ConfidenceLabel = "MEDIUM"
	LabelHigh   ConfidenceLabel = "HIGH"
)

// LabelForScore maps a confidence score to its label band.
func LabelForScore(score float64) ConfidenceLabel {
	switch {
	case score >= 80:
		return LabelHigh
	case score >= 60:
		return LabelMedium
	case score >= 40:
		return LabelLow
	default:
		return LabelHidden
	}
}
