package stats

import (
	"math"

	"workflowaudit/internal/domain"
)

const (
	// AnomalyZ is the |z| above which a single record is anomalous.
	AnomalyZ = 3.0
	// trendBand is the relative change between half averages treated as flat.
	trendBand = 0.05
)

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the population standard deviation.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	varianceSum := 0.0
	for _, v := range values {
		diff := v - m
		varianceSum += diff * diff
	}
	return math.Sqrt(varianceSum / float64(len(values)))
}

// ZScore is 0 when sd is 0.
func ZScore(value, m, sd float64) float64 {
	if sd == 0 {
		return 0
	}
	return (value - m) / sd
}

// Trend compares the averages of the first and second halves of values.
func Trend(values []float64) domain.Trend {
	if len(values) < 2 {
		return domain.TrendStable
	}
	half := len(values) / 2
	first := mean(values[:half])
	second := mean(values[half:])
	if first == 0 {
		return domain.TrendStable
	}
	change := (second - first) / math.Abs(first)
	switch {
	case change > trendBand:
		return domain.TrendIncreasing
	case change < -trendBand:
		return domain.TrendDecreasing
	default:
		return domain.TrendStable
	}
}

// Classify buckets |z| into a risk level. Higher |z| never yields a lower level.
func Classify(z float64) domain.RiskLevel {
	abs := math.Abs(z)
	switch {
	case abs > 10:
		return domain.RiskCritical
	case abs > 5:
		return domain.RiskHigh
	default:
		return domain.RiskMedium
	}
}

type AnomalyCheck struct {
	Mean      float64
	StdDev    float64
	ZScore    float64
	Anomalous bool
	Level     domain.RiskLevel
}

// CheckAnomaly scores current against a history of values.
func CheckAnomaly(history []float64, current float64) AnomalyCheck {
	m := mean(history)
	sd := stdDev(history)
	z := ZScore(current, m, sd)
	return AnomalyCheck{
		Mean:      m,
		StdDev:    sd,
		ZScore:    z,
		Anomalous: math.Abs(z) > AnomalyZ,
		Level:     Classify(z),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(value float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Round(value*factor) / factor
}
