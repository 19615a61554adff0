// Package derive turns raw predictions into display-ready numbers and
// guidance. Everything here is pure and synchronous.
package derive

import (
	"math"

	"github.com/nimishamba325/Coral-reef/internal/prediction"
)

// Metrics is the healthy/bleached split shown next to a verdict.
// The two percentages always sum to 100.
type Metrics struct {
	HealthyPercent  int `json:"healthy_percent"`
	BleachedPercent int `json:"bleached_percent"`
}

// HealthPercent frames a prediction as "how healthy" on a 0-100 scale.
//
// For a bleached verdict this is 100 minus the bleached confidence, which
// treats the classifier's confidence in "bleached" as the complement of its
// confidence in "healthy".
func HealthPercent(result prediction.Result) int {
	percent := int(math.Round(result.Confidence * 100))
	if result.Label != prediction.Healthy {
		percent = 100 - percent
	}
	return clamp(percent, 0, 100)
}

// MetricsFor derives the healthy/bleached split for result.
func MetricsFor(result prediction.Result) Metrics {
	healthy := HealthPercent(result)
	return Metrics{HealthyPercent: healthy, BleachedPercent: 100 - healthy}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
