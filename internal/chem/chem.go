// Package chem derives chemistry values the upstream API does not return
// directly.
package chem

import (
	"github.com/shopspring/decimal"

	"poolwatcher/internal/labcom"
)

// Derived metric names as exposed in snapshots.
const (
	MetricCombinedChlorine = "combined_chlorine"
	MetricUnboundChlorine  = "unbound_chlorine"
	MetricBoundToCYA       = "bound_to_cya"
)

// Defaults substituted when the optional ActiveChlorine inputs are missing.
const (
	DefaultCYA         = 0.0
	DefaultTemperature = 25.0
)

// CombinedChlorine computes combined chlorine (chloramines) from the latest
// values of one device: total minus free, clamped at zero and rounded to two
// decimals. Combined chlorine cannot be physically negative; a negative raw
// difference is measurement noise and is suppressed. Returns nil when either
// input is absent; a missing reading is not zero chlorine.
func CombinedChlorine(latest map[string]labcom.Measurement) *float64 {
	free, okFree := latest[labcom.ParamFreeChlorine]
	total, okTotal := latest[labcom.ParamTotalCl]
	if !okFree || !okTotal {
		return nil
	}

	combined := decimal.NewFromFloat(total.Value).
		Sub(decimal.NewFromFloat(free.Value))
	if combined.IsNegative() {
		combined = decimal.Zero
	}

	value := combined.Round(2).InexactFloat64()
	return &value
}

// ActiveChlorineInputs extracts the inputs for the upstream ActiveChlorine
// calculation from a latest-value snapshot. ok is false when the required
// pH and free-chlorine readings are not both present; CYA and temperature
// fall back to defaults when absent.
func ActiveChlorineInputs(latest map[string]labcom.Measurement) (temperature, ph, chlorine, cya float64, ok bool) {
	phReading, okPH := latest[labcom.ParamPH]
	clReading, okCl := latest[labcom.ParamFreeChlorine]
	if !okPH || !okCl {
		return 0, 0, 0, 0, false
	}

	temperature = DefaultTemperature
	if t, okTemp := latest[labcom.ParamTemperature]; okTemp {
		temperature = t.Value
	}
	cya = DefaultCYA
	if c, okCYA := latest[labcom.ParamCyanuricAcid]; okCYA {
		cya = c.Value
	}

	return temperature, phReading.Value, clReading.Value, cya, true
}
