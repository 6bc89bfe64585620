package chem

import (
	"testing"

	"poolwatcher/internal/labcom"
)

func latestWith(values map[string]float64) map[string]labcom.Measurement {
	latest := make(map[string]labcom.Measurement, len(values))
	for param, v := range values {
		latest[param] = labcom.Measurement{Parameter: param, Value: v}
	}
	return latest
}

func TestCombinedChlorine(t *testing.T) {
	latest := latestWith(map[string]float64{
		labcom.ParamFreeChlorine: 2.5,
		labcom.ParamTotalCl:      3.0,
	})

	got := CombinedChlorine(latest)
	if got == nil {
		t.Fatal("expected a value")
	}
	if *got != 0.5 {
		t.Fatalf("expected 0.5, got %v", *got)
	}
}

func TestCombinedChlorineClampedAtZero(t *testing.T) {
	latest := latestWith(map[string]float64{
		labcom.ParamFreeChlorine: 3.0,
		labcom.ParamTotalCl:      2.8,
	})

	got := CombinedChlorine(latest)
	if got == nil {
		t.Fatal("expected a value")
	}
	if *got != 0.0 {
		t.Fatalf("negative difference must clamp to zero, got %v", *got)
	}
}

func TestCombinedChlorineMissingInput(t *testing.T) {
	onlyFree := latestWith(map[string]float64{labcom.ParamFreeChlorine: 2.5})
	if got := CombinedChlorine(onlyFree); got != nil {
		t.Fatalf("missing total chlorine must yield nil, got %v", *got)
	}

	onlyTotal := latestWith(map[string]float64{labcom.ParamTotalCl: 3.0})
	if got := CombinedChlorine(onlyTotal); got != nil {
		t.Fatalf("missing free chlorine must yield nil, got %v", *got)
	}
}

func TestCombinedChlorineRounding(t *testing.T) {
	latest := latestWith(map[string]float64{
		labcom.ParamFreeChlorine: 1.1,
		labcom.ParamTotalCl:      1.3,
	})

	got := CombinedChlorine(latest)
	if got == nil {
		t.Fatal("expected a value")
	}
	// 1.3 - 1.1 in binary floats is 0.19999...; decimal arithmetic keeps it
	// exact at two places.
	if *got != 0.2 {
		t.Fatalf("expected 0.2, got %v", *got)
	}
}

func TestActiveChlorineInputs(t *testing.T) {
	latest := latestWith(map[string]float64{
		labcom.ParamPH:           7.2,
		labcom.ParamFreeChlorine: 2.5,
		labcom.ParamTemperature:  28.0,
		labcom.ParamCyanuricAcid: 50.0,
	})

	temperature, ph, chlorine, cya, ok := ActiveChlorineInputs(latest)
	if !ok {
		t.Fatal("all inputs present, expected ok")
	}
	if temperature != 28.0 || ph != 7.2 || chlorine != 2.5 || cya != 50.0 {
		t.Fatalf("unexpected inputs: temp=%v ph=%v cl=%v cya=%v", temperature, ph, chlorine, cya)
	}
}

func TestActiveChlorineInputsDefaults(t *testing.T) {
	latest := latestWith(map[string]float64{
		labcom.ParamPH:           7.2,
		labcom.ParamFreeChlorine: 2.5,
	})

	temperature, _, _, cya, ok := ActiveChlorineInputs(latest)
	if !ok {
		t.Fatal("required inputs present, expected ok")
	}
	if temperature != DefaultTemperature {
		t.Fatalf("expected default temperature %v, got %v", DefaultTemperature, temperature)
	}
	if cya != DefaultCYA {
		t.Fatalf("expected default cya %v, got %v", DefaultCYA, cya)
	}
}

func TestActiveChlorineInputsMissingRequired(t *testing.T) {
	latest := latestWith(map[string]float64{labcom.ParamPH: 7.2})
	if _, _, _, _, ok := ActiveChlorineInputs(latest); ok {
		t.Fatal("missing free chlorine must not be ok")
	}
}
