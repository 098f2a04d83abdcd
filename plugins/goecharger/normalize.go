package goecharger

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Indices into the nrg array.
const (
	nrgVoltageL1 = 0
	nrgPowerL1   = 7
	nrgPowerL2   = 8
	nrgPowerL3   = 9
	nrgPowerSum  = 11
)

// MapStatus converts the vendor car state into the canonical status code.
// Unknown states report as disconnected.
func MapStatus(car int) int {
	switch car {
	case CarReadyNoVehicle:
		return StatusDisconnected
	case CarCharging:
		return StatusCharging
	case CarWaitingForVehicle:
		return StatusWaitingStart
	case CarFinishedConnected:
		return StatusCharged
	default:
		return StatusDisconnected
	}
}

// Normalize converts one status document into canonical values. It does no I/O.
func Normalize(raw RawTelemetry) (Snapshot, error) {
	if err := validate(telemetrySchema, raw); err != nil {
		return Snapshot{}, err
	}

	nrg, err := numbers(raw, "nrg")
	if err != nil {
		return Snapshot{}, err
	}
	amp, err := integer(raw, "amp")
	if err != nil {
		return Snapshot{}, err
	}
	eto, err := decimal(raw, "eto")
	if err != nil {
		return Snapshot{}, err
	}
	tmp, err := integer(raw, "tmp")
	if err != nil {
		return Snapshot{}, err
	}
	car, err := integer(raw, "car")
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		CurrentA:     amp,
		SetCurrentA:  amp,
		MaxCurrentA:  MaxCurrentA,
		TemperatureC: tmp,
		Status:       MapStatus(car),
		Mode:         ModeManual,
	}

	// Scale left to right; truncation depends on the intermediate rounding.
	for _, f := range []struct {
		field string
		value float64
		dst   *int
	}{
		{"nrg/7", nrg[nrgPowerL1] * 0.1 * 1000, &snap.L1PowerW},
		{"nrg/8", nrg[nrgPowerL2] * 0.1 * 1000, &snap.L2PowerW},
		{"nrg/9", nrg[nrgPowerL3] * 0.1 * 1000, &snap.L3PowerW},
		{"nrg/11", nrg[nrgPowerSum] * 0.01 * 1000, &snap.PowerW},
		{"nrg/0", nrg[nrgVoltageL1], &snap.VoltageV},
		{"eto", eto / 10.0, &snap.EnergyForward},
	} {
		if *f.dst, err = whole(f.field, f.value); err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

// maxWhole is the largest magnitude a float64 holds without losing integer precision.
const maxWhole = 1 << 53

// whole truncates f toward zero and rejects magnitudes past maxWhole.
func whole(field string, f float64) (int, error) {
	if math.Abs(f) > maxWhole {
		return 0, &NormalizeError{Field: field, Err: fmt.Errorf("%g is out of range", f)}
	}
	return int(f), nil
}

func numbers(raw RawTelemetry, field string) ([]float64, error) {
	items, ok := raw[field].([]any)
	if !ok {
		return nil, &NormalizeError{Field: field, Err: fmt.Errorf("expected array, got %T", raw[field])}
	}
	out := make([]float64, len(items))
	for i, item := range items {
		f, err := toFloat(item)
		if err != nil {
			return nil, &NormalizeError{Field: fmt.Sprintf("%s/%d", field, i), Err: err}
		}
		out[i] = f
	}
	return out, nil
}

// integer reads a number or integer string, truncating fractions toward zero.
func integer(raw RawTelemetry, field string) (int, error) {
	switch v := raw[field].(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, &NormalizeError{Field: field, Err: err}
		}
		return n, nil
	default:
		f, err := toFloat(v)
		if err != nil {
			return 0, &NormalizeError{Field: field, Err: err}
		}
		return whole(field, f)
	}
}

func decimal(raw RawTelemetry, field string) (float64, error) {
	switch v := raw[field].(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, &NormalizeError{Field: field, Err: err}
		}
		return f, nil
	default:
		f, err := toFloat(v)
		if err != nil {
			return 0, &NormalizeError{Field: field, Err: err}
		}
		return f, nil
	}
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case float64:
		f = n
	case int:
		f = float64(n)
	case nil:
		return 0, fmt.Errorf("missing")
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", f)
	}
	return f, nil
}
