package goecharger

import (
	"errors"
	"fmt"
	"time"
)

// RawTelemetry is the decoded /status document. Numbers are json.Number.
type RawTelemetry map[string]any

// Vendor car states reported in the "car" field.
const (
	CarReadyNoVehicle    = 1
	CarCharging          = 2
	CarWaitingForVehicle = 3
	CarFinishedConnected = 4
)

// Canonical EV charger status codes.
const (
	StatusDisconnected = 0
	StatusCharging     = 2
	StatusCharged      = 3
	StatusWaitingStart = 6
)

// ModeManual is the only mode the bridge reports: manual, no control.
const ModeManual = 0

// MaxCurrentA is published as-is; the per-vehicle limit is not read from the charger.
const MaxCurrentA = 16

// Snapshot is the canonical attribute values produced by one poll.
type Snapshot struct {
	L1PowerW      int
	L2PowerW      int
	L3PowerW      int
	PowerW        int
	VoltageV      int
	CurrentA      int
	SetCurrentA   int
	MaxCurrentA   int
	EnergyForward int
	TemperatureC  int
	Status        int
	Mode          int
}

// FetchErrorKind separates transport failures from unusable bodies.
type FetchErrorKind int

const (
	FetchTransport FetchErrorKind = iota + 1
	FetchDecode
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchTransport:
		return "transport"
	case FetchDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// FetchError is returned by Client.Fetch.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NormalizeError reports a telemetry document with an unexpected shape.
type NormalizeError struct {
	Field string
	Err   error
}

func (e *NormalizeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("normalize: %v", e.Err)
	}
	return fmt.Sprintf("normalize %s: %v", e.Field, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }

// Outcome classifies a poll cycle.
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeFetchFailed     Outcome = "fetch"
	OutcomeNormalizeFailed Outcome = "normalize"
	OutcomeApplyFailed     Outcome = "apply"
	OutcomePanic           Outcome = "panic"
)

// CycleResult is what one poll cycle produced.
type CycleResult struct {
	Outcome     Outcome
	Err         error
	Snapshot    Snapshot
	UpdateIndex uint8
	Started     time.Time
	Duration    time.Duration
}

// OK reports whether the cycle published a snapshot.
func (r CycleResult) OK() bool {
	return r.Outcome == OutcomeOK
}

// outcomeFor maps a cycle error to its outcome.
func outcomeFor(err error) Outcome {
	var fetchErr *FetchError
	var normErr *NormalizeError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &fetchErr):
		return OutcomeFetchFailed
	case errors.As(err, &normErr):
		return OutcomeNormalizeFailed
	default:
		return OutcomeApplyFailed
	}
}

// LivenessReport is the read-only diagnostic summary logged by the sign-of-life task.
type LivenessReport struct {
	LastUpdate  time.Time
	PowerW      any
	UpdateIndex uint8
	Successes   uint64
	Failures    uint64
	LastError   string
}
