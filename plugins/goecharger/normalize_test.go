package goecharger

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleStatus mirrors a v1 /status document; the charger sends most scalars as strings.
const sampleStatus = `{
  "version": "B",
  "car": "2",
  "amp": "10",
  "err": "0",
  "alw": "1",
  "tmp": "25",
  "eto": "12345",
  "nrg": [230, 231, 229, 0, 160, 161, 159, 50, 60, 70, 0, 1500, 97, 98, 99, 0],
  "fwv": "040.0",
  "sse": "012345"
}`

func decodeRaw(t *testing.T, doc string) RawTelemetry {
	t.Helper()
	raw, err := decodeTelemetry([]byte(doc))
	require.NoError(t, err)
	return raw
}

func statusWith(t *testing.T, field, value string) RawTelemetry {
	t.Helper()
	raw := decodeRaw(t, sampleStatus)
	if value == "" {
		delete(raw, field)
		return raw
	}
	patch := decodeRaw(t, `{"`+field+`": `+value+`}`)
	raw[field] = patch[field]
	return raw
}

func TestNormalizeSampleStatus(t *testing.T) {
	snap, err := Normalize(decodeRaw(t, sampleStatus))
	require.NoError(t, err)

	assert.Equal(t, Snapshot{
		L1PowerW:      5000,
		L2PowerW:      6000,
		L3PowerW:      7000,
		PowerW:        15000,
		VoltageV:      230,
		CurrentA:      10,
		SetCurrentA:   10,
		MaxCurrentA:   16,
		EnergyForward: 1234,
		TemperatureC:  25,
		Status:        StatusCharging,
		Mode:          ModeManual,
	}, snap)
}

func TestNormalizeNumericFields(t *testing.T) {
	raw := decodeRaw(t, `{
		"car": 4, "amp": 16.9, "tmp": -3, "eto": "123.9",
		"nrg": [229.7, 0, 0, 0, 0, 0, 0, 1, 2, 3, 0, 803]
	}`)
	snap, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, 100, snap.L1PowerW)
	assert.Equal(t, 200, snap.L2PowerW)
	assert.Equal(t, 300, snap.L3PowerW)
	// 803 * 0.01 * 1000 lands just below 8030
	assert.Equal(t, 8029, snap.PowerW)
	assert.Equal(t, 229, snap.VoltageV)
	assert.Equal(t, 16, snap.CurrentA)
	assert.Equal(t, 12, snap.EnergyForward)
	assert.Equal(t, -3, snap.TemperatureC)
	assert.Equal(t, StatusCharged, snap.Status)
}

func TestMapStatus(t *testing.T) {
	cases := map[int]int{
		1:  StatusDisconnected,
		2:  StatusCharging,
		3:  StatusWaitingStart,
		4:  StatusCharged,
		0:  StatusDisconnected,
		5:  StatusDisconnected,
		-1: StatusDisconnected,
	}
	for car, want := range cases {
		assert.Equal(t, want, MapStatus(car), "car=%d", car)
	}
	assert.Equal(t, MapStatus(5), MapStatus(0))
}

func TestNormalizeModeIsAlwaysManual(t *testing.T) {
	raw := statusWith(t, "car", `"3"`)
	raw["mode"] = "1"
	snap, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, ModeManual, snap.Mode)
	assert.Equal(t, StatusWaitingStart, snap.Status)
}

func TestNormalizeIsDeterministic(t *testing.T) {
	raw := decodeRaw(t, sampleStatus)
	first, err := Normalize(raw)
	require.NoError(t, err)
	second, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalizeRejectsBadShapes(t *testing.T) {
	cases := []struct {
		name  string
		field string
		value string
	}{
		{"short nrg", "nrg", `[230, 0, 0, 0, 0, 0, 0, 50, 60, 70, 0]`},
		{"nrg not array", "nrg", `"230"`},
		{"nrg holds text", "nrg", `[230, 0, 0, 0, 0, 0, 0, "x", 60, 70, 0, 1500]`},
		{"missing amp", "amp", ``},
		{"amp fraction string", "amp", `"10.5"`},
		{"car text", "car", `"charging"`},
		{"eto text", "eto", `"lots"`},
		{"missing tmp", "tmp", ``},
		{"tmp null", "tmp", `null`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(statusWith(t, tc.field, tc.value))
			require.Error(t, err)

			var normErr *NormalizeError
			require.True(t, errors.As(err, &normErr), "got %T", err)
			assert.True(t, strings.HasPrefix(normErr.Field, tc.field), "field %q", normErr.Field)
		})
	}
}

func TestNormalizeRejectsOutOfRangeMagnitudes(t *testing.T) {
	cases := []struct {
		field string
		value string
		want  string
	}{
		{"eto", `1e30`, "eto"},
		{"eto", `"-1000000000000000000000000000000"`, "eto"},
		{"amp", `1e20`, "amp"},
		{"tmp", `-1e19`, "tmp"},
		{"nrg", `[230, 0, 0, 0, 0, 0, 0, 50, 60, 70, 0, 1e300]`, "nrg/11"},
		{"nrg", `[1e17, 0, 0, 0, 0, 0, 0, 50, 60, 70, 0, 1500]`, "nrg/0"},
	}
	for _, tc := range cases {
		t.Run(tc.want+" "+tc.value, func(t *testing.T) {
			_, err := Normalize(statusWith(t, tc.field, tc.value))
			var normErr *NormalizeError
			require.ErrorAs(t, err, &normErr)
			assert.Equal(t, tc.want, normErr.Field)
			assert.Contains(t, err.Error(), "out of range")
		})
	}

	// the largest exact magnitude still converts
	snap, err := Normalize(statusWith(t, "eto", `90071992547409920`))
	require.NoError(t, err)
	assert.Equal(t, 9007199254740992, snap.EnergyForward)
}

func TestIdentityFromTelemetry(t *testing.T) {
	id, err := IdentityFromTelemetry(7, decodeRaw(t, sampleStatus))
	require.NoError(t, err)

	assert.Equal(t, 7, id.DeviceInstance)
	assert.Equal(t, 400, id.FirmwareVersion)
	assert.Equal(t, "012345", id.Serial)
	assert.Equal(t, "go-eCharger", id.ProductName)
	assert.Equal(t, "go-eCharger", id.CustomName)
	assert.Equal(t, 0xFFFF, id.ProductID)
	assert.Equal(t, 2, id.HardwareVersion)
	assert.Equal(t, "go-eCharger HTTP JSON service", id.Connection)
	assert.NotEmpty(t, id.ProcessName)
	assert.NotEmpty(t, id.ProcessVersion)
}

func TestIdentityFromTelemetryErrors(t *testing.T) {
	var normErr *NormalizeError

	_, err := IdentityFromTelemetry(1, statusWith(t, "fwv", `"v4-beta"`))
	require.ErrorAs(t, err, &normErr)
	assert.Equal(t, "fwv", normErr.Field)

	_, err = IdentityFromTelemetry(1, statusWith(t, "sse", ``))
	require.ErrorAs(t, err, &normErr)
	assert.Equal(t, "sse", normErr.Field)

	id, err := IdentityFromTelemetry(1, statusWith(t, "sse", `998877`))
	require.NoError(t, err)
	assert.Equal(t, "998877", id.Serial)
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "com.victronenergy.evcharger.http_01", ServiceName(1))
	assert.Equal(t, "com.victronenergy.evcharger.http_42", ServiceName(42))
	assert.Equal(t, "com.victronenergy.evcharger.http_100", ServiceName(100))
}
