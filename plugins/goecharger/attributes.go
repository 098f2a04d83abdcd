package goecharger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/joshp123/goe-bridge/internal/devbus"
)

const (
	ServicePrefix  = "com.victronenergy.evcharger"
	ProductName    = "go-eCharger"
	ConnectionName = "go-eCharger HTTP JSON service"
	ProductID      = 0xFFFF
	HardwareVer    = 2
)

// buildVersion is set with -ldflags "-X ...goecharger.buildVersion=v1.2.3".
var buildVersion = "dev"

// Attribute paths.
const (
	PathMgmtProcessName    = "/Mgmt/ProcessName"
	PathMgmtProcessVersion = "/Mgmt/ProcessVersion"
	PathMgmtConnection     = "/Mgmt/Connection"
	PathDeviceInstance     = "/DeviceInstance"
	PathProductID          = "/ProductId"
	PathProductName        = "/ProductName"
	PathCustomName         = "/CustomName"
	PathFirmwareVersion    = "/FirmwareVersion"
	PathHardwareVersion    = "/HardwareVersion"
	PathSerial             = "/Serial"
	PathChargingTime       = "/ChargingTime"
	PathConnected          = "/Connected"
	PathUpdateIndex        = "/UpdateIndex"
	PathStatus             = "/Status"
	PathMode               = "/Mode"
	PathPower              = "/Ac/Power"
	PathL1Power            = "/Ac/L1/Power"
	PathL2Power            = "/Ac/L2/Power"
	PathL3Power            = "/Ac/L3/Power"
	PathEnergyForward      = "/Ac/Energy/Forward"
	PathVoltage            = "/Ac/Voltage"
	PathCurrent            = "/Current"
	PathSetCurrent         = "/SetCurrent"
	PathMaxCurrent         = "/MaxCurrent"
	PathTemperature        = "/MCU/Temperature"
)

var (
	formatW   = devbus.UnitFormatter("W", 1)
	formatA   = devbus.UnitFormatter("A", 1)
	formatV   = devbus.UnitFormatter("V", 1)
	formatKWh = devbus.UnitFormatter("KWh", 2)
	formatC   = devbus.UnitFormatter("°C", 0)
)

// Identity is fixed at startup from configuration and the first status document.
type Identity struct {
	DeviceInstance  int
	ProductName     string
	CustomName      string
	ProductID       int
	FirmwareVersion int
	HardwareVersion int
	Serial          string
	Connection      string
	ProcessName     string
	ProcessVersion  string
}

// IdentityFromTelemetry reads firmware and serial from raw. The firmware
// string has its dots removed and is read as an integer ("040.0" is 400).
func IdentityFromTelemetry(deviceInstance int, raw RawTelemetry) (Identity, error) {
	if err := validate(identitySchema, raw); err != nil {
		return Identity{}, err
	}

	fwv, _ := raw["fwv"].(string)
	firmware, err := strconv.Atoi(strings.ReplaceAll(fwv, ".", ""))
	if err != nil {
		return Identity{}, &NormalizeError{Field: "fwv", Err: err}
	}

	var serial string
	switch v := raw["sse"].(type) {
	case string:
		serial = v
	case json.Number:
		serial = v.String()
	default:
		serial = fmt.Sprint(v)
	}

	return Identity{
		DeviceInstance:  deviceInstance,
		ProductName:     ProductName,
		CustomName:      ProductName,
		ProductID:       ProductID,
		FirmwareVersion: firmware,
		HardwareVersion: HardwareVer,
		Serial:          serial,
		Connection:      ConnectionName,
		ProcessName:     processName(),
		ProcessVersion:  processVersion(),
	}, nil
}

// ServiceName is the bus name for a device instance.
func ServiceName(deviceInstance int) string {
	return fmt.Sprintf("%s.http_%02d", ServicePrefix, deviceInstance)
}

func processName() string {
	exe, err := os.Executable()
	if err != nil {
		return "goe-bridge"
	}
	return filepath.Base(exe)
}

func processVersion() string {
	if buildVersion != "" && buildVersion != "dev" {
		return buildVersion
	}
	info, ok := debug.ReadBuildInfo()
	if ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version + " " + info.GoVersion
	}
	if ok {
		return "unknown version, running on " + info.GoVersion
	}
	return "unknown version"
}

// schema lists every attribute in registration order. The write handler for
// writable paths is attached by the session.
func schema(id Identity) []devbus.Attribute {
	return []devbus.Attribute{
		{Path: PathMgmtProcessName, Kind: devbus.KindString, Initial: id.ProcessName},
		{Path: PathMgmtProcessVersion, Kind: devbus.KindString, Initial: id.ProcessVersion},
		{Path: PathMgmtConnection, Kind: devbus.KindString, Initial: id.Connection},

		{Path: PathDeviceInstance, Kind: devbus.KindInt, Initial: id.DeviceInstance},
		{Path: PathProductID, Kind: devbus.KindInt, Initial: id.ProductID},
		{Path: PathProductName, Kind: devbus.KindString, Initial: id.ProductName},
		{Path: PathCustomName, Kind: devbus.KindString, Initial: id.CustomName},
		{Path: PathFirmwareVersion, Kind: devbus.KindInt, Initial: id.FirmwareVersion},
		{Path: PathHardwareVersion, Kind: devbus.KindInt, Initial: id.HardwareVersion},
		{Path: PathSerial, Kind: devbus.KindString, Initial: id.Serial},
		{Path: PathChargingTime, Kind: devbus.KindInt, Initial: 0},
		{Path: PathConnected, Kind: devbus.KindInt, Initial: 1},
		{Path: PathUpdateIndex, Kind: devbus.KindInt, Initial: 0},

		{Path: PathStatus, Kind: devbus.KindInt},
		{Path: PathMode, Kind: devbus.KindInt, Writable: true},

		{Path: PathPower, Kind: devbus.KindInt, Initial: 0, Format: formatW},
		{Path: PathL1Power, Kind: devbus.KindInt, Initial: 0, Format: formatW},
		{Path: PathL2Power, Kind: devbus.KindInt, Initial: 0, Format: formatW},
		{Path: PathL3Power, Kind: devbus.KindInt, Initial: 0, Format: formatW},
		{Path: PathEnergyForward, Kind: devbus.KindInt, Initial: 0, Format: formatKWh},
		{Path: PathVoltage, Kind: devbus.KindInt, Initial: 0, Format: formatV},
		{Path: PathCurrent, Kind: devbus.KindInt, Initial: 0, Format: formatA},
		{Path: PathSetCurrent, Kind: devbus.KindInt, Initial: 0, Format: formatA, Writable: true},
		{Path: PathMaxCurrent, Kind: devbus.KindInt, Initial: 0, Format: formatA},
		{Path: PathTemperature, Kind: devbus.KindInt, Initial: 0, Format: formatC},
	}
}

// values returns the snapshot as path/value pairs in publish order.
func (s Snapshot) values() []pathValue {
	return []pathValue{
		{PathL1Power, s.L1PowerW},
		{PathL2Power, s.L2PowerW},
		{PathL3Power, s.L3PowerW},
		{PathPower, s.PowerW},
		{PathVoltage, s.VoltageV},
		{PathCurrent, s.CurrentA},
		{PathSetCurrent, s.SetCurrentA},
		{PathMaxCurrent, s.MaxCurrentA},
		{PathEnergyForward, s.EnergyForward},
		{PathMode, s.Mode},
		{PathTemperature, s.TemperatureC},
		{PathStatus, s.Status},
	}
}

type pathValue struct {
	path  string
	value any
}
