package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

const (
	DefaultFileName       = "config.ini"
	DefaultHTTPAddr       = "0.0.0.0:8080"
	DefaultGRPCAddr       = "0.0.0.0:9000"
	DefaultLogFileName    = "current.log"
	DefaultLogLevel       = "info"
	DefaultRequestTimeout = 2 * time.Second
	DefaultStaleAfter     = 10 * time.Second
	DefaultPortalID       = "goe"

	sectionDefault   = "DEFAULT"
	sectionOnPremise = "ONPREMISE"
	sectionBridge    = "BRIDGE"
	sectionMQTT      = "MQTT"
)

// AccessType selects how the charger is reached.
type AccessType string

const (
	AccessOnPremise AccessType = "OnPremise"
)

var supportedAccessTypes = map[AccessType]bool{
	AccessOnPremise: true,
}

// ConfigError reports a missing or invalid setting. It is fatal at startup.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Settings is the resolved, validated configuration. It never changes at runtime.
type Settings struct {
	DeviceInstance     int
	AccessType         AccessType
	Host               string
	SignOfLifeInterval time.Duration

	Bridge Bridge
	MQTT   MQTT
}

// Bridge holds settings for the bridge's own surfaces.
type Bridge struct {
	HTTPAddr       string        `ini:"HTTPAddr"`
	GRPCAddr       string        `ini:"GRPCAddr"`
	LogFile        string        `ini:"LogFile"`
	LogLevel       string        `ini:"LogLevel"`
	RequestTimeout time.Duration `ini:"RequestTimeout"`
	StaleAfter     time.Duration `ini:"StaleAfter"`
	DashboardDir   string        `ini:"DashboardDir"`
	JournalFile    string        `ini:"JournalFile"`
}

// MQTT configures the optional MQTT mirror of the device bus.
type MQTT struct {
	Broker   string `ini:"Broker"`
	PortalID string `ini:"PortalID"`
	Username string `ini:"Username"`
	Password string `ini:"Password"`
	ClientID string `ini:"ClientID"`
}

// Enabled reports whether a broker is configured.
func (m MQTT) Enabled() bool {
	return strings.TrimSpace(m.Broker) != ""
}

// DefaultPath returns config.ini next to the running executable.
func DefaultPath() string {
	exe, err := os.Executable()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(filepath.Dir(exe), DefaultFileName)
}

// Load reads and resolves the ini file at path. Relative file settings are
// resolved against the directory holding the config file.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, &ConfigError{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}

	settings, err := Parse(data)
	if err != nil {
		return Settings{}, err
	}

	dir := filepath.Dir(path)
	if settings.Bridge.LogFile == "" {
		settings.Bridge.LogFile = DefaultLogFileName
	}
	settings.Bridge.LogFile = resolvePath(dir, settings.Bridge.LogFile)
	settings.Bridge.JournalFile = resolvePath(dir, settings.Bridge.JournalFile)
	return settings, nil
}

// Parse resolves settings from ini content.
func Parse(data []byte) (Settings, error) {
	file, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true}, data)
	if err != nil {
		return Settings{}, &ConfigError{Reason: fmt.Sprintf("parse: %v", err)}
	}

	var settings Settings
	def := file.Section(sectionDefault)

	settings.DeviceInstance, err = requiredInt(def, "Deviceinstance")
	if err != nil {
		return Settings{}, err
	}

	accessType, err := requiredString(def, "AccessType")
	if err != nil {
		return Settings{}, err
	}
	settings.AccessType = AccessType(accessType)
	if !supportedAccessTypes[settings.AccessType] {
		return Settings{}, &ConfigError{Key: "AccessType", Reason: fmt.Sprintf("AccessType %s is not supported", accessType)}
	}

	if settings.AccessType == AccessOnPremise {
		settings.Host, err = requiredString(file.Section(sectionOnPremise), "Host")
		if err != nil {
			return Settings{}, err
		}
	}

	minutes, err := optionalInt(def, "SignOfLifeLog")
	if err != nil {
		return Settings{}, err
	}
	if minutes < 0 {
		return Settings{}, &ConfigError{Key: "SignOfLifeLog", Reason: "must be >= 0"}
	}
	settings.SignOfLifeInterval = time.Duration(minutes) * time.Minute

	if err := file.Section(sectionBridge).MapTo(&settings.Bridge); err != nil {
		return Settings{}, &ConfigError{Key: sectionBridge, Reason: err.Error()}
	}
	if err := file.Section(sectionMQTT).MapTo(&settings.MQTT); err != nil {
		return Settings{}, &ConfigError{Key: sectionMQTT, Reason: err.Error()}
	}

	applyDefaults(&settings)
	if err := Validate(settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func applyDefaults(s *Settings) {
	if s.Bridge.HTTPAddr == "" {
		s.Bridge.HTTPAddr = DefaultHTTPAddr
	}
	if s.Bridge.GRPCAddr == "" {
		s.Bridge.GRPCAddr = DefaultGRPCAddr
	}
	if s.Bridge.LogLevel == "" {
		s.Bridge.LogLevel = DefaultLogLevel
	}
	if s.Bridge.RequestTimeout == 0 {
		s.Bridge.RequestTimeout = DefaultRequestTimeout
	}
	if s.Bridge.StaleAfter == 0 {
		s.Bridge.StaleAfter = DefaultStaleAfter
	}
	if s.MQTT.PortalID == "" {
		s.MQTT.PortalID = DefaultPortalID
	}
}

// Validate enforces invariants beyond what parsing checks.
func Validate(s Settings) error {
	if s.DeviceInstance < 0 {
		return &ConfigError{Key: "Deviceinstance", Reason: "must be >= 0"}
	}
	if !supportedAccessTypes[s.AccessType] {
		return &ConfigError{Key: "AccessType", Reason: fmt.Sprintf("AccessType %s is not supported", s.AccessType)}
	}
	if s.AccessType == AccessOnPremise && strings.TrimSpace(s.Host) == "" {
		return &ConfigError{Key: "Host", Reason: "required for AccessType OnPremise"}
	}
	if s.SignOfLifeInterval < 0 {
		return &ConfigError{Key: "SignOfLifeLog", Reason: "must be >= 0"}
	}
	if s.Bridge.RequestTimeout < 0 {
		return &ConfigError{Key: "RequestTimeout", Reason: "must be >= 0"}
	}
	if s.Bridge.StaleAfter < 0 {
		return &ConfigError{Key: "StaleAfter", Reason: "must be >= 0"}
	}
	return nil
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

func requiredString(sec *ini.Section, key string) (string, error) {
	if !sec.HasKey(key) {
		return "", &ConfigError{Key: key, Reason: fmt.Sprintf("missing in [%s]", sec.Name())}
	}
	value := strings.TrimSpace(sec.Key(key).String())
	if value == "" {
		return "", &ConfigError{Key: key, Reason: "is empty"}
	}
	return value, nil
}

func requiredInt(sec *ini.Section, key string) (int, error) {
	raw, err := requiredString(sec, key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: fmt.Sprintf("%q is not an integer", raw)}
	}
	return value, nil
}

func optionalInt(sec *ini.Section, key string) (int, error) {
	if !sec.HasKey(key) {
		return 0, nil
	}
	raw := strings.TrimSpace(sec.Key(key).String())
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: fmt.Sprintf("%q is not an integer", raw)}
	}
	return value, nil
}

func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
