package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validINI = `
[DEFAULT]
Deviceinstance = 1
AccessType = OnPremise
SignOfLifeLog = 5

[ONPREMISE]
Host = 10.0.0.5
`

func TestParseValid(t *testing.T) {
	settings, err := Parse([]byte(validINI))
	require.NoError(t, err)

	assert.Equal(t, 1, settings.DeviceInstance)
	assert.Equal(t, AccessOnPremise, settings.AccessType)
	assert.Equal(t, "10.0.0.5", settings.Host)
	assert.Equal(t, 5*time.Minute, settings.SignOfLifeInterval)

	assert.Equal(t, DefaultHTTPAddr, settings.Bridge.HTTPAddr)
	assert.Equal(t, DefaultGRPCAddr, settings.Bridge.GRPCAddr)
	assert.Equal(t, DefaultLogLevel, settings.Bridge.LogLevel)
	assert.Equal(t, DefaultRequestTimeout, settings.Bridge.RequestTimeout)
	assert.Equal(t, DefaultStaleAfter, settings.Bridge.StaleAfter)
	assert.Equal(t, DefaultPortalID, settings.MQTT.PortalID)
	assert.False(t, settings.MQTT.Enabled())
}

func TestParseKeysAreCaseInsensitive(t *testing.T) {
	settings, err := Parse([]byte(`
[DEFAULT]
deviceinstance = 43
accesstype = OnPremise

[ONPREMISE]
host = charger.local
`))
	require.NoError(t, err)
	assert.Equal(t, 43, settings.DeviceInstance)
	assert.Equal(t, "charger.local", settings.Host)
}

func TestParseSignOfLifeDefaultsToZero(t *testing.T) {
	for name, line := range map[string]string{
		"absent": "",
		"empty":  "SignOfLifeLog =",
	} {
		t.Run(name, func(t *testing.T) {
			settings, err := Parse([]byte("[DEFAULT]\nDeviceinstance = 1\nAccessType = OnPremise\n" + line + "\n[ONPREMISE]\nHost = h\n"))
			require.NoError(t, err)
			assert.Zero(t, settings.SignOfLifeInterval)
		})
	}
}

func TestParseOptionalSections(t *testing.T) {
	settings, err := Parse([]byte(validINI + `
[BRIDGE]
HTTPAddr = 127.0.0.1:18080
RequestTimeout = 750ms
StaleAfter = 30s
JournalFile = cycles.cbor

[MQTT]
Broker = tcp://venus.local:1883
PortalID = c0619ab1
`))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:18080", settings.Bridge.HTTPAddr)
	assert.Equal(t, 750*time.Millisecond, settings.Bridge.RequestTimeout)
	assert.Equal(t, 30*time.Second, settings.Bridge.StaleAfter)
	assert.Equal(t, "cycles.cbor", settings.Bridge.JournalFile)
	assert.True(t, settings.MQTT.Enabled())
	assert.Equal(t, "c0619ab1", settings.MQTT.PortalID)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		ini  string
		key  string
	}{
		{
			name: "missing device instance",
			ini:  "[DEFAULT]\nAccessType = OnPremise\n[ONPREMISE]\nHost = h\n",
			key:  "Deviceinstance",
		},
		{
			name: "device instance not a number",
			ini:  "[DEFAULT]\nDeviceinstance = one\nAccessType = OnPremise\n[ONPREMISE]\nHost = h\n",
			key:  "Deviceinstance",
		},
		{
			name: "missing access type",
			ini:  "[DEFAULT]\nDeviceinstance = 1\n[ONPREMISE]\nHost = h\n",
			key:  "AccessType",
		},
		{
			name: "unsupported access type",
			ini:  "[DEFAULT]\nDeviceinstance = 1\nAccessType = Cloud\n[ONPREMISE]\nHost = h\n",
			key:  "AccessType",
		},
		{
			name: "missing host",
			ini:  "[DEFAULT]\nDeviceinstance = 1\nAccessType = OnPremise\n",
			key:  "Host",
		},
		{
			name: "negative sign of life",
			ini:  "[DEFAULT]\nDeviceinstance = 1\nAccessType = OnPremise\nSignOfLifeLog = -1\n[ONPREMISE]\nHost = h\n",
			key:  "SignOfLifeLog",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.ini))
			require.Error(t, err)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.key, cfgErr.Key)
			assert.True(t, IsConfigError(err))
		})
	}
}

func TestUnsupportedAccessTypeMessage(t *testing.T) {
	_, err := Parse([]byte("[DEFAULT]\nDeviceinstance = 1\nAccessType = Cloud\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessType Cloud is not supported")
}

func TestLoadResolvesFilesAgainstConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(validINI+"\n[BRIDGE]\nJournalFile = cycles.cbor\n"), 0o644))

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultLogFileName), settings.Bridge.LogFile)
	assert.Equal(t, filepath.Join(dir, "cycles.cbor"), settings.Bridge.JournalFile)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.ini"))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}
