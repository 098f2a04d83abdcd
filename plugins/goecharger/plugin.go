package goecharger

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"time"

	"github.com/joshp123/goe-bridge/internal/config"
	"github.com/joshp123/goe-bridge/internal/core"
	"github.com/joshp123/goe-bridge/internal/devbus"
	"github.com/joshp123/goe-bridge/internal/journal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

//go:embed dashboard.json
var dashboardJSON []byte

// PluginOptions carries optional collaborators.
type PluginOptions struct {
	HTTPClient *http.Client
	Journal    journal.Recorder
}

// Plugin implements the plugin contract for one go-eCharger.
type Plugin struct {
	settings  config.Settings
	bus       *devbus.Memory
	session   *Session
	scheduler *Scheduler
	now       func() time.Time
}

// NewPlugin reads the charger identity from the first status document, then
// builds the bus, session and scheduler. Failing to reach the charger here is
// fatal to startup.
func NewPlugin(ctx context.Context, settings config.Settings, logger zerolog.Logger, opts PluginOptions) (*Plugin, error) {
	client, err := NewClient(settings, opts.HTTPClient)
	if err != nil {
		return nil, err
	}

	fetchCtx := ctx
	if settings.Bridge.RequestTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, settings.Bridge.RequestTimeout)
		defer cancel()
	}
	raw, err := client.Fetch(fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("read charger identity: %w", err)
	}
	identity, err := IdentityFromTelemetry(settings.DeviceInstance, raw)
	if err != nil {
		return nil, fmt.Errorf("read charger identity: %w", err)
	}

	name := ServiceName(settings.DeviceInstance)
	logger = logger.With().Str("service", name).Logger()
	logger.Debug().Int("device_instance", identity.DeviceInstance).Msgf("%s /DeviceInstance = %d", ServicePrefix, identity.DeviceInstance)

	bus := devbus.NewMemory(name)
	session, err := NewSession(bus, identity, logger)
	if err != nil {
		return nil, err
	}
	scheduler := NewScheduler(client, session, logger, Options{
		LivenessInterval: settings.SignOfLifeInterval,
		RequestTimeout:   settings.Bridge.RequestTimeout,
		Journal:          opts.Journal,
	})

	return &Plugin{
		settings:  settings,
		bus:       bus,
		session:   session,
		scheduler: scheduler,
		now:       time.Now,
	}, nil
}

func (p *Plugin) ID() string {
	return "goecharger"
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    "goecharger",
		DisplayName: ProductName,
		Version:     "0.1.0",
		Services:    []string{ServiceFullName},
	}
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "goecharger-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(server *grpc.Server) {
	RegisterEvChargerService(server, p.session)
}

func (p *Plugin) Collectors() []prometheus.Collector {
	return []prometheus.Collector{NewMetricsCollector(p.session, p.scheduler)}
}

func (p *Plugin) Health() core.HealthStatus {
	status, _ := p.health()
	return status
}

func (p *Plugin) HealthMessage() string {
	_, msg := p.health()
	return msg
}

func (p *Plugin) health() (core.HealthStatus, string) {
	report := p.session.Liveness()
	if report.LastUpdate.IsZero() {
		if report.Failures > 0 {
			return core.HealthError, "no successful poll: " + report.LastError
		}
		return core.HealthDegraded, "waiting for first poll"
	}
	age := p.now().Sub(report.LastUpdate)
	if p.settings.Bridge.StaleAfter > 0 && age > p.settings.Bridge.StaleAfter {
		return core.HealthDegraded, fmt.Sprintf("last update %s ago", age.Truncate(time.Millisecond))
	}
	return core.HealthHealthy, ""
}

// Bus returns the device bus the charger is published on.
func (p *Plugin) Bus() *devbus.Memory {
	return p.bus
}

// Session returns the publish session.
func (p *Plugin) Session() *Session {
	return p.session
}

// Scheduler returns the poll scheduler.
func (p *Plugin) Scheduler() *Scheduler {
	return p.scheduler
}

// Run polls until ctx is done.
func (p *Plugin) Run(ctx context.Context) {
	p.scheduler.Run(ctx)
}
