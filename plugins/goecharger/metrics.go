package goecharger

import (
	"github.com/joshp123/goe-bridge/internal/devbus"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exposes the published attributes and poll bookkeeping.
// It reads in-memory state only; scrapes never reach the charger.
type MetricsCollector struct {
	session   *Session
	scheduler *Scheduler

	powerW         prometheus.Gauge
	phasePowerW    *prometheus.GaugeVec
	voltageV       prometheus.Gauge
	currentA       prometheus.Gauge
	maxCurrentA    prometheus.Gauge
	energyForward  prometheus.Gauge
	temperatureC   prometheus.Gauge
	status         prometheus.Gauge
	updateIndex    prometheus.Gauge
	lastUpdated    prometheus.Gauge
	success        prometheus.Gauge
	cycleDurationS prometheus.Gauge
	cycles         *prometheus.Desc
}

func NewMetricsCollector(session *Session, scheduler *Scheduler) *MetricsCollector {
	return &MetricsCollector{
		session:   session,
		scheduler: scheduler,
		powerW: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goe_bridge_charger_power_w",
			Help: "Total charging power in watts",
		}),
		phasePowerW: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "goe_bridge_charger_phase_power_w",
			Help: "Charging power per phase in watts",
		}, []string{"phase"}),
		voltageV: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goe_bridge_charger_voltage_v",
			Help: "Voltage on L1 in volts",
		}),
		currentA: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goe_bridge_charger_current_a",
			Help: "Configured charging current in amps",
		}),
		maxCurrentA: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goe_bridge_charger_max_current_a",
			Help: "Maximum charging current in amps",
		}),
		energyForward: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goe_bridge_charger_energy_forward_kwh",
			Help: "Total energy delivered (kWh)",
		}),
		temperatureC: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goe_bridge_charger_temperature_c",
			Help: "Controller temperature in degrees Celsius",
		}),
		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goe_bridge_charger_status",
			Help: "EV charger status (0=disconnected, 2=charging, 3=charged, 6=waiting for start)",
		}),
		updateIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goe_bridge_update_index",
			Help: "Update counter, advances once per successful poll",
		}),
		lastUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goe_bridge_last_update_timestamp_seconds",
			Help: "Last successful poll timestamp (epoch seconds)",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goe_bridge_poll_success",
			Help: "Last poll success (1=ok, 0=error)",
		}),
		cycleDurationS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goe_bridge_poll_duration_seconds",
			Help: "Duration of the last poll cycle",
		}),
		cycles: prometheus.NewDesc(
			"goe_bridge_poll_cycles_total",
			"Poll cycles by outcome",
			[]string{"outcome"}, nil,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.powerW.Describe(ch)
	c.phasePowerW.Describe(ch)
	c.voltageV.Describe(ch)
	c.currentA.Describe(ch)
	c.maxCurrentA.Describe(ch)
	c.energyForward.Describe(ch)
	c.temperatureC.Describe(ch)
	c.status.Describe(ch)
	c.updateIndex.Describe(ch)
	c.lastUpdated.Describe(ch)
	c.success.Describe(ch)
	c.cycleDurationS.Describe(ch)
	ch <- c.cycles
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	bus := c.session.Bus()

	setGauge(c.powerW, bus, PathPower)
	setGauge(c.phasePowerW.WithLabelValues("L1"), bus, PathL1Power)
	setGauge(c.phasePowerW.WithLabelValues("L2"), bus, PathL2Power)
	setGauge(c.phasePowerW.WithLabelValues("L3"), bus, PathL3Power)
	setGauge(c.voltageV, bus, PathVoltage)
	setGauge(c.currentA, bus, PathCurrent)
	setGauge(c.maxCurrentA, bus, PathMaxCurrent)
	setGauge(c.energyForward, bus, PathEnergyForward)
	setGauge(c.temperatureC, bus, PathTemperature)
	setGauge(c.status, bus, PathStatus)

	c.updateIndex.Set(float64(c.session.UpdateIndex()))
	if last := c.session.LastUpdate(); !last.IsZero() {
		c.lastUpdated.Set(float64(last.Unix()))
	}

	if c.scheduler != nil {
		stats := c.scheduler.Stats()
		if stats.LastOutcome == OutcomeOK {
			c.success.Set(1)
		} else {
			c.success.Set(0)
		}
		c.cycleDurationS.Set(stats.LastDuration.Seconds())
		for _, outcome := range []Outcome{OutcomeOK, OutcomeFetchFailed, OutcomeNormalizeFailed, OutcomeApplyFailed, OutcomePanic} {
			ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(stats.Cycles[outcome]), string(outcome))
		}
	}

	c.powerW.Collect(ch)
	c.phasePowerW.Collect(ch)
	c.voltageV.Collect(ch)
	c.currentA.Collect(ch)
	c.maxCurrentA.Collect(ch)
	c.energyForward.Collect(ch)
	c.temperatureC.Collect(ch)
	c.status.Collect(ch)
	c.updateIndex.Collect(ch)
	c.lastUpdated.Collect(ch)
	c.success.Collect(ch)
	c.cycleDurationS.Collect(ch)
}

func setGauge(g prometheus.Gauge, bus devbus.Bus, path string) {
	value, ok := bus.Get(path)
	if !ok {
		return
	}
	if n, ok := value.(int); ok {
		g.Set(float64(n))
	}
}
