// Package metrics exports appliance readings and session counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seabridge/appliance"
)

// Source is the view of the appliance client the collector reads on each scrape.
type Source interface {
	Tanks() map[string]appliance.TankReading
	Batteries() map[string]appliance.BatteryReading
	IsConnected() bool
	Stats() appliance.Stats
}

// Collector implements prometheus.Collector over the latest readings.
type Collector struct {
	source Source

	tankLevel       *prometheus.Desc
	tankCapacity    *prometheus.Desc
	batteryVoltage  *prometheus.Desc
	batteryCurrent  *prometheus.Desc
	batteryCharge   *prometheus.Desc
	connected       *prometheus.Desc
	framesReceived  *prometheus.Desc
	framesMalformed *prometheus.Desc
	reconnects      *prometheus.Desc
}

// NewCollector creates a collector reading from source.
func NewCollector(source Source) *Collector {
	labels := []string{"name", "module_id"}
	return &Collector{
		source: source,
		tankLevel: prometheus.NewDesc(
			"seabridge_tank_level_percent",
			"Tank fill level in percent",
			labels, nil,
		),
		tankCapacity: prometheus.NewDesc(
			"seabridge_tank_capacity",
			"Tank capacity as reported by the appliance",
			labels, nil,
		),
		batteryVoltage: prometheus.NewDesc(
			"seabridge_battery_voltage",
			"Battery voltage in volts",
			labels, nil,
		),
		batteryCurrent: prometheus.NewDesc(
			"seabridge_battery_current",
			"Battery current in amperes (negative=discharging)",
			labels, nil,
		),
		batteryCharge: prometheus.NewDesc(
			"seabridge_battery_state_of_charge_ratio",
			"Battery state of charge as a ratio between 0 and 1",
			labels, nil,
		),
		connected: prometheus.NewDesc(
			"seabridge_appliance_connected",
			"Whether the appliance session is open (1=yes, 0=no)",
			nil, nil,
		),
		framesReceived: prometheus.NewDesc(
			"seabridge_frames_received_total",
			"Frames received from the appliance",
			nil, nil,
		),
		framesMalformed: prometheus.NewDesc(
			"seabridge_frames_malformed_total",
			"Frames that could not be decoded",
			nil, nil,
		),
		reconnects: prometheus.NewDesc(
			"seabridge_reconnects_total",
			"Reconnect attempts after a lost session",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tankLevel
	ch <- c.tankCapacity
	ch <- c.batteryVoltage
	ch <- c.batteryCurrent
	ch <- c.batteryCharge
	ch <- c.connected
	ch <- c.framesReceived
	ch <- c.framesMalformed
	ch <- c.reconnects
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, t := range c.source.Tanks() {
		labels := []string{t.Name, strconv.Itoa(t.ModuleID)}
		ch <- prometheus.MustNewConstMetric(c.tankLevel, prometheus.GaugeValue, t.Level, labels...)
		ch <- prometheus.MustNewConstMetric(c.tankCapacity, prometheus.GaugeValue, t.Capacity, labels...)
	}

	for _, b := range c.source.Batteries() {
		labels := []string{b.Name, strconv.Itoa(b.ModuleID)}
		ch <- prometheus.MustNewConstMetric(c.batteryVoltage, prometheus.GaugeValue, b.Voltage, labels...)
		ch <- prometheus.MustNewConstMetric(c.batteryCurrent, prometheus.GaugeValue, b.Current, labels...)
		// Unknown charge is left out rather than reported as 0.
		if b.StateOfCharge != nil {
			ch <- prometheus.MustNewConstMetric(c.batteryCharge, prometheus.GaugeValue, *b.StateOfCharge, labels...)
		}
	}

	var connected float64
	if c.source.IsConnected() {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)

	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.framesReceived, prometheus.CounterValue, float64(stats.FramesReceived))
	ch <- prometheus.MustNewConstMetric(c.framesMalformed, prometheus.CounterValue, float64(stats.FramesMalformed))
	ch <- prometheus.MustNewConstMetric(c.reconnects, prometheus.CounterValue, float64(stats.Reconnects))
}

// NewRegistry returns a registry holding the collector for source plus the
// Go runtime and process collectors.
func NewRegistry(source Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics in reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
