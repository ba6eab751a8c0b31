package dreame

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters the poller and dispatcher feed. Snapshot-level
// gauges live in SnapshotCollector and are read at scrape time instead.
type Metrics struct {
	PollSuccess      prometheus.Counter
	PollFailure      prometheus.Counter
	MappingAnomalies prometheus.Counter
	Commands         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		PollSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vacuumd_poll_success_total",
			Help: "Status polls that reached the device and parsed",
		}),
		PollFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vacuumd_poll_failure_total",
			Help: "Status polls that failed at the transport",
		}),
		MappingAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vacuumd_mapping_anomalies_total",
			Help: "Out-of-range or malformed fields seen in poll responses",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vacuumd_commands_total",
			Help: "Dispatched commands by action and result",
		}, []string{"action", "result"}),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.PollSuccess, m.PollFailure, m.MappingAnomalies, m.Commands)
}

// SnapshotCollector exposes the published snapshot as gauges, read at
// scrape time so scrapes never trigger device traffic.
type SnapshotCollector struct {
	poller *Poller

	battery       *prometheus.GaugeVec
	state         *prometheus.GaugeVec
	faultCode     *prometheus.GaugeVec
	fanSpeed      *prometheus.GaugeVec
	available     *prometheus.GaugeVec
	lastUpdated   *prometheus.GaugeVec
	cleanCount    *prometheus.GaugeVec
	mainBrushLife *prometheus.GaugeVec
	sideBrushLife *prometheus.GaugeVec
	filterLife    *prometheus.GaugeVec
}

func NewSnapshotCollector(poller *Poller) *SnapshotCollector {
	labels := []string{"device"}
	stateLabels := []string{"device", "state"}
	fanLabels := []string{"device", "fan_speed"}
	return &SnapshotCollector{
		poller: poller,
		battery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vacuumd_battery_percent",
			Help: "Battery percentage (0-100)",
		}, labels),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vacuumd_state",
			Help: "Current entity state (label)",
		}, stateLabels),
		faultCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vacuumd_fault_code",
			Help: "Active fault code, 0 when none",
		}, labels),
		fanSpeed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vacuumd_fan_speed",
			Help: "Current fan speed (label)",
		}, fanLabels),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vacuumd_available",
			Help: "Whether the device answered within the staleness window (1=yes)",
		}, labels),
		lastUpdated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vacuumd_last_update_timestamp_seconds",
			Help: "Timestamp of the last successful poll",
		}, labels),
		cleanCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vacuumd_total_clean_count",
			Help: "Lifetime clean count reported by the device",
		}, labels),
		mainBrushLife: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vacuumd_main_brush_life_percent",
			Help: "Main brush remaining life (0-100)",
		}, labels),
		sideBrushLife: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vacuumd_side_brush_life_percent",
			Help: "Side brush remaining life (0-100)",
		}, labels),
		filterLife: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vacuumd_filter_life_percent",
			Help: "Filter remaining life (0-100)",
		}, labels),
	}
}

func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	c.battery.Describe(ch)
	c.state.Describe(ch)
	c.faultCode.Describe(ch)
	c.fanSpeed.Describe(ch)
	c.available.Describe(ch)
	c.lastUpdated.Describe(ch)
	c.cleanCount.Describe(ch)
	c.mainBrushLife.Describe(ch)
	c.sideBrushLife.Describe(ch)
	c.filterLife.Describe(ch)
}

func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.poller.Snapshot()
	device := c.poller.Device()

	c.battery.WithLabelValues(device).Set(float64(snap.Battery))

	c.state.Reset()
	c.state.WithLabelValues(device, string(snap.State)).Set(1)

	fault := 0
	if snap.FaultCode != nil {
		fault = *snap.FaultCode
	}
	c.faultCode.WithLabelValues(device).Set(float64(fault))

	c.fanSpeed.Reset()
	c.fanSpeed.WithLabelValues(device, snap.FanSpeedName).Set(1)

	availableValue := 0.0
	if snap.State != StateUnavailable {
		availableValue = 1
	}
	c.available.WithLabelValues(device).Set(availableValue)

	if !snap.LastUpdated.IsZero() {
		c.lastUpdated.WithLabelValues(device).Set(float64(snap.LastUpdated.Unix()))
	}
	c.cleanCount.WithLabelValues(device).Set(float64(snap.TotalCleanCount))
	c.mainBrushLife.WithLabelValues(device).Set(float64(snap.MainBrush.LifePercent))
	c.sideBrushLife.WithLabelValues(device).Set(float64(snap.SideBrush.LifePercent))
	c.filterLife.WithLabelValues(device).Set(float64(snap.Filter.LifePercent))

	c.battery.Collect(ch)
	c.state.Collect(ch)
	c.faultCode.Collect(ch)
	c.fanSpeed.Collect(ch)
	c.available.Collect(ch)
	c.lastUpdated.Collect(ch)
	c.cleanCount.Collect(ch)
	c.mainBrushLife.Collect(ch)
	c.sideBrushLife.Collect(ch)
	c.filterLife.Collect(ch)
}
