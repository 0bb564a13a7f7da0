// Package metrics exposes the engine's Prometheus instrumentation. The
// scan loop, governor, and position book report through one Registry so
// the serve command can publish a single /metrics endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds all equityrun metrics.
type Registry struct {
	ScanDuration prometheus.Histogram
	EvalDuration *prometheus.HistogramVec
	ScanActive   prometheus.Gauge
	ScansTotal   prometheus.Counter

	Admits      prometheus.Counter
	Rejects     *prometheus.CounterVec
	Unavailable *prometheus.CounterVec
	Denials     *prometheus.CounterVec
	Exits       *prometheus.CounterVec

	OpenPositions    prometheus.Gauge
	PendingPositions prometheus.Gauge
	Halted           prometheus.Gauge
	DayPnL           prometheus.Gauge
	WeekPnL          prometheus.Gauge

	AlertsPublished *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the registry and registers every metric. Passing nil uses
// the process-wide default registry; tests pass their own.
func New(reg *prometheus.Registry) *Registry {
	registry := &Registry{
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "equityrun_scan_duration_seconds",
				Help:    "Duration of full scan cycles in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
		),

		EvalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "equityrun_eval_duration_seconds",
				Help:    "Duration of per-symbol gate evaluation in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"result"},
		),

		ScanActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "equityrun_scan_active",
				Help: "Whether a scan cycle is currently running (0 or 1)",
			},
		),

		ScansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "equityrun_scans_total",
				Help: "Total number of scan cycles started",
			},
		),

		Admits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "equityrun_admits_total",
				Help: "Total number of candidates admitted through every gate",
			},
		),

		Rejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_rejects_total",
				Help: "Total number of candidates rejected, by first failing gate",
			},
			[]string{"gate"},
		),

		Unavailable: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_unavailable_total",
				Help: "Total number of fail-closed rejections caused by missing data",
			},
			[]string{"check"},
		),

		Denials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_denials_total",
				Help: "Total number of entries denied by the risk governor, by reason",
			},
			[]string{"reason"},
		),

		Exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_exits_total",
				Help: "Total number of position exits, by reason",
			},
			[]string{"reason"},
		),

		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "equityrun_open_positions",
				Help: "Number of open positions",
			},
		),

		PendingPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "equityrun_pending_positions",
				Help: "Number of positions awaiting fills",
			},
		),

		Halted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "equityrun_halted",
				Help: "Whether the governor halt is raised (0 or 1)",
			},
		),

		DayPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "equityrun_day_pnl",
				Help: "Realized profit and loss for the current trading day",
			},
		),

		WeekPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "equityrun_week_pnl",
				Help: "Realized profit and loss for the current ISO week",
			},
		),

		AlertsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_alerts_published_total",
				Help: "Total number of alert events published, by kind",
			},
			[]string{"kind"},
		),
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	registry.gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer = reg
		registry.gatherer = reg
	}

	registerer.MustRegister(
		registry.ScanDuration,
		registry.EvalDuration,
		registry.ScanActive,
		registry.ScansTotal,
		registry.Admits,
		registry.Rejects,
		registry.Unavailable,
		registry.Denials,
		registry.Exits,
		registry.OpenPositions,
		registry.PendingPositions,
		registry.Halted,
		registry.DayPnL,
		registry.WeekPnL,
		registry.AlertsPublished,
	)

	return registry
}

// CycleTimer tracks one scan cycle.
type CycleTimer struct {
	registry *Registry
	start    time.Time
}

// StartCycle marks a scan cycle as running.
func (r *Registry) StartCycle() *CycleTimer {
	r.ScanActive.Inc()
	r.ScansTotal.Inc()
	return &CycleTimer{registry: r, start: time.Now()}
}

// Stop records the cycle duration and releases the active gauge.
func (t *CycleTimer) Stop(evaluated, admitted int) {
	duration := time.Since(t.start)
	t.registry.ScanDuration.Observe(duration.Seconds())
	t.registry.ScanActive.Dec()

	log.Debug().
		Int("evaluated", evaluated).
		Int("admitted", admitted).
		Dur("duration", duration).
		Msg("Scan cycle completed")
}

// RecordAdmit counts an admitted candidate and its evaluation time.
func (r *Registry) RecordAdmit(elapsed time.Duration) {
	r.Admits.Inc()
	r.EvalDuration.WithLabelValues("admit").Observe(elapsed.Seconds())
}

// RecordReject counts a rejection by its first failing gate.
func (r *Registry) RecordReject(gate string, elapsed time.Duration) {
	r.Rejects.WithLabelValues(gate).Inc()
	r.EvalDuration.WithLabelValues("reject").Observe(elapsed.Seconds())
}

// RecordUnavailable counts a fail-closed rejection for a check whose
// data source was down.
func (r *Registry) RecordUnavailable(check string) {
	r.Unavailable.WithLabelValues(check).Inc()
}

// RecordDenial counts a governor denial by reason.
func (r *Registry) RecordDenial(reason string) {
	r.Denials.WithLabelValues(reason).Inc()
}

// RecordExit counts a position close by exit reason.
func (r *Registry) RecordExit(reason string) {
	r.Exits.WithLabelValues(reason).Inc()
}

// SetExposure publishes the current book occupancy.
func (r *Registry) SetExposure(pending, open int) {
	r.PendingPositions.Set(float64(pending))
	r.OpenPositions.Set(float64(open))
}

// SetLedger publishes the governor's realized buckets and halt flag.
func (r *Registry) SetLedger(dayPnL, weekPnL float64, halted bool) {
	r.DayPnL.Set(dayPnL)
	r.WeekPnL.Set(weekPnL)
	if halted {
		r.Halted.Set(1)
	} else {
		r.Halted.Set(0)
	}
}

// RecordAlert counts a published alert event.
func (r *Registry) RecordAlert(kind string) {
	r.AlertsPublished.WithLabelValues(kind).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
