// Package metrics exposes Prometheus metrics for advisory cycles, the
// decision service and the short ledger.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/shortrun/internal/ledger"
)

// CycleResult labels a finished cycle
type CycleResult string

const (
	CycleSuccess   CycleResult = "success"
	CycleFailed    CycleResult = "failed"     // advisory call or parse failed
	CycleEmpty     CycleResult = "empty_data" // no market or funding data
	CycleSinkError CycleResult = "sink_error"
)

// Registry holds all Prometheus metrics for shortrun on its own registry
type Registry struct {
	reg *prometheus.Registry

	Cycles           *prometheus.CounterVec
	AdvisoryDuration *prometheus.HistogramVec
	ActionsApplied   *prometheus.CounterVec
	LedgerWarnings   *prometheus.CounterVec

	OpenPositions       prometheus.Gauge
	ShortNotional       prometheus.Gauge
	ExposureLimit       prometheus.Gauge
	RealizedPnL         prometheus.Gauge
	OpportunitiesScored prometheus.Gauge
}

// NewRegistry creates and registers all metrics. Process and Go runtime
// collectors are included when withRuntime is set.
func NewRegistry(withRuntime bool) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shortrun_cycles_total",
				Help: "Advisory cycles by result",
			},
			[]string{"result"},
		),

		AdvisoryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shortrun_advisory_duration_seconds",
				Help:    "Duration of decision service calls in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"result"},
		),

		ActionsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shortrun_actions_applied_total",
				Help: "Ledger actions applied by type",
			},
			[]string{"type"},
		),

		LedgerWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shortrun_ledger_warnings_total",
				Help: "Ledger warnings by kind",
			},
			[]string{"kind"},
		),

		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shortrun_open_positions",
			Help: "Number of open short positions",
		}),

		ShortNotional: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shortrun_short_notional",
			Help: "Sum of amount times entry price over open shorts",
		}),

		ExposureLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shortrun_exposure_limit",
			Help: "Portfolio value times max short percentage at the last cycle",
		}),

		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shortrun_realized_pnl",
			Help: "Cumulative realized PnL from closes since start",
		}),

		OpportunitiesScored: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shortrun_opportunities_scored",
			Help: "Eligible opportunities in the last scoring pass",
		}),
	}

	r.reg.MustRegister(
		r.Cycles,
		r.AdvisoryDuration,
		r.ActionsApplied,
		r.LedgerWarnings,
		r.OpenPositions,
		r.ShortNotional,
		r.ExposureLimit,
		r.RealizedPnL,
		r.OpportunitiesScored,
	)
	if withRuntime {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return r
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordCycle counts a finished cycle
func (r *Registry) RecordCycle(result CycleResult) {
	r.Cycles.WithLabelValues(string(result)).Inc()
}

// ObserveAdvisory records one decision service round trip
func (r *Registry) ObserveAdvisory(d time.Duration, failed bool) {
	label := "success"
	if failed {
		label = "error"
	}
	r.AdvisoryDuration.WithLabelValues(label).Observe(d.Seconds())
}

// RecordReport folds a ledger report into the counters and gauges
func (r *Registry) RecordReport(report ledger.Report) {
	r.ActionsApplied.WithLabelValues(string(ledger.ActionOpen)).Add(float64(report.Opened))
	r.ActionsApplied.WithLabelValues(string(ledger.ActionClose)).Add(float64(len(report.Closes)))
	for _, w := range report.Warnings {
		r.LedgerWarnings.WithLabelValues(string(w.Kind)).Inc()
	}
	r.RealizedPnL.Add(report.RealizedPnL)
	r.ShortNotional.Set(report.TotalShortNotional)
	r.ExposureLimit.Set(report.ExposureLimit)

	if report.ExposureExceeded {
		log.Debug().
			Float64("short_notional", report.TotalShortNotional).
			Float64("exposure_limit", report.ExposureLimit).
			Msg("Exposure limit exceeded after cycle")
	}
}

// SetLedgerState updates the position gauges from a ledger
func (r *Registry) SetLedgerState(l *ledger.Ledger) {
	r.OpenPositions.Set(float64(len(l.Snapshot())))
	r.ShortNotional.Set(l.TotalShortNotional())
}

// SetOpportunities records the size of the last scoring pass
func (r *Registry) SetOpportunities(n int) {
	r.OpportunitiesScored.Set(float64(n))
}
