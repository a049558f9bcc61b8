// Package metrics provides Prometheus instrumentation for the advisor.
//
// Metrics exposed:
//   - setpoint_runs_total: optimization runs by profile and outcome
//   - setpoint_run_seconds: duration of one profile run
//   - setpoint_trials_total: objective evaluations by profile and phase
//   - setpoint_best_score: score of the latest best trial per profile
//   - setpoint_economic_delta: safety minus operating economic value
//   - setpoint_ensemble_trained: 1 when the regression ensemble is trained
//   - setpoint_ensemble_samples: distinct snapshots used by the last fit
//   - setpoint_history_size: snapshots held in the bounded history
//   - setpoint_errors_total: errors by component and reason
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the advisor.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunSeconds      *prometheus.HistogramVec
	TrialsTotal     *prometheus.CounterVec
	BestScore       *prometheus.GaugeVec
	EconomicDelta   prometheus.Gauge
	EnsembleTrained prometheus.Gauge
	EnsembleSamples prometheus.Gauge
	HistorySize     prometheus.Gauge
	ErrorsTotal     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "setpoint_runs_total",
			Help: "Optimization runs by bound profile and outcome",
		}, []string{"profile", "outcome"}),

		RunSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "setpoint_run_seconds",
			Help:    "Time spent in one profile run",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"profile"}),

		TrialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "setpoint_trials_total",
			Help: "Objective evaluations by bound profile and search phase",
		}, []string{"profile", "phase"}),

		BestScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "setpoint_best_score",
			Help: "Score of the best trial in the latest run",
		}, []string{"profile"}),

		EconomicDelta: factory.NewGauge(prometheus.GaugeOpts{
			Name: "setpoint_economic_delta",
			Help: "Economic value gained by relaxing from operating to safety limits in the latest optimization, USD/h",
		}),

		EnsembleTrained: factory.NewGauge(prometheus.GaugeOpts{
			Name: "setpoint_ensemble_trained",
			Help: "Whether the last regression fit produced a trained ensemble",
		}),

		EnsembleSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "setpoint_ensemble_samples",
			Help: "Distinct snapshots used by the last regression fit",
		}),

		HistorySize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "setpoint_history_size",
			Help: "Snapshots currently held in the bounded history",
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "setpoint_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordRun records the outcome and duration of one profile run.
func (m *Metrics) RecordRun(profile, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(profile, outcome).Inc()
	m.RunSeconds.WithLabelValues(profile).Observe(d.Seconds())
}

// RecordTrial counts one objective evaluation.
func (m *Metrics) RecordTrial(profile, phase string) {
	if m == nil {
		return
	}
	m.TrialsTotal.WithLabelValues(profile, phase).Inc()
}

// SetBestScore sets the best score for a profile.
func (m *Metrics) SetBestScore(profile string, score float64) {
	if m == nil {
		return
	}
	m.BestScore.WithLabelValues(profile).Set(score)
}

// SetEconomicDelta sets the value gained by relaxing from operating to safety
// limits in the latest optimization.
func (m *Metrics) SetEconomicDelta(delta float64) {
	if m == nil {
		return
	}
	m.EconomicDelta.Set(delta)
}

// SetEnsemble records the state of the latest regression fit.
func (m *Metrics) SetEnsemble(trained bool, samples int) {
	if m == nil {
		return
	}
	v := 0.0
	if trained {
		v = 1
	}
	m.EnsembleTrained.Set(v)
	m.EnsembleSamples.Set(float64(samples))
}

// SetHistorySize sets the number of stored snapshots.
func (m *Metrics) SetHistorySize(n int) {
	if m == nil {
		return
	}
	m.HistorySize.Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
