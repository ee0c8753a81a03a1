package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	intents    *prometheus.CounterVec
	verdicts   *prometheus.CounterVec
	commands   *prometheus.CounterVec
	rejections *prometheus.CounterVec
	errorsAll  *prometheus.CounterVec
	hedgeState prometheus.Gauge
	portfolio  *prometheus.GaugeVec
	latency    *prometheus.HistogramVec
}

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder on reg. Tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		intents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glm_intents_total",
				Help: "Intents produced by strategy, type and reason",
			},
			[]string{"strategy", "type", "reason"},
		),
		verdicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glm_risk_verdicts_total",
				Help: "Risk gate verdicts by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		commands: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glm_execution_commands_total",
				Help: "Execution commands emitted by leg",
			},
			[]string{"leg"},
		),
		rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glm_execution_rejections_total",
				Help: "Approved intents that could not be translated",
			},
			[]string{"reason"},
		),
		errorsAll: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glm_errors_total",
				Help: "Errors by kind",
			},
			[]string{"kind"},
		),
		hedgeState: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "glm_hedge_breached",
				Help: "1 while portfolio delta is outside the neutral band",
			},
		),
		portfolio: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "glm_portfolio_risk",
				Help: "Latest portfolio risk figures",
			},
			[]string{"figure"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "glm_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordIntent counts a produced intent.
func (r *Recorder) RecordIntent(strategyID, kind, reason string) {
	r.intents.WithLabelValues(strategyID, kind, reason).Inc()
}

// RecordVerdict counts a risk verdict.
func (r *Recorder) RecordVerdict(approved bool, reason string) {
	outcome := "vetoed"
	if approved {
		outcome = "approved"
	}
	r.verdicts.WithLabelValues(outcome, reason).Inc()
}

// RecordCommand counts an emitted order command.
func (r *Recorder) RecordCommand(leg string) {
	r.commands.WithLabelValues(leg).Inc()
}

// RecordRejection counts an execution rejection.
func (r *Recorder) RecordRejection(reason string) {
	r.rejections.WithLabelValues(reason).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsAll.WithLabelValues(kind).Inc()
}

// SetHedgeBreached records the hedge monitor state.
func (r *Recorder) SetHedgeBreached(breached bool) {
	if breached {
		r.hedgeState.Set(1)
		return
	}
	r.hedgeState.Set(0)
}

// RecordPortfolio records the headline figures of a risk snapshot.
func (r *Recorder) RecordPortfolio(delta, gamma, leverage, drawdown float64) {
	r.portfolio.WithLabelValues("delta").Set(delta)
	r.portfolio.WithLabelValues("gamma").Set(gamma)
	r.portfolio.WithLabelValues("leverage").Set(leverage)
	r.portfolio.WithLabelValues("drawdown_pct").Set(drawdown)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordIntent(string, string, string) {}
func (Nop) RecordVerdict(bool, string) {}
func (Nop) RecordCommand(string) {}
func (Nop) RecordRejection(string) {}
func (Nop) RecordError(string) {}
func (Nop) SetHedgeBreached(bool) {}
func (Nop) RecordPortfolio(float64, float64, float64, float64) {}
func (Nop) RecordLatency(string, float64) {}
