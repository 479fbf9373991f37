// Package metrics records conversation and analysis metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder defines the metrics the controller and the analysis gateway emit.
type Recorder interface {
	// IncTurn counts a completed turn by the stage it ended in and the prompt it returned.
	IncTurn(stage, prompt string)
	IncTransition(from, to, kind string)
	IncValidationFailure(field, code string)
	// ObserveAnalysis records one underlying gateway call.
	ObserveAnalysis(outcome string, duration time.Duration)
	IncAnalysisCacheHit()
	IncContractViolation(component string)
	IncLoopBreak(stage string)
}

type NoopRecorder struct{}

func Nop() Recorder {
	return NoopRecorder{}
}

func (NoopRecorder) IncTurn(_, _ string) {}
func (NoopRecorder) IncTransition(_, _, _ string) {}
func (NoopRecorder) IncValidationFailure(_, _ string) {}
func (NoopRecorder) ObserveAnalysis(_ string, _ time.Duration) {}
func (NoopRecorder) IncAnalysisCacheHit() {}
func (NoopRecorder) IncContractViolation(_ string) {}
func (NoopRecorder) IncLoopBreak(_ string) {}

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	turnsTotal              *prometheus.CounterVec
	transitionsTotal        *prometheus.CounterVec
	validationFailuresTotal *prometheus.CounterVec
	analysisDuration        *prometheus.HistogramVec
	analysisCacheHits       prometheus.Counter
	contractViolationsTotal *prometheus.CounterVec
	loopBreaksTotal         *prometheus.CounterVec
}

// NewPrometheusRecorder registers the collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediaplan_turns_total",
				Help: "Completed conversation turns by resulting stage and prompt kind",
			},
			[]string{"stage", "prompt"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediaplan_stage_transitions_total",
				Help: "Stage transitions by edge and kind",
			},
			[]string{"from", "to", "kind"},
		),
		validationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediaplan_validation_failures_total",
				Help: "Rejected field values by field and error code",
			},
			[]string{"field", "code"},
		),
		analysisDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediaplan_analysis_duration_seconds",
				Help:    "Duration of website analysis calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		analysisCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mediaplan_analysis_cache_hits_total",
				Help: "Analysis requests served from the memo without an upstream call",
			},
		),
		contractViolationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediaplan_contract_violations_total",
				Help: "Components invoked without their prerequisites",
			},
			[]string{"component"},
		),
		loopBreaksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediaplan_loop_breaks_total",
				Help: "Confirm-understanding prompts issued after repeated non-progress",
			},
			[]string{"stage"},
		),
	}
}

func (p *PrometheusRecorder) IncTurn(stage, prompt string) {
	p.turnsTotal.WithLabelValues(stage, prompt).Inc()
}

func (p *PrometheusRecorder) IncTransition(from, to, kind string) {
	p.transitionsTotal.WithLabelValues(from, to, kind).Inc()
}

func (p *PrometheusRecorder) IncValidationFailure(field, code string) {
	p.validationFailuresTotal.WithLabelValues(field, code).Inc()
}

func (p *PrometheusRecorder) ObserveAnalysis(outcome string, duration time.Duration) {
	p.analysisDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncAnalysisCacheHit() {
	p.analysisCacheHits.Inc()
}

func (p *PrometheusRecorder) IncContractViolation(component string) {
	p.contractViolationsTotal.WithLabelValues(component).Inc()
}

func (p *PrometheusRecorder) IncLoopBreak(stage string) {
	p.loopBreaksTotal.WithLabelValues(stage).Inc()
}
