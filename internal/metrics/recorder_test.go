package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.IncTurn("AWAITING_BUDGET", "ask_budget")
	rec.IncTurn("AWAITING_BUDGET", "ask_budget")
	rec.IncTransition("AWAITING_WEBSITE", "ANALYZING_WEBSITE", "advance")
	rec.IncValidationFailure("budget", "InvalidBudget")
	rec.IncContractViolation("plan")
	rec.IncLoopBreak("AWAITING_PREFERENCES")
	rec.IncAnalysisCacheHit()
	rec.ObserveAnalysis("success", 250*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(rec.turnsTotal.WithLabelValues("AWAITING_BUDGET", "ask_budget")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.transitionsTotal.WithLabelValues("AWAITING_WEBSITE", "ANALYZING_WEBSITE", "advance")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.validationFailuresTotal.WithLabelValues("budget", "InvalidBudget")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.contractViolationsTotal.WithLabelValues("plan")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.loopBreaksTotal.WithLabelValues("AWAITING_PREFERENCES")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.analysisCacheHits), 0)

	count, err := testutil.GatherAndCount(reg, "mediaplan_analysis_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordersOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusRecorder(prometheus.NewRegistry())
		NewPrometheusRecorder(prometheus.NewRegistry())
	})
}

func TestNopRecorder(t *testing.T) {
	rec := Nop()
	assert.NotPanics(t, func() {
		rec.IncTurn("DONE", "done")
		rec.ObserveAnalysis("timeout", time.Second)
	})
}
