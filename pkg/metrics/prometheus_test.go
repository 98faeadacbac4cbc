package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeskCast/internal/domain/models"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegisterer(reg)

	r.RecordGroupOutcome(models.OutcomeModeled)
	r.RecordGroupOutcome(models.OutcomeModeled)
	r.RecordGroupOutcome(models.OutcomeSkipped)
	r.RecordGroupMAPE("NETWORK_GENERAL", 12.5)
	r.RecordRun("ok", 3)
	r.RecordError("write_forecast")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.groupOutcomes.WithLabelValues("modeled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.groupOutcomes.WithLabelValues("skipped")))
	assert.Equal(t, 12.5, testutil.ToFloat64(r.groupMAPE.WithLabelValues("NETWORK_GENERAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("write_forecast")))

	n, err := testutil.GatherAndCount(reg, "deskcast_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecorderWithoutRegistry(t *testing.T) {
	r := NewWithRegisterer(nil)
	assert.NotPanics(t, func() { r.RecordLatency("load_facts", 0.2) })
}
