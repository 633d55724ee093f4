package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics(t *testing.T) {
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "oncofuse"}, nil)
	require.NoError(t, err)
	m := NewPipelineMetrics(c)

	m.RecordRun(nil)
	m.RecordRun(errors.New("boom"))
	m.RecordRun(nil)
	d := m.StartStage(StageInfer).ObserveDuration()
	assert.GreaterOrEqual(t, d, time.Duration(0))
	m.RecordCohort(12, map[string]int{"expression": 3, "mutation": 0})
	m.RecordDrugs(40)
	m.RecordSinkFailure("redis")

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `oncofuse_pipeline_runs_total{status="succeeded"} 2`)
	assert.Contains(t, out, `oncofuse_pipeline_runs_total{status="failed"} 1`)
	assert.Contains(t, out, `oncofuse_pipeline_stage_duration_seconds_count{stage="infer"} 1`)
	assert.Contains(t, out, "oncofuse_pipeline_cohort_size 12")
	assert.Contains(t, out, `oncofuse_pipeline_imputed_cells_total{modality="expression"} 3`)
	assert.Contains(t, out, "oncofuse_pipeline_drugs_total 40")
	assert.Contains(t, out, `oncofuse_pipeline_sink_failures_total{sink="redis"} 1`)
}

func TestPipelineMetrics_Noop(t *testing.T) {
	m := NewPipelineMetrics(NewNoopCollector())
	assert.NotPanics(t, func() {
		m.RecordRun(nil)
		m.StartStage(StageLoad).ObserveDuration()
		m.RecordCohort(1, map[string]int{"methylation": 1})
		m.RecordDrugs(1)
		m.RecordSinkFailure("kafka")
	})
}
