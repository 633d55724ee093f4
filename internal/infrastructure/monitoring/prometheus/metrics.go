package prometheus

// Stage names used as the stage label.
const (
	StageLoad      = "load"
	StageAlign     = "align"
	StageInfer     = "infer"
	StageReduce    = "reduce"
	StageRecommend = "recommend"
	StageWrite     = "write"
	StagePublish   = "publish"
)

// Run status label values.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// DefaultStageBuckets covers stages from milliseconds to tens of minutes.
var DefaultStageBuckets = []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 900, 1800}

// PipelineMetrics holds every metric a run records.
type PipelineMetrics struct {
	RunsTotal     CounterVec
	StageDuration HistogramVec
	CohortSize    GaugeVec
	ImputedCells  CounterVec
	DrugsTotal    GaugeVec
	SinkFailures  CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on collector.
func NewPipelineMetrics(collector MetricsCollector) *PipelineMetrics {
	return &PipelineMetrics{
		RunsTotal:     collector.RegisterCounter("pipeline_runs_total", "Pipeline runs by final status", "status"),
		StageDuration: collector.RegisterHistogram("pipeline_stage_duration_seconds", "Duration of each pipeline stage", DefaultStageBuckets, "stage"),
		CohortSize:    collector.RegisterGauge("pipeline_cohort_size", "Samples present in every modality in the last run"),
		ImputedCells:  collector.RegisterCounter("pipeline_imputed_cells_total", "Missing cells replaced with zero", "modality"),
		DrugsTotal:    collector.RegisterGauge("pipeline_drugs_total", "Compounds in the drug library of the last run"),
		SinkFailures:  collector.RegisterCounter("pipeline_sink_failures_total", "Result sink publish failures", "sink"),
	}
}

// StartStage starts timing one stage. ObserveDuration on the returned timer
// records it.
func (m *PipelineMetrics) StartStage(stage string) *Timer {
	return NewTimer(m.StageDuration.WithLabelValues(stage))
}

// RecordRun counts a finished run.
func (m *PipelineMetrics) RecordRun(err error) {
	status := StatusSucceeded
	if err != nil {
		status = StatusFailed
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

// RecordCohort sets the cohort gauge and adds per-modality imputation counts.
func (m *PipelineMetrics) RecordCohort(size int, imputed map[string]int) {
	m.CohortSize.WithLabelValues().Set(float64(size))
	for modality, n := range imputed {
		m.ImputedCells.WithLabelValues(modality).Add(float64(n))
	}
}

// RecordDrugs sets the drug library gauge.
func (m *PipelineMetrics) RecordDrugs(n int) {
	m.DrugsTotal.WithLabelValues().Set(float64(n))
}

// RecordSinkFailure counts one failed publish to sink.
func (m *PipelineMetrics) RecordSinkFailure(sink string) {
	m.SinkFailures.WithLabelValues(sink).Inc()
}
