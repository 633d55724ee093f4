// Package run describes one pipeline execution as it is handed to the
// result sinks and announced on the event bus.
package run

import (
	"time"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// Status of a finished run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ModalityStats summarizes one aligned input table.
type ModalityStats struct {
	Modality string `json:"modality"`
	Width    int    `json:"width"`
	Imputed  int    `json:"imputed_cells"`
}

// PatientResult is everything a run produced for one patient. Compounds and
// Scores are empty when the run had no recommendation stage.
type PatientResult struct {
	SampleID  string    `json:"sample_id"`
	Risk      float64   `json:"predicted_risk"`
	Embedding []float64 `json:"embedding,omitempty"`
	Compounds []string  `json:"compounds,omitempty"`
	Scores    []float64 `json:"scores,omitempty"`
}

// Result is a completed run.
type Result struct {
	RunID          string          `json:"run_id"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	CohortSize     int             `json:"cohort_size"`
	DrugCount      int             `json:"drug_count"`
	TopK           int             `json:"top_k"`
	EmbeddingWidth int             `json:"embedding_width"`
	Modalities     []ModalityStats `json:"modalities"`
	Patients       []PatientResult `json:"-"`

	// SourceRunID is the predict run whose embeddings a recommend-only run
	// ranked, when its manifest was found.
	SourceRunID string `json:"source_run_id,omitempty"`

	// Artifacts are the local output files. ObjectKeys is filled by the
	// object-store sink.
	Artifacts  []string `json:"artifacts"`
	ObjectKeys []string `json:"object_keys,omitempty"`
}

// Duration of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// HasRecommendations reports whether any patient carries a ranked list.
func (r *Result) HasRecommendations() bool {
	for _, p := range r.Patients {
		if len(p.Compounds) > 0 {
			return true
		}
	}
	return false
}

// Event types.
const (
	EventRequested = "pipeline.run.requested"
	EventCompleted = "pipeline.run.completed"
	EventFailed    = "pipeline.run.failed"
)

// Event is published when a run finishes either way.
type Event struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	RequestID  string    `json:"request_id,omitempty"`
	Status     Status    `json:"status"`
	CohortSize int       `json:"cohort_size"`
	DrugCount  int       `json:"drug_count"`
	Artifacts  []string  `json:"artifacts,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// CompletedEvent builds the success event for r.
func CompletedEvent(r *Result, requestID string) Event {
	artifacts := r.ObjectKeys
	if len(artifacts) == 0 {
		artifacts = r.Artifacts
	}
	return Event{
		Type:       EventCompleted,
		RunID:      r.RunID,
		RequestID:  requestID,
		Status:     StatusSucceeded,
		CohortSize: r.CohortSize,
		DrugCount:  r.DrugCount,
		Artifacts:  artifacts,
		Timestamp:  r.FinishedAt,
	}
}

// FailedEvent builds the failure event for a run that returned err.
func FailedEvent(runID, requestID string, err error, at time.Time) Event {
	return Event{
		Type:      EventFailed,
		RunID:     runID,
		RequestID: requestID,
		Status:    StatusFailed,
		ErrorCode: errors.GetCode(err).String(),
		Error:     err.Error(),
		Timestamp: at,
	}
}

// Request asks the worker for a run. Empty fields keep the configured value.
type Request struct {
	RequestID   string `json:"request_id"`
	Expression  string `json:"expression,omitempty"`
	Mutation    string `json:"mutation,omitempty"`
	Methylation string `json:"methylation,omitempty"`
	Drugs       string `json:"drugs,omitempty"`
	OutputDir   string `json:"output_dir,omitempty"`
	TopK        int    `json:"top_k,omitempty"`
}

// Validate rejects requests that can never succeed.
func (r Request) Validate() error {
	if r.TopK < 0 {
		return errors.New(errors.CodeInvalidParam, "top_k must not be negative").WithDetailf("top_k=%d", r.TopK)
	}
	return nil
}
