package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

var (
	patientResultColumns  = []string{"run_id", "sample_id", "predicted_risk", "embedding"}
	recommendationColumns = []string{"run_id", "sample_id", "rank", "compound", "score"}
)

// Querier is the read side of a pool or transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DB is what the repository needs from *pgxpool.Pool.
type DB interface {
	TxBeginner
	Querier
}

// RunRepository stores completed runs.
type RunRepository interface {
	SaveRun(ctx context.Context, result *run.Result) error
	GetRun(ctx context.Context, runID string) (*run.Result, error)
	ListPatientResults(ctx context.Context, runID string) ([]run.PatientResult, error)
	LatestRunForSample(ctx context.Context, sampleID string) (string, error)
}

type runRepository struct {
	db     DB
	logger logging.Logger
}

// NewRunRepository builds a repository on db.
func NewRunRepository(db DB, log logging.Logger) RunRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &runRepository{db: db, logger: log}
}

// ─────────────────────────────────────────────────────────────────────────────
// SaveRun
// ─────────────────────────────────────────────────────────────────────────────

// SaveRun upserts the run row and replaces its patient and recommendation
// rows in one transaction. The bulk rows go through COPY.
func (r *runRepository) SaveRun(ctx context.Context, result *run.Result) error {
	if result == nil || result.RunID == "" {
		return errors.New(errors.CodeInvalidParam, "run result requires a run id")
	}
	modalities, err := json.Marshal(result.Modalities)
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "encode modalities")
	}
	artifacts, err := json.Marshal(result.Artifacts)
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "encode artifacts")
	}

	err = WithTransaction(ctx, r.db, func(tx pgx.Tx, ctx context.Context) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO pipeline_runs (
				run_id, started_at, finished_at, cohort_size, drug_count,
				top_k, embedding_width, modalities, artifacts
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (run_id) DO UPDATE SET
				started_at = EXCLUDED.started_at,
				finished_at = EXCLUDED.finished_at,
				cohort_size = EXCLUDED.cohort_size,
				drug_count = EXCLUDED.drug_count,
				top_k = EXCLUDED.top_k,
				embedding_width = EXCLUDED.embedding_width,
				modalities = EXCLUDED.modalities,
				artifacts = EXCLUDED.artifacts`,
			result.RunID, result.StartedAt, result.FinishedAt, result.CohortSize, result.DrugCount,
			result.TopK, result.EmbeddingWidth, modalities, artifacts,
		); err != nil {
			return errors.Wrap(err, errors.CodeDatabaseError, "upsert pipeline run")
		}

		if _, err := tx.Exec(ctx, `DELETE FROM patient_results WHERE run_id = $1`, result.RunID); err != nil {
			return errors.Wrap(err, errors.CodeDatabaseError, "clear patient results")
		}

		patients, recs := copyRows(result)
		if len(patients) > 0 {
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"patient_results"}, patientResultColumns, pgx.CopyFromRows(patients)); err != nil {
				return errors.Wrap(err, errors.CodeDatabaseError, "copy patient results")
			}
		}
		if len(recs) > 0 {
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"recommendations"}, recommendationColumns, pgx.CopyFromRows(recs)); err != nil {
				return errors.Wrap(err, errors.CodeDatabaseError, "copy recommendations")
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("save run failed", logging.String("run_id", result.RunID), logging.Err(err))
		return err
	}

	r.logger.Debug("run saved",
		logging.String("run_id", result.RunID),
		logging.Int("patients", len(result.Patients)),
	)
	return nil
}

// copyRows flattens result into COPY rows. Recommendation ranks start at 1.
func copyRows(result *run.Result) (patients, recs [][]any) {
	patients = make([][]any, 0, len(result.Patients))
	for _, p := range result.Patients {
		emb := p.Embedding
		if emb == nil {
			emb = []float64{}
		}
		patients = append(patients, []any{result.RunID, p.SampleID, p.Risk, emb})
		for i, name := range p.Compounds {
			var score float64
			if i < len(p.Scores) {
				score = p.Scores[i]
			}
			recs = append(recs, []any{result.RunID, p.SampleID, int32(i + 1), name, score})
		}
	}
	return patients, recs
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

func (r *runRepository) GetRun(ctx context.Context, runID string) (*run.Result, error) {
	var (
		out        run.Result
		modalities []byte
		artifacts  []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT run_id, started_at, finished_at, cohort_size, drug_count,
		       top_k, embedding_width, modalities, artifacts
		FROM pipeline_runs WHERE run_id = $1`, runID,
	).Scan(&out.RunID, &out.StartedAt, &out.FinishedAt, &out.CohortSize, &out.DrugCount,
		&out.TopK, &out.EmbeddingWidth, &modalities, &artifacts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.New(errors.CodeNotFound, "run not found").WithDetailf("run_id=%s", runID)
		}
		return nil, errors.Wrapf(err, errors.CodeDatabaseError, "get run %s", runID)
	}
	if err := json.Unmarshal(modalities, &out.Modalities); err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "decode modalities")
	}
	if err := json.Unmarshal(artifacts, &out.Artifacts); err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "decode artifacts")
	}
	return &out, nil
}

// ListPatientResults returns the run's patients in sample order with their
// ranked compounds.
func (r *runRepository) ListPatientResults(ctx context.Context, runID string) ([]run.PatientResult, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.sample_id, p.predicted_risk, p.embedding, c.compound, c.score
		FROM patient_results p
		LEFT JOIN recommendations c ON c.run_id = p.run_id AND c.sample_id = p.sample_id
		WHERE p.run_id = $1
		ORDER BY p.sample_id, c.rank`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabaseError, "list patients of run %s", runID)
	}
	defer rows.Close()

	var out []run.PatientResult
	for rows.Next() {
		var (
			sampleID  string
			risk      float64
			embedding []float64
			compound  *string
			score     *float64
		)
		if err := rows.Scan(&sampleID, &risk, &embedding, &compound, &score); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabaseError, "scan patient result")
		}
		if n := len(out); n == 0 || out[n-1].SampleID != sampleID {
			out = append(out, run.PatientResult{SampleID: sampleID, Risk: risk, Embedding: embedding})
		}
		if compound != nil {
			last := &out[len(out)-1]
			last.Compounds = append(last.Compounds, *compound)
			if score != nil {
				last.Scores = append(last.Scores, *score)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "iterate patient results")
	}
	return out, nil
}

// LatestRunForSample returns the most recently finished run that scored the
// sample.
func (r *runRepository) LatestRunForSample(ctx context.Context, sampleID string) (string, error) {
	var runID string
	err := r.db.QueryRow(ctx, `
		SELECT r.run_id
		FROM patient_results p
		JOIN pipeline_runs r ON r.run_id = p.run_id
		WHERE p.sample_id = $1
		ORDER BY r.finished_at DESC
		LIMIT 1`, sampleID).Scan(&runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errors.New(errors.CodeNotFound, "sample has no stored runs").WithDetailf("sample_id=%s", sampleID)
		}
		return "", errors.Wrapf(err, errors.CodeDatabaseError, "latest run for %s", sampleID)
	}
	return runID, nil
}
