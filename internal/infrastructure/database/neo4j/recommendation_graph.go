package neo4j

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

var constraintStatements = []string{
	"CREATE CONSTRAINT patient_sample_id IF NOT EXISTS FOR (p:Patient) REQUIRE p.sample_id IS UNIQUE",
	"CREATE CONSTRAINT compound_name IF NOT EXISTS FOR (c:Compound) REQUIRE c.name IS UNIQUE",
}

const mergeRecommendationsCypher = `
UNWIND $rows AS row
MERGE (p:Patient {sample_id: row.sample_id})
SET p.risk = row.risk, p.run_id = $run_id
WITH p, row
UNWIND row.recommendations AS rec
MERGE (c:Compound {name: rec.compound})
MERGE (p)-[r:RECOMMENDED {run_id: $run_id, rank: rec.rank}]->(c)
SET r.score = rec.score
RETURN count(r) AS edges`

const recommendationsForCypher = `
MATCH (p:Patient {sample_id: $sample_id})-[r:RECOMMENDED]->(c:Compound)
WHERE $run_id = '' OR r.run_id = $run_id
RETURN c.name AS compound, r.rank AS rank, r.score AS score, r.run_id AS run_id
ORDER BY r.run_id DESC, r.rank ASC`

const patientsForCompoundCypher = `
MATCH (p:Patient)-[r:RECOMMENDED]->(c:Compound {name: $compound})
WHERE r.run_id = $run_id
RETURN p.sample_id AS sample_id, r.rank AS rank, r.score AS score, r.run_id AS run_id
ORDER BY r.rank ASC, p.sample_id ASC`

// Edge is one RECOMMENDED relationship.
type Edge struct {
	SampleID string  `json:"sample_id"`
	Compound string  `json:"compound"`
	Rank     int     `json:"rank"`
	Score    float64 `json:"score"`
	RunID    string  `json:"run_id"`
}

// RecommendationGraph stores patient→compound recommendation edges.
type RecommendationGraph interface {
	EnsureConstraints(ctx context.Context) error
	SaveRun(ctx context.Context, result *run.Result) (int64, error)
	RecommendationsFor(ctx context.Context, sampleID, runID string) ([]Edge, error)
	PatientsForCompound(ctx context.Context, compound, runID string) ([]Edge, error)
}

type recommendationGraph struct {
	driver DriverInterface
	logger logging.Logger
}

func NewRecommendationGraph(driver DriverInterface, log logging.Logger) RecommendationGraph {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &recommendationGraph{driver: driver, logger: log}
}

func (g *recommendationGraph) EnsureConstraints(ctx context.Context) error {
	_, err := g.driver.ExecuteWrite(ctx, func(tx Transaction) (any, error) {
		for _, stmt := range constraintStatements {
			res, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// SaveRun merges one edge per recommended compound. Patients without
// recommendations still get a node carrying their risk.
func (g *recommendationGraph) SaveRun(ctx context.Context, result *run.Result) (int64, error) {
	if result == nil || result.RunID == "" {
		return 0, errors.New(errors.CodeInvalidParam, "run result with an id is required")
	}
	rows := graphRows(result)
	if len(rows) == 0 {
		return 0, nil
	}

	out, err := g.driver.ExecuteWrite(ctx, func(tx Transaction) (any, error) {
		res, err := tx.Run(ctx, mergeRecommendationsCypher, map[string]any{
			"run_id": result.RunID,
			"rows":   rows,
		})
		if err != nil {
			return nil, err
		}
		return ExtractSingleRecord(ctx, res, func(r *neo4j.Record) (int64, error) {
			return recordInt(r, "edges")
		})
	})
	if err != nil {
		return 0, err
	}
	edges, _ := out.(int64)
	g.logger.Info("Merged recommendation graph",
		logging.String("run_id", result.RunID),
		logging.Int("patients", len(rows)),
		logging.Int64("edges", edges))
	return edges, nil
}

func (g *recommendationGraph) RecommendationsFor(ctx context.Context, sampleID, runID string) ([]Edge, error) {
	if sampleID == "" {
		return nil, errors.New(errors.CodeInvalidParam, "sample id is required")
	}
	out, err := g.driver.ExecuteRead(ctx, func(tx Transaction) (any, error) {
		res, err := tx.Run(ctx, recommendationsForCypher, map[string]any{
			"sample_id": sampleID,
			"run_id":    runID,
		})
		if err != nil {
			return nil, err
		}
		return CollectRecords(ctx, res, func(r *neo4j.Record) (Edge, error) {
			e, err := edgeFromRecord(r, "compound")
			e.SampleID = sampleID
			return e, err
		})
	})
	if err != nil {
		return nil, err
	}
	edges, _ := out.([]Edge)
	return edges, nil
}

func (g *recommendationGraph) PatientsForCompound(ctx context.Context, compound, runID string) ([]Edge, error) {
	if compound == "" || runID == "" {
		return nil, errors.New(errors.CodeInvalidParam, "compound and run id are required")
	}
	out, err := g.driver.ExecuteRead(ctx, func(tx Transaction) (any, error) {
		res, err := tx.Run(ctx, patientsForCompoundCypher, map[string]any{
			"compound": compound,
			"run_id":   runID,
		})
		if err != nil {
			return nil, err
		}
		return CollectRecords(ctx, res, func(r *neo4j.Record) (Edge, error) {
			e, err := edgeFromRecord(r, "sample_id")
			e.Compound = compound
			return e, err
		})
	})
	if err != nil {
		return nil, err
	}
	edges, _ := out.([]Edge)
	return edges, nil
}

func graphRows(result *run.Result) []map[string]any {
	rows := make([]map[string]any, 0, len(result.Patients))
	for _, p := range result.Patients {
		recs := make([]map[string]any, 0, len(p.Compounds))
		for i, name := range p.Compounds {
			rec := map[string]any{"compound": name, "rank": int64(i + 1), "score": 0.0}
			if i < len(p.Scores) {
				rec["score"] = p.Scores[i]
			}
			recs = append(recs, rec)
		}
		rows = append(rows, map[string]any{
			"sample_id":       p.SampleID,
			"risk":            p.Risk,
			"recommendations": recs,
		})
	}
	return rows
}

// edgeFromRecord reads rank, score and run_id plus one string column, which
// becomes Compound or SampleID depending on the query.
func edgeFromRecord(r *neo4j.Record, keyCol string) (Edge, error) {
	var e Edge
	key, err := recordString(r, keyCol)
	if err != nil {
		return e, err
	}
	if keyCol == "compound" {
		e.Compound = key
	} else {
		e.SampleID = key
	}
	rank, err := recordInt(r, "rank")
	if err != nil {
		return e, err
	}
	e.Rank = int(rank)
	if e.Score, err = recordFloat(r, "score"); err != nil {
		return e, err
	}
	if e.RunID, err = recordString(r, "run_id"); err != nil {
		return e, err
	}
	return e, nil
}

func recordValue(r *neo4j.Record, key string) (any, error) {
	v, ok := r.Get(key)
	if !ok {
		return nil, errors.Newf(errors.CodeGraphError, "record has no %q column", key)
	}
	return v, nil
}

func recordString(r *neo4j.Record, key string) (string, error) {
	v, err := recordValue(r, key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Newf(errors.CodeGraphError, "column %q: expected string, got %T", key, v)
	}
	return s, nil
}

func recordInt(r *neo4j.Record, key string) (int64, error) {
	v, err := recordValue(r, key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, errors.Newf(errors.CodeGraphError, "column %q: expected integer, got %T", key, v)
	}
}

func recordFloat(r *neo4j.Record, key string) (float64, error) {
	v, err := recordValue(r, key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case nil:
		return 0, nil
	default:
		return 0, errors.Newf(errors.CodeGraphError, "column %q: expected float, got %T", key, v)
	}
}
