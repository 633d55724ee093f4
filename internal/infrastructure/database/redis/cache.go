package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

var ErrCacheMiss = errors.New(errors.CodeNotFound, "cache miss")

// Hash fields of a patient entry.
const (
	fieldRisk      = "risk"
	fieldRunID     = "run_id"
	fieldEmbedding = "embedding"
	fieldCompounds = "compounds"
	fieldScores    = "scores"
	fieldUpdatedAt = "updated_at"
)

// CachedPatient is the latest result stored for one sample.
type CachedPatient struct {
	SampleID  string
	RunID     string
	Risk      float64
	Embedding []float64
	Compounds []string
	Scores    []float64
	UpdatedAt time.Time
}

// ResultCache stores run results for lookup by sample ID or run ID.
type ResultCache interface {
	StoreRun(ctx context.Context, result *run.Result) error
	GetPatient(ctx context.Context, sampleID string) (*CachedPatient, error)
	GetRun(ctx context.Context, runID string) (*run.Result, error)
	RunPatients(ctx context.Context, runID string) ([]string, error)
}

type resultCache struct {
	client *Client
	logger logging.Logger
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewResultCache builds a cache using the client's configured prefix and TTL.
func NewResultCache(client *Client, log logging.Logger) ResultCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &resultCache{
		client: client,
		logger: log,
		prefix: client.config.KeyPrefix,
		ttl:    client.config.TTL,
		now:    time.Now,
	}
}

// PatientKey is the hash key of a sample.
func PatientKey(prefix, sampleID string) string {
	return prefix + "patient:" + sampleID
}

// RunKey is the metadata key of a run.
func RunKey(prefix, runID string) string {
	return prefix + "run:" + runID
}

func runPatientsKey(prefix, runID string) string {
	return RunKey(prefix, runID) + ":patients"
}

// StoreRun writes the run metadata, one hash per patient, and the run's
// patient index in a single transaction. Existing patient entries are
// overwritten by the newer run.
func (c *resultCache) StoreRun(ctx context.Context, result *run.Result) error {
	if result == nil || result.RunID == "" {
		return errors.New(errors.CodeInvalidParam, "run result requires a run id")
	}
	if c.client.isClosed() {
		return ErrClientClosed
	}

	meta, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "encode run metadata")
	}

	updated := c.now().UTC().Format(time.RFC3339Nano)
	ids := make([]interface{}, 0, len(result.Patients))
	entries := make(map[string]map[string]interface{}, len(result.Patients))
	for _, p := range result.Patients {
		fields, err := patientFields(p, result.RunID, updated)
		if err != nil {
			return err
		}
		entries[p.SampleID] = fields
		ids = append(ids, p.SampleID)
	}

	_, err = c.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		runKey := RunKey(c.prefix, result.RunID)
		pipe.Set(ctx, runKey, meta, c.ttl)
		for id, fields := range entries {
			key := PatientKey(c.prefix, id)
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
			if c.ttl > 0 {
				pipe.Expire(ctx, key, c.ttl)
			}
		}
		if len(ids) > 0 {
			idxKey := runPatientsKey(c.prefix, result.RunID)
			pipe.Del(ctx, idxKey)
			pipe.RPush(ctx, idxKey, ids...)
			if c.ttl > 0 {
				pipe.Expire(ctx, idxKey, c.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, errors.CodeCacheError, "store run %s", result.RunID)
	}

	c.logger.Debug("run cached",
		logging.String("run_id", result.RunID),
		logging.Int("patients", len(ids)),
		logging.Duration("ttl", c.ttl),
	)
	return nil
}

func patientFields(p run.PatientResult, runID, updated string) (map[string]interface{}, error) {
	fields := map[string]interface{}{
		fieldRisk:      strconv.FormatFloat(p.Risk, 'g', -1, 64),
		fieldRunID:     runID,
		fieldUpdatedAt: updated,
	}
	encode := func(name string, v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return errors.Wrapf(err, errors.CodeSerialization, "encode %s of %s", name, p.SampleID)
		}
		fields[name] = string(b)
		return nil
	}
	if len(p.Embedding) > 0 {
		if err := encode(fieldEmbedding, p.Embedding); err != nil {
			return nil, err
		}
	}
	if len(p.Compounds) > 0 {
		if err := encode(fieldCompounds, p.Compounds); err != nil {
			return nil, err
		}
		if err := encode(fieldScores, p.Scores); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

func (c *resultCache) GetPatient(ctx context.Context, sampleID string) (*CachedPatient, error) {
	if c.client.isClosed() {
		return nil, ErrClientClosed
	}
	vals, err := c.client.rdb.HGetAll(ctx, PatientKey(c.prefix, sampleID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeCacheError, "get patient %s", sampleID)
	}
	if len(vals) == 0 {
		return nil, ErrCacheMiss.WithDetailf("sample_id=%s", sampleID)
	}

	out := &CachedPatient{SampleID: sampleID, RunID: vals[fieldRunID]}
	if out.Risk, err = strconv.ParseFloat(vals[fieldRisk], 64); err != nil {
		return nil, errors.Wrapf(err, errors.CodeSerialization, "decode risk of %s", sampleID)
	}
	if ts := vals[fieldUpdatedAt]; ts != "" {
		if out.UpdatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, errors.Wrapf(err, errors.CodeSerialization, "decode updated_at of %s", sampleID)
		}
	}
	decode := func(name string, dst interface{}) error {
		raw, ok := vals[name]
		if !ok {
			return nil
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return errors.Wrapf(err, errors.CodeSerialization, "decode %s of %s", name, sampleID)
		}
		return nil
	}
	if err := decode(fieldEmbedding, &out.Embedding); err != nil {
		return nil, err
	}
	if err := decode(fieldCompounds, &out.Compounds); err != nil {
		return nil, err
	}
	if err := decode(fieldScores, &out.Scores); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRun returns the run metadata. Patients are not included.
func (c *resultCache) GetRun(ctx context.Context, runID string) (*run.Result, error) {
	if c.client.isClosed() {
		return nil, ErrClientClosed
	}
	raw, err := c.client.rdb.Get(ctx, RunKey(c.prefix, runID)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss.WithDetailf("run_id=%s", runID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeCacheError, "get run %s", runID)
	}
	var out run.Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrapf(err, errors.CodeSerialization, "decode run %s", runID)
	}
	return &out, nil
}

// RunPatients lists the sample IDs of a run in output order.
func (c *resultCache) RunPatients(ctx context.Context, runID string) ([]string, error) {
	if c.client.isClosed() {
		return nil, ErrClientClosed
	}
	ids, err := c.client.rdb.LRange(ctx, runPatientsKey(c.prefix, runID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeCacheError, "list patients of run %s", runID)
	}
	if len(ids) == 0 {
		return nil, ErrCacheMiss.WithDetailf("run_id=%s", runID)
	}
	return ids, nil
}
