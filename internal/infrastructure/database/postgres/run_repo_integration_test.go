//go:build integration

package postgres_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/RuoyuGao1/cancer-system/internal/config"
	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/database/postgres"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// startPostgres launches a PostgreSQL 16 container and returns its config.
func startPostgres(t *testing.T) config.PostgresConfig {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "oncofuse_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	return config.PostgresConfig{
		Host: host, Port: portNum, User: "test", Password: "test",
		DBName: "oncofuse_test", SSLMode: "disable", MaxConns: 4,
	}
}

func TestRunRepository_RoundTrip(t *testing.T) {
	cfg := startPostgres(t)

	migrator := postgres.NewMigrator(cfg, nil)
	require.NoError(t, migrator.Up())
	version, dirty, err := migrator.Status()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	pool, err := postgres.NewConnectionPool(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { postgres.Close(pool) })

	ctx := context.Background()
	repo := postgres.NewRunRepository(pool, nil)

	started := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	result := &run.Result{
		RunID:          "run-a",
		StartedAt:      started,
		FinishedAt:     started.Add(time.Minute),
		CohortSize:     2,
		DrugCount:      4,
		TopK:           2,
		EmbeddingWidth: 2,
		Modalities:     []run.ModalityStats{{Modality: "expression", Width: 10, Imputed: 1}},
		Artifacts:      []string{"results.csv", "manifest.json"},
		Patients: []run.PatientResult{
			{SampleID: "TCGA-AA-0001-01", Risk: 0.4, Embedding: []float64{0.1, 0.2}, Compounds: []string{"d2", "d1"}, Scores: []float64{0.8, 0.3}},
			{SampleID: "TCGA-AA-0002-01", Risk: 0.6, Embedding: []float64{0.3, 0.4}},
		},
	}
	require.NoError(t, repo.SaveRun(ctx, result))
	// Saving again replaces rather than duplicates.
	require.NoError(t, repo.SaveRun(ctx, result))

	got, err := repo.GetRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CohortSize)
	assert.Equal(t, result.Modalities, got.Modalities)
	assert.Equal(t, result.Artifacts, got.Artifacts)
	assert.True(t, started.Equal(got.StartedAt))

	patients, err := repo.ListPatientResults(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, patients, 2)
	assert.Equal(t, []string{"d2", "d1"}, patients[0].Compounds)
	assert.Equal(t, []float64{0.8, 0.3}, patients[0].Scores)
	assert.Equal(t, []float64{0.3, 0.4}, patients[1].Embedding)
	assert.Empty(t, patients[1].Compounds)

	later := *result
	later.RunID = "run-b"
	later.FinishedAt = started.Add(time.Hour)
	require.NoError(t, repo.SaveRun(ctx, &later))

	latest, err := repo.LatestRunForSample(ctx, "TCGA-AA-0001-01")
	require.NoError(t, err)
	assert.Equal(t, "run-b", latest)

	_, err = repo.GetRun(ctx, "missing")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))

	require.NoError(t, migrator.Rollback(1))
}
