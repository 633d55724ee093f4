package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

func TestOutputBatch_CommitRenames(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "results.csv")
	require.NoError(t, os.WriteFile(final, []byte("old\n"), 0o644))

	b := newOutputBatch("run-1")
	tmp := b.Stage(final)
	assert.Equal(t, filepath.Join(dir, ".tmp-run-1-results.csv"), tmp)
	assert.Equal(t, ".csv", filepath.Ext(tmp))
	require.NoError(t, os.WriteFile(tmp, []byte("new\n"), 0o644))

	assert.Equal(t, "old\n", readFile(t, final))
	require.NoError(t, b.Commit())
	assert.Equal(t, "new\n", readFile(t, final))
	assert.NoFileExists(t, tmp)
}

func TestOutputBatch_Discard(t *testing.T) {
	dir := t.TempDir()
	b := newOutputBatch("run-1")
	tmp := b.Stage(filepath.Join(dir, "results.csv"))
	require.NoError(t, os.WriteFile(tmp, []byte("x"), 0o644))

	b.Discard()
	assert.NoFileExists(t, tmp)
	assert.NoFileExists(t, filepath.Join(dir, "results.csv"))
}

func TestOutputBatch_CommitFailureRemovesRemaining(t *testing.T) {
	dir := t.TempDir()
	b := newOutputBatch("run-1")
	missing := b.Stage(filepath.Join(dir, "results.csv"))
	written := b.Stage(filepath.Join(dir, "patient_embeddings.csv"))
	require.NoError(t, os.WriteFile(written, []byte("x"), 0o644))

	err := b.Commit()
	assert.True(t, errors.IsCode(err, errors.CodeOutputWrite))
	assert.NoFileExists(t, missing)
	assert.NoFileExists(t, written)
	assert.NoFileExists(t, filepath.Join(dir, "patient_embeddings.csv"))
}
