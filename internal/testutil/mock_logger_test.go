package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/internal/testutil"
)

func TestMockLogger(t *testing.T) {
	logger := testutil.NewMockLogger()

	logger.Info("test info", logging.String("key", "value"))

	messages := logger.GetMessages()
	assert.Len(t, messages, 1)
	assert.Equal(t, "info", messages[0].Level)
	assert.Equal(t, "test info", messages[0].Message)

	logger.Clear()
	assert.Len(t, logger.GetMessages(), 0)

	logger.Error("test error")
	assert.True(t, logger.HasMessage("error", "test error"))
	assert.False(t, logger.HasMessage("info", "test info"))
}

func TestMockLogger_WithSharesBuffer(t *testing.T) {
	logger := testutil.NewMockLogger()
	child := logger.With(logging.String("run_id", "r-1"))
	child.Info("stage finished", logging.Int("samples", 2))

	assert.True(t, logger.HasMessage("info", "stage finished"))
	v, ok := logger.FieldValue("stage finished", "run_id")
	assert.True(t, ok)
	assert.Equal(t, "r-1", v)
	v, ok = logger.FieldValue("stage finished", "samples")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
