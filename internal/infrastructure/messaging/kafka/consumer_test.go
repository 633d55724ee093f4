package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockKafkaReader serves queued messages, then blocks until cancelled.
type mockKafkaReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, msgs...)
	return nil
}

func (m *mockKafkaReader) Close() error {
	m.closed = true
	return nil
}

func (m *mockKafkaReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{} }

func (m *mockKafkaReader) committedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}

func TestValidateConsumerConfig(t *testing.T) {
	assert.NoError(t, ValidateConsumerConfig(testKafkaConfig(), RetryConfig{}))

	cfg := testKafkaConfig()
	cfg.GroupID = ""
	assert.Error(t, ValidateConsumerConfig(cfg, RetryConfig{}))

	cfg = testKafkaConfig()
	cfg.RequestTopic = ""
	assert.Error(t, ValidateConsumerConfig(cfg, RetryConfig{}))

	assert.Error(t, ValidateConsumerConfig(testKafkaConfig(), RetryConfig{MaxRetries: -1}))
}

func TestConsumer_ProcessesInOrderAndCommits(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{
		{Topic: "req", Offset: 1, Value: []byte("a"), Headers: []kafka.Header{{Key: "k", Value: []byte("v")}}},
		{Topic: "req", Offset: 2, Value: []byte("b")},
		{Topic: "other", Offset: 3, Value: []byte("c")},
	}}
	c := NewConsumerWithReader(reader, "g", RetryConfig{}, nil)

	var mu sync.Mutex
	var seen []string
	c.Subscribe("req", func(_ context.Context, msg *Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(msg.Value))
		if msg.Offset == 1 {
			assert.Equal(t, "v", msg.Headers["k"])
		}
		return nil
	})

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return reader.committedCount() == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, []string{"a", "b"}, seen)
	assert.True(t, reader.closed)
	assert.Equal(t, int64(3), c.Metrics().MessagesConsumed.Load())
	assert.Equal(t, int64(2), c.Metrics().MessagesProcessed.Load())
}

func TestConsumer_FailedMessageIsCommitted(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{{Topic: "req", Value: []byte("x")}}}
	c := NewConsumerWithReader(reader, "g", RetryConfig{}, nil)
	c.Subscribe("req", func(context.Context, *Message) error { return fmt.Errorf("boom") })

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return reader.committedCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	assert.Equal(t, int64(1), c.Metrics().MessagesFailed.Load())
}

func TestConsumer_RetriesUntilSuccess(t *testing.T) {
	c := NewConsumerWithReader(&mockKafkaReader{}, "g", RetryConfig{
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, nil)

	var calls atomic.Int32
	err := c.processMessage(context.Background(), &Message{}, func(context.Context, *Message) error {
		if calls.Add(1) < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(2), c.Metrics().MessagesRetried.Load())
}

func TestConsumer_NoRetryByDefault(t *testing.T) {
	c := NewConsumerWithReader(&mockKafkaReader{}, "g", RetryConfig{}, nil)
	var calls int
	err := c.processMessage(context.Background(), &Message{}, func(context.Context, *Message) error {
		calls++
		return fmt.Errorf("fail")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestConsumer_StartTwice(t *testing.T) {
	c := NewConsumerWithReader(&mockKafkaReader{}, "g", RetryConfig{}, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)
}
