package neo4j

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/RuoyuGao1/cancer-system/internal/testutil"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

type MockDriver struct{ mock.Mock }

func (m *MockDriver) VerifyConnectivity(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) NewSession(ctx context.Context, config neo4j.SessionConfig) internalSession {
	return m.Called(ctx, config).Get(0).(internalSession)
}

func (m *MockDriver) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockSession struct {
	mock.Mock
	tx Transaction
}

func (m *MockSession) ExecuteRead(ctx context.Context, work TransactionWork) (any, error) {
	args := m.Called(ctx)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return work(m.tx)
}

func (m *MockSession) ExecuteWrite(ctx context.Context, work TransactionWork) (any, error) {
	args := m.Called(ctx)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return work(m.tx)
}

func (m *MockSession) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockTransaction struct{ mock.Mock }

func (m *MockTransaction) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	args := m.Called(ctx, cypher, params)
	if r := args.Get(0); r != nil {
		return r.(Result), args.Error(1)
	}
	return nil, args.Error(1)
}

// sliceResult replays fixed records.
type sliceResult struct {
	records []*neo4j.Record
	pos     int
	err     error
}

func newSliceResult(keys []string, rows ...[]any) *sliceResult {
	res := &sliceResult{pos: -1}
	for _, row := range rows {
		res.records = append(res.records, &neo4j.Record{Keys: keys, Values: row})
	}
	return res
}

func (r *sliceResult) Next(context.Context) bool {
	if r.pos+1 >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *sliceResult) Record() *neo4j.Record { return r.records[r.pos] }
func (r *sliceResult) Err() error            { return r.err }
func (r *sliceResult) Consume(context.Context) (neo4j.ResultSummary, error) {
	return nil, nil
}

func TestDriver_HealthCheck(t *testing.T) {
	md := new(MockDriver)
	tx := new(MockTransaction)
	ms := &MockSession{tx: tx}

	md.On("VerifyConnectivity", mock.Anything).Return(nil)
	md.On("NewSession", mock.Anything, mock.MatchedBy(func(c neo4j.SessionConfig) bool {
		return c.DatabaseName == "neo4j" && c.AccessMode == neo4j.AccessModeRead
	})).Return(ms)
	ms.On("ExecuteRead", mock.Anything).Return(nil, nil)
	ms.On("Close", mock.Anything).Return(nil)
	tx.On("Run", mock.Anything, "RETURN 1 AS health", mock.Anything).
		Return(newSliceResult([]string{"health"}, []any{int64(1)}), nil)

	d := newDriver(md, "", testutil.NewMockLogger())
	require.NoError(t, d.HealthCheck(context.Background()))

	md.AssertExpectations(t)
	ms.AssertExpectations(t)
	tx.AssertExpectations(t)
}

func TestDriver_HealthCheck_ConnectivityFailure(t *testing.T) {
	md := new(MockDriver)
	md.On("VerifyConnectivity", mock.Anything).Return(stderrors.New("refused"))

	d := newDriver(md, "graph", testutil.NewMockLogger())
	err := d.HealthCheck(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeGraphError))
}

func TestDriver_ExecuteWrite_WrapsError(t *testing.T) {
	md := new(MockDriver)
	ms := &MockSession{}
	log := testutil.NewMockLogger()

	md.On("NewSession", mock.Anything, mock.Anything).Return(ms)
	ms.On("ExecuteWrite", mock.Anything).Return(nil, stderrors.New("deadlock"))
	ms.On("Close", mock.Anything).Return(nil)

	d := newDriver(md, "neo4j", log)
	_, err := d.ExecuteWrite(context.Background(), func(Transaction) (any, error) { return nil, nil })
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeGraphError))
	assert.True(t, log.HasMessage("error", "Neo4j write transaction failed"))
	ms.AssertCalled(t, "Close", mock.Anything)
}

func TestDriver_CloseOnce(t *testing.T) {
	md := new(MockDriver)
	md.On("Close", mock.Anything).Return(nil).Once()

	d := newDriver(md, "neo4j", testutil.NewMockLogger())
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	md.AssertNumberOfCalls(t, "Close", 1)
}

func TestExtractSingleRecord_NotFound(t *testing.T) {
	_, err := ExtractSingleRecord(context.Background(), newSliceResult([]string{"x"}),
		func(r *neo4j.Record) (any, error) { return r.Values[0], nil })
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestCollectRecords_PropagatesResultError(t *testing.T) {
	res := newSliceResult([]string{"x"}, []any{"a"})
	res.err = stderrors.New("stream broken")
	_, err := CollectRecords(context.Background(), res, func(r *neo4j.Record) (any, error) { return r.Values[0], nil })
	assert.EqualError(t, err, "stream broken")
}
