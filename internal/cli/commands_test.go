package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wisefido-sync-resolver/internal/metrics"
	"wisefido-sync-resolver/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// MockConflictQuerier 是 ConflictQuerier 的 mock 实现
type MockConflictQuerier struct {
	mock.Mock
}

func (m *MockConflictQuerier) Unresolved(ctx context.Context, clientName string, limit int) ([]*models.ConflictRecord, error) {
	args := m.Called(clientName, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ConflictRecord), args.Error(1)
}

func (m *MockConflictQuerier) PendingReview(ctx context.Context, clientName string, limit int) ([]*models.ConflictRecord, error) {
	args := m.Called(clientName, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ConflictRecord), args.Error(1)
}

func (m *MockConflictQuerier) History(ctx context.Context, clientName, tableName, recordID string) ([]*models.ConflictRecord, error) {
	args := m.Called(clientName, tableName, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ConflictRecord), args.Error(1)
}

type fakeStats struct {
	snap *metrics.Snapshot
}

func (f fakeStats) Snapshot(context.Context) (*metrics.Snapshot, error) {
	return f.snap, nil
}

func sampleRecords() []*models.ConflictRecord {
	return []*models.ConflictRecord{
		{
			LogID:              12,
			ClientName:         "client-a",
			TableName:          "contracts",
			RecordID:           "9",
			ConflictType:       models.ConflictTypeUpdate,
			ResolutionStrategy: "manual",
			DetectedAt:         time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
	}
}

func run(t *testing.T, q ConflictQuerier, stats StatsReader, args ...string) (string, error) {
	closed := false
	open := func(context.Context) (*Backend, error) {
		return &Backend{Conflicts: q, Stats: stats, Close: func() error { closed = true; return nil }}, nil
	}
	cmd := NewRootCommand(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil && args[0] != "policy" {
		assert.True(t, closed, "backend should be closed")
	}
	return out.String(), err
}

func TestUnresolved_JSON(t *testing.T) {
	q := new(MockConflictQuerier)
	q.On("Unresolved", "client-a", 5).Return(sampleRecords(), nil)

	out, err := run(t, q, nil, "unresolved", "--client", "client-a", "--limit", "5", "-o", "json")
	require.NoError(t, err)

	var got []models.ConflictRecord
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(12), got[0].LogID)
	q.AssertExpectations(t)
}

func TestUnresolved_EmptyJSONIsArray(t *testing.T) {
	q := new(MockConflictQuerier)
	q.On("Unresolved", "", 100).Return(nil, nil)

	out, err := run(t, q, nil, "unresolved", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestPending_Table(t *testing.T) {
	q := new(MockConflictQuerier)
	q.On("PendingReview", "", 100).Return(sampleRecords(), nil)

	out, err := run(t, q, nil, "pending", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "contracts")
	assert.Contains(t, out, "2024-03-01 10:00:00")
	assert.Contains(t, out, "manual")
	q.AssertExpectations(t)
}

func TestHistory_RequiresThreeArgs(t *testing.T) {
	_, err := run(t, new(MockConflictQuerier), nil, "history", "client-a", "documents")
	assert.Error(t, err)
}

func TestHistory_QueryError(t *testing.T) {
	q := new(MockConflictQuerier)
	q.On("History", "client-a", "documents", "42").Return(nil, errors.New("db down"))

	_, err := run(t, q, nil, "history", "client-a", "documents", "42", "-o", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestExport_WritesWorkbook(t *testing.T) {
	q := new(MockConflictQuerier)
	q.On("PendingReview", "", 100).Return(sampleRecords(), nil)
	file := filepath.Join(t.TempDir(), "pending.xlsx")

	out, err := run(t, q, nil, "export", "--pending", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 1 conflicts")

	f, err := excelize.OpenFile(file)
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue("Conflicts", "C2")
	require.NoError(t, err)
	assert.Equal(t, "contracts", v)
	q.AssertExpectations(t)
}

func TestStats(t *testing.T) {
	snap := &metrics.Snapshot{
		Counters: map[metrics.CounterKey]int64{
			{Client: "client-b", Table: "documents", ConflictType: "update_conflict", Strategy: "newest_wins"}: 3,
			{Client: "client-a", Table: "documents", ConflictType: "insert_conflict", Strategy: "source_wins"}: 1,
		},
		Latency: map[string]map[string]int64{
			"newest_wins": {"0.001": 2, "0.005": 1},
		},
		LatencySumMicros: map[string]int64{"newest_wins": 3000},
	}

	out, err := run(t, nil, fakeStats{snap: snap}, "stats", "-o", "json")
	require.NoError(t, err)

	var got struct {
		Counters []statsRow   `json:"counters"`
		Latency  []latencyRow `json:"latency"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Counters, 2)
	assert.Equal(t, "client-a", got.Counters[0].Client)
	require.Len(t, got.Latency, 1)
	assert.Equal(t, int64(3), got.Latency[0].Total)
	assert.InDelta(t, 1.0, got.Latency[0].AvgMillis, 0.0001)

	out, err = run(t, nil, fakeStats{snap: snap}, "stats", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "newest_wins")
	assert.Contains(t, out, "<=0.001s")
}

func TestPolicy_ValidatesFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
default_strategy: newest_wins
table_strategies:
  chats:
    strategy: merge
    merge_rules:
      tags: union
`), 0o600))

	out, err := run(t, nil, nil, "policy", good, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"strategy": "merge"`)
	assert.Contains(t, out, `"tags": "union"`)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("default_strategy: merge\n"), 0o600))
	_, err = run(t, nil, nil, "policy", bad, "-o", "json")
	assert.Error(t, err)
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := run(t, new(MockConflictQuerier), nil, "unresolved", "-o", "xml")
	assert.Error(t, err)
}
