package iocache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huangsam/defectrisk/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteRunsExport(t *testing.T) {
	store := newTestRunStore(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.BeginRun("r1", "train", "/repo", t0, map[string]any{"seed": 42}))
	require.NoError(t, store.RecordEpoch("r1", schema.EpochMetrics{Epoch: 1, ValAUC: 0.6, Improved: true}))
	require.NoError(t, store.EndRun("r1", t0.Add(time.Minute), schema.TrainingResult{State: schema.MaxEpochsReachedState}))
	require.NoError(t, store.RecordScores("r1", t0, []schema.RiskScore{{Path: "a.go", Probability: 0.8, Rank: 1}}))

	out := filepath.Join(t.TempDir(), "export")
	var buf bytes.Buffer
	require.NoError(t, ExecuteRunsExport(&buf, store, out))

	for _, suffix := range []string{".training_runs.parquet", ".epoch_metrics.parquet", ".risk_scores.parquet"} {
		info, err := os.Stat(out + suffix)
		require.NoError(t, err, suffix)
		assert.Positive(t, info.Size())
	}
	assert.Contains(t, buf.String(), "Exported 1 runs")
}

func TestExecuteRunsExportErrors(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorContains(t, ExecuteRunsExport(&buf, &MockRunStore{}, ""), "--output-file is required")
	assert.ErrorContains(t, ExecuteRunsExport(&buf, nil, "x"), "not enabled")

	empty := &MockRunStore{}
	empty.On("GetStatus").Return(schema.RunStatus{Backend: "sqlite"}, nil)
	assert.ErrorContains(t, ExecuteRunsExport(&buf, empty, "x"), "no run data")

	failing := &MockRunStore{}
	failing.On("GetStatus").Return(schema.RunStatus{TotalRuns: 1}, nil)
	failing.On("GetAllRuns").Return(nil, errors.New("boom"))
	assert.ErrorContains(t, ExecuteRunsExport(&buf, failing, "x"), "failed to retrieve runs")
	failing.AssertExpectations(t)
	failing.AssertNotCalled(t, "GetAllEpochs")
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	PrintCacheStatus(&buf, schema.CacheStatus{Backend: "none"})
	assert.Contains(t, buf.String(), "Connected: false")
	assert.NotContains(t, buf.String(), "Total Entries")

	buf.Reset()
	PrintRunStatus(&buf, schema.RunStatus{
		Backend:    "sqlite",
		Connected:  true,
		TotalRuns:  2,
		LastRunID:  "abc",
		TableSizes: map[string]int64{"b_table": 2, "a_table": 1},
	})
	out := buf.String()
	assert.Contains(t, out, "Last Run ID: abc")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("a_table")), bytes.Index(buf.Bytes(), []byte("b_table")))
}
