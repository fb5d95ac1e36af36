package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_RecordAndListExecutions(t *testing.T) {
	store := newTestStore(t)

	now := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)
	err := store.RecordExecution(ExecutionRecord{
		ExecutionID:  "exec-1",
		PatientRef:   "Patient/1",
		BatchRunID:   "batch-1",
		Outcome:      "success",
		WarningCount: 1,
		StartedAt:    now,
		FinishedAt:   now.Add(time.Second),
	})
	require.NoError(t, err)

	err = store.RecordExecution(ExecutionRecord{
		ExecutionID: "exec-2",
		PatientRef:  "Patient/2",
		BatchRunID:  "batch-1",
		Outcome:     "failed",
		ErrorCount:  1,
		StartedAt:   now,
		FinishedAt:  now.Add(time.Second),
	})
	require.NoError(t, err)

	executions, err := store.ExecutionsForBatch("batch-1")
	require.NoError(t, err)
	require.Len(t, executions, 2)
}

func TestStore_BatchRunLifecycle(t *testing.T) {
	store := newTestStore(t)

	started := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	require.NoError(t, store.StartBatchRun(BatchRun{
		BatchRunID:      "batch-2",
		MeasurementYear: 2025,
		Status:          "running",
		StartedAt:       started,
	}))

	run, err := store.GetBatchRun("batch-2")
	require.NoError(t, err)
	assert.Equal(t, "running", run.Status)
	assert.Equal(t, 2025, run.MeasurementYear)

	finished := started.Add(10 * time.Minute)
	require.NoError(t, store.FinishBatchRun(BatchRun{
		BatchRunID:     "batch-2",
		Status:         "completed",
		PatientsTotal:  5,
		PatientsOK:     4,
		PatientsFailed: 1,
		FinishedAt:     &finished,
	}))

	run, err = store.GetBatchRun("batch-2")
	require.NoError(t, err)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 5, run.PatientsTotal)
	assert.Equal(t, 1, run.PatientsFailed)
	require.NotNil(t, run.FinishedAt)
}

func TestStore_GetBatchRun_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetBatchRun("missing")
	assert.Error(t, err)
}
