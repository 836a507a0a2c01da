package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopcheck-ai/loopcheck/internal/history"
	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

func seededHistoryDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := history.Open(path)
	require.NoError(t, err)
	defer store.Close()

	first := &types.ValidationResult{
		RunID:     "aaaaaaaa-0000-0000-0000-000000000001",
		Scenario:  "nightly",
		Namespace: "nightly",
		Outcome:   types.OutcomeCompleted,
		Records: []types.CallRecord{
			{Index: 0, Task: "implement a stack", Status: types.CallStatusSuccess,
				Quality: 0.8, CostUSD: 0.0001, AttemptCount: 1},
			{Index: 1, Task: "implement a queue", Status: types.CallStatusSuccess,
				Quality: 0.9, CostUSD: 0.0001, AttemptCount: 1},
		},
		TotalCostUSD: 0.0002,
		ElapsedS:     12,
	}
	require.NoError(t, store.RecordResult(first, 0))

	second := &types.ValidationResult{
		RunID:     "bbbbbbbb-0000-0000-0000-000000000002",
		Scenario:  "nightly",
		Namespace: "nightly",
		Outcome:   types.OutcomeAborted,
		Records: []types.CallRecord{
			{Index: 0, Task: "implement a trie", Status: types.CallStatusSuccess,
				Quality: 0.65, CostUSD: 0.0001, AttemptCount: 2},
		},
		TotalCostUSD: 0.0001,
		ElapsedS:     7,
	}
	require.NoError(t, store.RecordResult(second, 1))

	return path
}

func execHistory(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewHistoryCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestHistoryCommand_ListsRuns(t *testing.T) {
	path := seededHistoryDB(t)

	buf, err := execHistory(t, "text", path, "--namespace", "nightly")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "aaaaaaaa")
	assert.Contains(t, out, "bbbbbbbb")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "aborted")
	assert.Contains(t, out, "mean quality over last 2 runs")
}

func TestHistoryCommand_JSON(t *testing.T) {
	path := seededHistoryDB(t)

	buf, err := execHistory(t, "json", path, "--namespace", "nightly")
	require.NoError(t, err)

	var payload historyPayload
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, "nightly", payload.Namespace)
	require.Len(t, payload.Runs, 2)
	assert.Equal(t, 2, payload.RunCount)
	// Per-run means are 0.85 and 0.65; the trend averages them.
	assert.InDelta(t, 0.75, payload.MeanQuality, 1e-9)
	// Most recent first.
	assert.Equal(t, "bbbbbbbb-0000-0000-0000-000000000002", payload.Runs[0].RunID)
	assert.Equal(t, 1, payload.Runs[0].AssertionFailures)
}

func TestHistoryCommand_CallRows(t *testing.T) {
	path := seededHistoryDB(t)

	buf, err := execHistory(t, "text", path,
		"--namespace", "nightly",
		"--run", "aaaaaaaa-0000-0000-0000-000000000001",
	)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "implement a stack")
	assert.Contains(t, out, "implement a queue")
	assert.Contains(t, out, "success")
}

func TestHistoryCommand_EmptyNamespace(t *testing.T) {
	path := seededHistoryDB(t)

	buf, err := execHistory(t, "text", path, "--namespace", "unknown")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "no recorded runs")
}

func TestHistoryCommand_RequiresNamespace(t *testing.T) {
	path := seededHistoryDB(t)

	_, err := execHistory(t, "text", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "namespace")
}
