package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopcheck-ai/loopcheck/internal/history"
)

const passingScenario = `
name: cli-pass
tasks:
  - implement a stack
  - implement a queue
  - implement a ring buffer
  - implement a trie
  - implement a bloom filter
transport:
  kind: mock
  mock:
    evolve_every: 5
`

const failingScenario = `
name: cli-fail
quality_min: 0.95
tasks:
  - implement a stack
  - implement a queue
transport:
  kind: mock
  mock:
    evolve_every: 2
`

func writeScenario(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func execRun(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: format}, "test")
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestRunCommand_PassingScenario(t *testing.T) {
	scenarioPath := writeScenario(t, passingScenario)
	artifacts := t.TempDir()
	memories := t.TempDir()
	historyDB := filepath.Join(t.TempDir(), "runs.db")

	buf, err := execRun(t, "text", scenarioPath,
		"--artifacts", artifacts,
		"--memories", memories,
		"--history", historyDB,
	)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "5/5 calls succeeded")
	assert.Contains(t, out, "outcome completed")

	entries, err := os.ReadDir(artifacts)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	dir := filepath.Join(artifacts, entries[0].Name())
	for _, name := range []string{"result.json", "report.md", "metrics.json", "calls.jsonl"} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, statErr, "expected artifact %s", name)
	}

	store, err := history.Open(historyDB)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Recent("cli-pass", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Outcome)
	assert.Equal(t, 5, runs[0].Calls)
	assert.Equal(t, 0, runs[0].AssertionFailures)

	// cleanup_memories defaults to true, so the namespace dir is gone.
	_, statErr := os.Stat(filepath.Join(memories, "cli-pass"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunCommand_JSONVerdict(t *testing.T) {
	scenarioPath := writeScenario(t, passingScenario)

	buf, err := execRun(t, "json", scenarioPath,
		"--artifacts", t.TempDir(),
		"--memories", t.TempDir(),
	)
	require.NoError(t, err)

	var v verdict
	require.NoError(t, json.Unmarshal(buf.Bytes(), &v))
	assert.True(t, v.Pass)
	assert.Equal(t, "cli-pass", v.Scenario)
	assert.Equal(t, "completed", v.Outcome)
	assert.Equal(t, 5, v.Calls)
	assert.Equal(t, 5, v.Succeeded)
	assert.NotEmpty(t, v.RunID)
	assert.Empty(t, v.Failures)
	assert.NotEmpty(t, v.Artifacts)
}

func TestRunCommand_AssertionFailuresExitCode(t *testing.T) {
	scenarioPath := writeScenario(t, failingScenario)

	buf, err := execRun(t, "text", scenarioPath,
		"--artifacts", t.TempDir(),
		"--memories", t.TempDir(),
	)
	require.Error(t, err)
	assert.Equal(t, ExitAssertionFailures, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 of 6 assertions failed")

	out := buf.String()
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "quality-threshold")
}

func TestRunCommand_MissingScenarioIsHarnessError(t *testing.T) {
	_, err := execRun(t, "text", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitHarnessError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load scenario")
}

func TestRunCommand_InvalidScenarioIsHarnessError(t *testing.T) {
	scenarioPath := writeScenario(t, "name: bad\nquality_min: 1.5\ntasks: [x]\n")

	_, err := execRun(t, "text", scenarioPath)
	require.Error(t, err)
	assert.Equal(t, ExitHarnessError, GetExitCode(err))
}

func TestRunCommand_MissingArgs(t *testing.T) {
	_, err := execRun(t, "text")
	require.Error(t, err)
	assert.Equal(t, ExitHarnessError, GetExitCode(err))
}

func TestRunCommand_EnvFileOverrides(t *testing.T) {
	scenarioPath := writeScenario(t, passingScenario)
	envPath := filepath.Join(t.TempDir(), "override.env")
	require.NoError(t, os.WriteFile(envPath, []byte("LOOPCHECK_QUALITY_MIN=0.95\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("LOOPCHECK_QUALITY_MIN") })

	_, err := execRun(t, "text", scenarioPath,
		"--artifacts", t.TempDir(),
		"--memories", t.TempDir(),
		"--env-file", envPath,
	)
	require.Error(t, err)
	assert.Equal(t, ExitAssertionFailures, GetExitCode(err))
}
