// Package artifact persists the evidence a validation run leaves behind:
// the per-attempt call log, before/after snapshots, aggregate metrics, the
// full result and a human-readable report. Artifact trouble is logged and
// surfaced, but the caller decides whether losing evidence kills the run.
package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/segmentio/encoding/json"

	"github.com/loopcheck-ai/loopcheck/internal/stats"
	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// File names inside an artifact directory.
const (
	CallLogFile   = "calls.jsonl"
	MetricsFile   = "metrics.json"
	ResultFile    = "result.json"
	ReportFile    = "report.md"
	SnapshotsDir  = "snapshots"
	responseLimit = 200
)

// Writer persists run evidence under one directory. A nil Writer is valid
// and drops everything, so callers need no guards when artifacts are off.
type Writer struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	callLog *os.File
}

// NewWriter creates the artifact directory and returns a writer for it.
// An empty dir returns a nil writer: artifacts disabled.
func NewWriter(dir string, logger *slog.Logger) (*Writer, error) {
	if dir == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dir, SnapshotsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Writer{dir: dir, logger: logger}, nil
}

// Dir returns the artifact directory, empty for a disabled writer.
func (w *Writer) Dir() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// callLogEntry is one line of calls.jsonl: a single attempt of a call.
// Final attempts carry the record's terminal status and, on success, the
// truncated response.
type callLogEntry struct {
	CallIndex  int     `json:"call_index"`
	Attempt    int     `json:"attempt"`
	Task       string  `json:"task"`
	DurationS  float64 `json:"duration_s"`
	Error      string  `json:"error,omitempty"`
	ErrorClass string  `json:"error_class,omitempty"`
	Final      bool    `json:"final"`
	Status     string  `json:"status,omitempty"`
	Quality    float64 `json:"quality_score,omitempty"`
	Response   string  `json:"response,omitempty"`
}

// AppendCall writes one line per attempt of rec to calls.jsonl, in call
// order. Records without attempts (budget aborts) still get one line so
// the log shows every decision the run made.
func (w *Writer) AppendCall(rec types.CallRecord) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.callLog == nil {
		f, err := os.OpenFile(filepath.Join(w.dir, CallLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open call log: %w", err)
		}
		w.callLog = f
	}

	entries := make([]callLogEntry, 0, len(rec.Attempts))
	for _, a := range rec.Attempts {
		entries = append(entries, callLogEntry{
			CallIndex:  rec.Index,
			Attempt:    a.Index,
			Task:       rec.Task,
			DurationS:  a.DurationS,
			Error:      a.Error,
			ErrorClass: a.ErrorClass,
		})
	}
	if len(entries) == 0 {
		entries = append(entries, callLogEntry{CallIndex: rec.Index, Task: rec.Task})
	}

	last := &entries[len(entries)-1]
	last.Final = true
	last.Status = rec.Status
	if rec.Succeeded() {
		last.Quality = rec.Quality
		last.Response = truncate(rec.Response, responseLimit)
	} else {
		last.Error = rec.Error
		last.ErrorClass = rec.ErrorClass
	}

	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal call log entry: %w", err)
		}
		if _, err := w.callLog.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append call log: %w", err)
		}
	}
	return nil
}

// WriteSnapshot persists one snapshot under snapshots/<name>.json.
func (w *Writer) WriteSnapshot(name string, snap *types.MemorySnapshot) error {
	if w == nil {
		return nil
	}
	return w.writeJSON(filepath.Join(SnapshotsDir, name+".json"), snap)
}

// WriteMetrics persists the aggregate statistics as metrics.json.
func (w *Writer) WriteMetrics(summary *stats.Summary) error {
	if w == nil {
		return nil
	}
	return w.writeJSON(MetricsFile, summary)
}

// WriteResult persists the full validation result as result.json.
func (w *Writer) WriteResult(res *types.ValidationResult) error {
	if w == nil {
		return nil
	}
	return w.writeJSON(ResultFile, res)
}

// WriteReport renders the markdown report into report.md.
func (w *Writer) WriteReport(r *Report) error {
	if w == nil {
		return nil
	}
	f, err := os.Create(filepath.Join(w.dir, ReportFile))
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := GenerateMarkdown(f, r); err != nil {
		f.Close()
		return fmt.Errorf("render report: %w", err)
	}
	return f.Close()
}

// Close releases the call log handle. Safe on nil and double close.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.callLog == nil {
		return nil
	}
	err := w.callLog.Close()
	w.callLog = nil
	return err
}

func (w *Writer) writeJSON(rel string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rel, err)
	}
	path := filepath.Join(w.dir, rel)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

// ReadResult loads a previously written result.json, for report
// regeneration without rerunning the scenario.
func ReadResult(dir string) (*types.ValidationResult, error) {
	data, err := os.ReadFile(filepath.Join(dir, ResultFile))
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	var res types.ValidationResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}
