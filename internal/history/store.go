// Package history keeps a SQLite record of past validation runs so quality
// can be compared across runs of the same namespace.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// Run is one persisted row of run history, most fields lifted straight from
// the ValidationResult it was recorded from.
type Run struct {
	RunID             string
	Namespace         string
	Scenario          string
	Outcome           string
	Calls             int
	Succeeded         int
	MeanQuality       float64
	TotalCostUSD      float64
	ElapsedS          float64
	AssertionFailures int
	CreatedAt         time.Time
}

// Call is one persisted per-call row of a recorded run.
type Call struct {
	RunID    string
	Index    int
	Task     string
	Status   string
	Quality  float64
	CostUSD  float64
	Attempts int
	Error    string
}

// Store is a SQLite-backed store for validation run history.
type Store struct {
	db     *sql.DB
	ownsDB bool
}

// New creates the runs table and index if they don't exist, then returns a
// Store backed by the provided *sql.DB. The caller keeps ownership of db.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id             TEXT    NOT NULL,
			namespace          TEXT    NOT NULL,
			scenario           TEXT    NOT NULL,
			outcome            TEXT    NOT NULL,
			calls              INTEGER NOT NULL,
			succeeded          INTEGER NOT NULL,
			mean_quality       REAL    NOT NULL,
			total_cost_usd     REAL    NOT NULL,
			elapsed_s          REAL    NOT NULL,
			assertion_failures INTEGER NOT NULL,
			created_at         INTEGER NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_runs_namespace_ts
		ON runs (namespace, created_at)
	`); err != nil {
		return nil, fmt.Errorf("create runs index: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS run_calls (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT    NOT NULL,
			call_index INTEGER NOT NULL,
			task       TEXT    NOT NULL,
			status     TEXT    NOT NULL,
			quality    REAL    NOT NULL,
			cost_usd   REAL    NOT NULL,
			attempts   INTEGER NOT NULL,
			error      TEXT    NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("create run_calls table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_run_calls_run
		ON run_calls (run_id, call_index)
	`); err != nil {
		return nil, fmt.Errorf("create run_calls index: %w", err)
	}

	return &Store{db: db}, nil
}

// Open opens (creating if needed) the SQLite database at path and returns a
// Store that owns the connection. Close releases it.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	store, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// Close releases the underlying connection when the Store opened it itself.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// RecordResult inserts one summary row plus one run_calls row per record,
// atomically.
func (s *Store) RecordResult(res *types.ValidationResult, assertionFailures int) error {
	successful := res.Successful()
	var meanQuality float64
	if len(successful) > 0 {
		for _, rec := range successful {
			meanQuality += rec.Quality
		}
		meanQuality /= float64(len(successful))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO runs (run_id, namespace, scenario, outcome, calls, succeeded,
		                   mean_quality, total_cost_usd, elapsed_s, assertion_failures, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Namespace, res.Scenario, res.Outcome,
		len(res.Records), len(successful),
		meanQuality, res.TotalCostUSD, res.ElapsedS, assertionFailures,
		time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("record run history: %w", err)
	}

	for _, rec := range res.Records {
		if _, err := tx.Exec(
			`INSERT INTO run_calls (run_id, call_index, task, status, quality, cost_usd, attempts, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, rec.Index, rec.Task, rec.Status, rec.Quality, rec.CostUSD, rec.AttemptCount, rec.Error,
		); err != nil {
			return fmt.Errorf("record call %d: %w", rec.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// Calls returns the persisted per-call rows of one run, in call order.
func (s *Store) Calls(runID string) ([]Call, error) {
	rows, err := s.db.Query(
		`SELECT run_id, call_index, task, status, quality, cost_usd, attempts, error
		 FROM run_calls
		 WHERE run_id = ?
		 ORDER BY call_index ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run calls: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var c Call
		if err := rows.Scan(&c.RunID, &c.Index, &c.Task, &c.Status, &c.Quality, &c.CostUSD, &c.Attempts, &c.Error); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run calls rows: %w", err)
	}
	return calls, nil
}

// Recent returns the last n runs recorded under namespace, most recent first.
func (s *Store) Recent(namespace string, n int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT run_id, namespace, scenario, outcome, calls, succeeded,
		        mean_quality, total_cost_usd, elapsed_s, assertion_failures, created_at
		 FROM runs
		 WHERE namespace = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		namespace, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var createdAt int64
		if err := rows.Scan(
			&r.RunID, &r.Namespace, &r.Scenario, &r.Outcome, &r.Calls, &r.Succeeded,
			&r.MeanQuality, &r.TotalCostUSD, &r.ElapsedS, &r.AssertionFailures, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent runs rows: %w", err)
	}
	return runs, nil
}

// RecentMeanQuality averages mean_quality over the last n runs in namespace,
// most recent first. Returns count 0 and no error when the namespace has no
// history yet.
func (s *Store) RecentMeanQuality(namespace string, n int) (mean float64, count int, err error) {
	rows, err := s.db.Query(
		`SELECT mean_quality FROM runs
		 WHERE namespace = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		namespace, n,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("query recent quality: %w", err)
	}
	defer rows.Close()

	var sum float64
	for rows.Next() {
		var q float64
		if err := rows.Scan(&q); err != nil {
			return 0, 0, fmt.Errorf("scan quality: %w", err)
		}
		sum += q
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("recent quality rows: %w", err)
	}
	if count == 0 {
		return 0, 0, nil
	}
	return sum / float64(count), count, nil
}

// RunCount returns the number of runs recorded under namespace.
func (s *Store) RunCount(namespace string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE namespace = ?`, namespace).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return count, nil
}
