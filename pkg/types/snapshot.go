package types

import "time"

// MemorySnapshot is a read-only capture of the learning component's
// persisted state directory at a single point in time.
type MemorySnapshot struct {
	Root        string           `json:"root"`
	TakenAt     time.Time        `json:"taken_at"`
	FileCount   int              `json:"file_count"`
	TotalBytes  int64            `json:"total_bytes"`
	Counters    map[string]int64 `json:"counters"`
	ContentHash string           `json:"content_hash"`
}

// Counter returns the named counter, or zero when the snapshot never saw it.
func (s *MemorySnapshot) Counter(name string) int64 {
	if s.Counters == nil {
		return 0
	}
	return s.Counters[name]
}

// SnapshotDelta is the structural difference between two snapshots of the
// same persistence root.
type SnapshotDelta struct {
	FileCountDelta int              `json:"file_count_delta"`
	ByteDelta      int64            `json:"byte_delta"`
	Counters       map[string]int64 `json:"counters"`
}

// CounterDelta returns the change in the named counter, zero if absent.
func (d *SnapshotDelta) CounterDelta(name string) int64 {
	if d.Counters == nil {
		return 0
	}
	return d.Counters[name]
}

// Grew reports whether any counter increased between the two snapshots.
func (d *SnapshotDelta) Grew() bool {
	for _, v := range d.Counters {
		if v > 0 {
			return true
		}
	}
	return false
}
