// Package snapshot captures read-only views of the learning component's
// persistence root and computes structural diffs between them. The harness
// never interprets stored content beyond counting records; counters are
// derived purely from file shape so components can evolve their formats
// without breaking validation.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// Capture walks root and returns a snapshot of its current state. A
// missing root is not an error: it yields a zero-valued snapshot, since a
// component that has never run has simply written nothing yet. The walk
// only reads; it never creates, locks or truncates anything under root.
func Capture(root string) (*types.MemorySnapshot, error) {
	snap := &types.MemorySnapshot{
		Root:     root,
		TakenAt:  time.Now().UTC(),
		Counters: map[string]int64{},
	}

	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		snap.ContentHash = emptyHash()
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat persistence root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("persistence root %s is not a directory", root)
	}

	tree := sha256.New()
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		size, fileHash, records, err := readFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}

		snap.FileCount++
		snap.TotalBytes += size
		if name, ok := counterName(d.Name()); ok {
			snap.Counters[name] += records
		}

		// WalkDir visits entries in lexical order, so the tree hash is
		// deterministic for identical content.
		fmt.Fprintf(tree, "%s\x00%s\x00%d\n", filepath.ToSlash(rel), fileHash, size)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk persistence root: %w", walkErr)
	}

	snap.ContentHash = hex.EncodeToString(tree.Sum(nil))
	return snap, nil
}

// Diff computes the structural change from before to after. Both snapshots
// must describe the same root; comparing different roots is a harness bug.
func Diff(before, after *types.MemorySnapshot) (*types.SnapshotDelta, error) {
	if before.Root != after.Root {
		return nil, fmt.Errorf("snapshot roots differ: %q vs %q", before.Root, after.Root)
	}

	delta := &types.SnapshotDelta{
		FileCountDelta: after.FileCount - before.FileCount,
		ByteDelta:      after.TotalBytes - before.TotalBytes,
		Counters:       map[string]int64{},
	}
	for name, v := range after.Counters {
		delta.Counters[name] = v - before.Counter(name)
	}
	for name, v := range before.Counters {
		if _, seen := after.Counters[name]; !seen {
			delta.Counters[name] = -v
		}
	}
	return delta, nil
}

// counterName maps a file name to its counter, if it carries one.
// Record-oriented files (*.jsonl) count one record per line.
func counterName(filename string) (string, bool) {
	if !strings.HasSuffix(filename, ".jsonl") {
		return "", false
	}
	name := strings.TrimSuffix(filename, ".jsonl")
	if name == "" {
		return "", false
	}
	return name, true
}

// readFile streams one file, returning its size, content hash and record
// count. A trailing line without a newline still counts as a record.
func readFile(path string) (size int64, hash string, records int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	lc := &lineCounter{}
	n, err := io.Copy(io.MultiWriter(h, lc), f)
	if err != nil {
		return 0, "", 0, err
	}
	return n, hex.EncodeToString(h.Sum(nil)), lc.records(), nil
}

// lineCounter counts newline-terminated records as bytes stream through it.
type lineCounter struct {
	newlines int64
	total    int64
	lastByte byte
}

func (c *lineCounter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			c.newlines++
		}
	}
	if len(p) > 0 {
		c.lastByte = p[len(p)-1]
		c.total += int64(len(p))
	}
	return len(p), nil
}

func (c *lineCounter) records() int64 {
	if c.total == 0 {
		return 0
	}
	if c.lastByte != '\n' {
		return c.newlines + 1
	}
	return c.newlines
}

func emptyHash() string {
	return hex.EncodeToString(sha256.New().Sum(nil))
}
