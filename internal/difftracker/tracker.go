// Package difftracker records per-apply-batch diff statistics, consumed by
// the Turn Orchestrator's apply step and persisted as one JSON object per
// line to
// <app-data>/logs/diffs-YYYY-MM-DD.ndjson, mirroring the Command
// Runner's append-only per-day ndjson log (internal/commandrunner/log.go).
package difftracker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"coagent/internal/fileapplier"
)

// FileDiff is one file's line-level delta within a batch.
type FileDiff struct {
	File         string `json:"file"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	Created      bool   `json:"created"`
}

// BatchRecord is one diff-batch record.
type BatchRecord struct {
	Timestamp    time.Time  `json:"timestamp"`
	Files        []FileDiff `json:"files"`
	TotalAdded   int        `json:"total_added"`
	TotalRemoved int        `json:"total_removed"`
}

// Tracker computes and logs diff statistics for applied change batches.
type Tracker struct {
	mu  sync.Mutex
	dir string
}

// New returns a Tracker rooted at <app-data>/logs.
func New(appDataDir string) *Tracker {
	return &Tracker{dir: filepath.Join(appDataDir, "logs")}
}

// Compute derives a FileDiff for every change by line-diffing previousContent
// (empty + existedBefore=false for a created file) against the content
// actually written. Callers pass in the pre/post content already resolved by
// the Applier so this package never re-reads the filesystem.
func Compute(changes []fileapplier.Change, previous map[string]string, existedBefore map[string]bool, next map[string]string) BatchRecord {
	rec := BatchRecord{Timestamp: time.Now()}
	for _, c := range changes {
		added, removed := lineDelta(previous[c.File], next[c.File])
		rec.Files = append(rec.Files, FileDiff{
			File:         c.File,
			LinesAdded:   added,
			LinesRemoved: removed,
			Created:      !existedBefore[c.File],
		})
		rec.TotalAdded += added
		rec.TotalRemoved += removed
	}
	return rec
}

// lineDelta counts added/removed lines with a simple LCS-free heuristic:
// lines present in next but not in before (by count) are additions, and
// vice versa for removals. This intentionally does not attempt a minimal
// diff; it reports the size of the change, not an exact patch.
func lineDelta(before, after string) (added, removed int) {
	beforeCounts := lineCounts(before)
	afterCounts := lineCounts(after)

	for line, n := range afterCounts {
		if before := beforeCounts[line]; n > before {
			added += n - before
		}
	}
	for line, n := range beforeCounts {
		if after := afterCounts[line]; n > after {
			removed += n - after
		}
	}
	return added, removed
}

func lineCounts(s string) map[string]int {
	counts := map[string]int{}
	if s == "" {
		return counts
	}
	for _, line := range strings.Split(s, "\n") {
		counts[line]++
	}
	return counts
}

func (t *Tracker) pathForDay(day time.Time) string {
	return filepath.Join(t.dir, fmt.Sprintf("diffs-%s.ndjson", day.UTC().Format("2006-01-02")))
}

// Append serializes rec as one JSON line and appends it to today's log file.
func (t *Tracker) Append(rec BatchRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if stamped, serr := sjson.SetBytes(data, "id", uuid.NewString()); serr == nil {
		data = stamped
	}

	f, err := os.OpenFile(t.pathForDay(time.Now()), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(data, '\n'))
	return err
}

// Tail returns the last n records from today's log file, in arrival order.
func (t *Tracker) Tail(n int) ([]BatchRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.pathForDay(time.Now()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []BatchRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec BatchRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err == nil {
			all = append(all, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}
