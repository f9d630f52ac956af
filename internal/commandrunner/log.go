package commandrunner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// Log appends one CommandExecutionRecord per line to a per-day ndjson file
// under <app-data>/logs/commands-YYYY-MM-DD.ndjson, one append-only file
// per UTC day.
type Log struct {
	mu  sync.Mutex
	dir string
}

// NewLog returns a Log rooted at <app-data>/logs.
func NewLog(appDataDir string) *Log {
	return &Log{dir: filepath.Join(appDataDir, "logs")}
}

func (l *Log) pathForDay(day time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("commands-%s.ndjson", day.UTC().Format("2006-01-02")))
}

// Append serializes rec as one JSON line and appends it to today's log file.
// Appends are append-only: existing lines are never rewritten.
func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// Stamp each line with an id so downstream consumers can reference a
	// record without relying on its position in the file.
	if stamped, serr := sjson.SetBytes(data, "id", uuid.NewString()); serr == nil {
		data = stamped
	}

	f, err := os.OpenFile(l.pathForDay(time.Now()), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(data, '\n'))
	return err
}

// Tail returns the last n records from today's log file, in arrival order.
func (l *Log) Tail(n int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.pathForDay(time.Now()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
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
