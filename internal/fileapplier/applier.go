// Package fileapplier implements the Transactional File Applier:
// applies a batch of file edits with snapshot-based rollback on any
// failure, using exact, whitespace-normalized, and trimmed-line-block
// fallback matching. Every touched file is snapshotted before mutation and
// restored in reverse order on failure.
package fileapplier

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"coagent/internal/apperrors"
)

// Change is the TaskChange data model.
type Change struct {
	File     string
	Original string
	Edited   string
}

// Phase marks a progress-callback moment.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseDone  Phase = "done"
)

// ProgressFunc is invoked at start and done for each applied entry.
type ProgressFunc func(path string, existedBefore bool, idx, total int, phase Phase)

type snapshotEntry struct {
	file          string
	existedBefore bool
	previous      []byte // nil when existedBefore is false
}

// Applier applies batches of Change and keeps an in-memory undo stack of
// entire applied batches, bounded by process lifetime.
type Applier struct {
	mu        sync.Mutex
	undoStack [][]snapshotEntry
}

// New returns an empty Applier.
func New() *Applier {
	return &Applier{}
}

// CollapseDuplicates keeps at most one Change per File, preserving the
// first occurrence.
func CollapseDuplicates(changes []Change) []Change {
	seen := make(map[string]bool, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if seen[c.File] {
			continue
		}
		seen[c.File] = true
		out = append(out, c)
	}
	return out
}

// Apply applies changes in order, taking a pre-snapshot of every touched
// file before writing it. On any failure after at least one prior write
// succeeded, it rolls back every entry written so far, in reverse order,
// best-effort. On success the whole batch is pushed onto the undo stack.
func (a *Applier) Apply(changes []Change, progress ProgressFunc) error {
	changes = CollapseDuplicates(changes)
	batch := make([]snapshotEntry, 0, len(changes))

	for idx, change := range changes {
		existed, previous, err := readExisting(change.File)
		if err != nil {
			a.rollback(batch)
			return err
		}

		if progress != nil {
			progress(change.File, existed, idx, len(changes), PhaseStart)
		}

		next, ok := computeNext(string(previous), existed, change)
		if !ok {
			a.rollback(batch)
			return apperrors.ErrMatchFailed
		}

		entry := snapshotEntry{file: change.File, existedBefore: existed, previous: previous}

		if next == string(previous) && existed {
			batch = append(batch, entry)
			if progress != nil {
				progress(change.File, existed, idx, len(changes), PhaseDone)
			}
			continue
		}

		if err := writeFile(change.File, next); err != nil {
			a.rollback(batch)
			return err
		}

		batch = append(batch, entry)
		if progress != nil {
			progress(change.File, existed, idx, len(changes), PhaseDone)
		}
	}

	a.mu.Lock()
	a.undoStack = append(a.undoStack, batch)
	a.mu.Unlock()
	return nil
}

// UndoLastApply pops the most recent batch from the undo stack and reverses
// it using the same best-effort rollback policy.
func (a *Applier) UndoLastApply() bool {
	a.mu.Lock()
	if len(a.undoStack) == 0 {
		a.mu.Unlock()
		return false
	}
	last := a.undoStack[len(a.undoStack)-1]
	a.undoStack = a.undoStack[:len(a.undoStack)-1]
	a.mu.Unlock()

	a.rollback(last)
	return true
}

// rollback restores previous content for files that existed before and
// deletes files that did not exist before, in reverse order. Per-entry
// failure is swallowed (best-effort).
func (a *Applier) rollback(batch []snapshotEntry) {
	for i := len(batch) - 1; i >= 0; i-- {
		e := batch[i]
		if e.existedBefore {
			_ = writeFile(e.file, string(e.previous))
		} else {
			_ = os.Remove(e.file)
		}
	}
}

func readExisting(path string) (existed bool, content []byte, err error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return false, nil, nil
		}
		return false, nil, readErr
	}
	return true, data, nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// computeNext implements the original->edited matching cascade. When
// original occurs more than once in the file, every occurrence is replaced
// with edited.
func computeNext(current string, existed bool, change Change) (string, bool) {
	if change.Original == "" {
		return change.Edited, true
	}

	if strings.Contains(current, change.Original) {
		return strings.ReplaceAll(current, change.Original, change.Edited), true
	}

	normCurrent := normalizeNewlines(current)
	normOriginal := normalizeNewlines(change.Original)
	if strings.Contains(normCurrent, normOriginal) {
		return strings.ReplaceAll(normCurrent, normOriginal, normalizeNewlines(change.Edited)), true
	}

	if next, ok := trimmedLineBlockReplace(current, change.Original, change.Edited); ok {
		return next, true
	}

	if strings.TrimSpace(current) == strings.TrimSpace(change.Edited) {
		return current, true
	}

	return "", false
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// trimmedLineBlockReplace splits original into non-empty trimmed lines and
// scans current line-by-line for a contiguous window whose trimmed lines
// match, splicing in edited split into lines when found.
func trimmedLineBlockReplace(current, original, edited string) (string, bool) {
	var originalLines []string
	for _, l := range strings.Split(original, "\n") {
		t := strings.TrimSpace(l)
		if t != "" {
			originalLines = append(originalLines, t)
		}
	}
	if len(originalLines) == 0 {
		return "", false
	}

	currentLines := strings.Split(current, "\n")

	for start := 0; start+len(originalLines) <= len(currentLines); start++ {
		match := true
		for j, want := range originalLines {
			if strings.TrimSpace(currentLines[start+j]) != want {
				match = false
				break
			}
		}
		if !match {
			continue
		}

		editedLines := strings.Split(edited, "\n")
		out := make([]string, 0, len(currentLines)-len(originalLines)+len(editedLines))
		out = append(out, currentLines[:start]...)
		out = append(out, editedLines...)
		out = append(out, currentLines[start+len(originalLines):]...)
		return strings.Join(out, "\n"), true
	}

	return "", false
}
