package difftracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coagent/internal/fileapplier"
)

func TestComputeCountsAddedAndRemoved(t *testing.T) {
	changes := []fileapplier.Change{{File: "a.go"}}
	previous := map[string]string{"a.go": "one\ntwo\nthree"}
	existed := map[string]bool{"a.go": true}
	next := map[string]string{"a.go": "one\ntwo changed\nthree\nfour"}

	rec := Compute(changes, previous, existed, next)
	require.Len(t, rec.Files, 1)
	assert.Equal(t, 2, rec.Files[0].LinesAdded)   // "two changed", "four"
	assert.Equal(t, 1, rec.Files[0].LinesRemoved) // "two"
	assert.False(t, rec.Files[0].Created)
	assert.Equal(t, 2, rec.TotalAdded)
	assert.Equal(t, 1, rec.TotalRemoved)
}

func TestComputeCreatedFile(t *testing.T) {
	changes := []fileapplier.Change{{File: "new.go"}}
	rec := Compute(changes, map[string]string{}, map[string]bool{}, map[string]string{"new.go": "a\nb"})

	require.Len(t, rec.Files, 1)
	assert.True(t, rec.Files[0].Created)
	assert.Equal(t, 2, rec.Files[0].LinesAdded)
	assert.Equal(t, 0, rec.Files[0].LinesRemoved)
}

func TestAppendAndTail(t *testing.T) {
	tr := New(t.TempDir())

	rec := Compute([]fileapplier.Change{{File: "x"}}, map[string]string{}, map[string]bool{}, map[string]string{"x": "line"})
	require.NoError(t, tr.Append(rec))
	require.NoError(t, tr.Append(rec))

	got, err := tr.Tail(10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = tr.Tail(1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestTailMissingFile(t *testing.T) {
	tr := New(t.TempDir())
	got, err := tr.Tail(5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
