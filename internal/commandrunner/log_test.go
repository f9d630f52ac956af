package commandrunner

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func todayLogPath(dir string) string {
	return filepath.Join(dir, "logs", "commands-"+time.Now().UTC().Format("2006-01-02")+".ndjson")
}

func TestLogAppendAndTail(t *testing.T) {
	dir := t.TempDir()
	l := NewLog(dir)

	code := 0
	require.NoError(t, l.Append(Record{Command: "echo one", ExitCode: &code, Success: true}))
	require.NoError(t, l.Append(Record{Command: "echo two", ExitCode: &code, Success: true}))

	recs, err := l.Tail(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "echo one", recs[0].Command)
	assert.Equal(t, "echo two", recs[1].Command)

	recs, err = l.Tail(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "echo two", recs[0].Command)
}

func TestLogIsAppendOnly(t *testing.T) {
	dir := t.TempDir()
	l := NewLog(dir)

	require.NoError(t, l.Append(Record{Command: "first"}))

	firstLine := readLine(t, todayLogPath(dir), 0)
	require.NoError(t, l.Append(Record{Command: "second"}))

	assert.Equal(t, firstLine, readLine(t, todayLogPath(dir), 0))
}

func TestLogTailMissingFile(t *testing.T) {
	l := NewLog(t.TempDir())
	recs, err := l.Tail(5)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func readLine(t *testing.T, path string, n int) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for i := 0; scanner.Scan(); i++ {
		if i == n {
			return scanner.Text()
		}
	}
	t.Fatalf("line %d not found in %s", n, path)
	return ""
}
