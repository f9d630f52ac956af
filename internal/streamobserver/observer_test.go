package streamobserver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const s1Payload = `{"response":"Hello world","thought":"plan","web_search":["q"],"changes":[{"file":"src/a.ts","original":"","edited":"x"}]}`

func ingestAt(t *testing.T, payload string, offsets []int) (*Observer, map[string]string) {
	t.Helper()

	o := New(nil, nil)
	concat := map[string]string{}

	prev := 0
	for _, off := range append(offsets, len(payload)) {
		require.LessOrEqual(t, off, len(payload))
		delta := o.Ingest(payload[prev:off])
		for field, added := range delta.Deltas {
			concat[field] += added
		}
		prev = off
	}
	return o, concat
}

func TestDeltaAccumulationAcrossChunks(t *testing.T) {
	o, concat := ingestAt(t, s1Payload, []int{17, 43, 88})

	snap := o.Snapshot()
	assert.Equal(t, "Hello world", snap.Fields["response"])
	assert.Equal(t, "plan", snap.Fields["thought"])
	assert.Contains(t, snap.SeenToolKeys, "web_search")
	assert.Contains(t, snap.SeenToolKeys, "changes")
	assert.Equal(t, "Hello world", concat["response"])
}

func TestChunkBoundarySafety(t *testing.T) {
	whole := New(nil, nil)
	whole.Ingest(s1Payload)
	want := whole.Snapshot()

	// Every split position must converge to the same snapshot as one-shot ingest.
	for split := 1; split < len(s1Payload); split++ {
		o := New(nil, nil)
		o.Ingest(s1Payload[:split])
		o.Ingest(s1Payload[split:])
		got := o.Snapshot()
		require.Equal(t, want.Fields, got.Fields, "split at %d", split)
		require.ElementsMatch(t, want.SeenToolKeys, got.SeenToolKeys, "split at %d", split)
	}
}

func TestBoundaryInsideEscapeSequence(t *testing.T) {
	payload := `{"response":"a\nbAc"}`

	// Split between the backslash and the 'n' of the escape.
	idx := strings.Index(payload, `\`) + 1
	o := New(nil, nil)
	d1 := o.Ingest(payload[:idx])
	d2 := o.Ingest(payload[idx:])

	assert.Equal(t, "a\nbAc", o.Snapshot().Fields["response"])
	assert.Equal(t, "a\nbAc", d1.Deltas["response"]+d2.Deltas["response"])
}

func TestEmbeddedQuoteNotTreatedAsTerminator(t *testing.T) {
	// The decoded value contains an escaped quote; the unescaped terminator
	// is only honored because it is followed by '}'.
	payload := `{"response":"say \"hi\" now"}`
	o := New(nil, nil)
	o.Ingest(payload)
	assert.Equal(t, `say "hi" now`, o.Snapshot().Fields["response"])
}

func TestFieldNameAppearingAsValueIsSkipped(t *testing.T) {
	payload := `{"thought":"plan","plan":"real plan"}`
	o := New(nil, nil)
	o.Ingest(payload)

	snap := o.Snapshot()
	assert.Equal(t, "plan", snap.Fields["thought"])
	assert.Equal(t, "real plan", snap.Fields["plan"])
}

func TestFileEditSurfacing(t *testing.T) {
	o := New(nil, nil)
	d1 := o.Ingest(`{"changes":[{"file":"a.go","original":"","edited":"x"},{"file":"b.go",`)
	d2 := o.Ingest(`"original":"","edited":"y"},{"file":"a.go","original":"","edited":"z"}]}`)

	assert.Equal(t, []string{"a.go", "b.go"}, append(d1.FileEdits, d2.FileEdits...))
}

func TestTopLevelKeysOnly(t *testing.T) {
	o := New(nil, nil)
	delta := o.Ingest(`{"response":"r","changes":[{"file":"x","original":"","edited":"e"}],"nested":{"inner":1}}`)

	assert.Contains(t, delta.NewSchemaKeys, "response")
	assert.Contains(t, delta.NewSchemaKeys, "changes")
	assert.Contains(t, delta.NewSchemaKeys, "nested")
	assert.NotContains(t, delta.NewSchemaKeys, "inner")
	assert.NotContains(t, delta.NewSchemaKeys, "file")
}

func TestToolSignalsAreOneShot(t *testing.T) {
	o := New(nil, nil)
	d1 := o.Ingest(`{"web_search":`)
	d2 := o.Ingest(`["q"],"lint_project":true}`)

	assert.Equal(t, []string{"web_search"}, d1.ToolSignals)
	assert.Equal(t, []string{"lint_project"}, d2.ToolSignals)
}

func TestMalformedInputNeverPanics(t *testing.T) {
	o := New(nil, nil)
	for _, chunk := range []string{`{"resp`, "\\u12", `"""`, "}}}}", `{"response": `, "\xff\xfe"} {
		assert.NotPanics(t, func() { o.Ingest(chunk) })
	}
	assert.NotPanics(t, func() { o.Snapshot() })
}
