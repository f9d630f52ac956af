package session

import (
	"fmt"
	"strings"
)

// MaxSummaryEntries bounds how many earlier turns are enumerated in the
// synthetic compaction summary.
const MaxSummaryEntries = 24

const summaryTruncateChars = 180

// NeedsCompaction reports whether estimated session tokens have reached
// thresholdPct of contextWindowTokens.
func NeedsCompaction(f *File, contextWindowTokens int, thresholdPct float64) bool {
	if contextWindowTokens <= 0 {
		return false
	}
	estimated := EstimateSessionTokens(f)
	return float64(estimated) >= float64(contextWindowTokens)*thresholdPct
}

// summaryHeader marks the synthetic assistant entry a compaction produces.
const summaryHeader = "### SESSION COMPACTED"

// Compact keeps the last keepRecentTurns entries verbatim and replaces
// everything earlier with a single synthetic assistant message summarizing
// the first MaxSummaryEntries of the replaced turns. Compact is
// idempotent on an already-compacted session: when the only entry that
// would be replaced is a previous compaction summary, f is returned
// unchanged.
func Compact(f *File, keepRecentTurns int) *File {
	if keepRecentTurns < 0 {
		keepRecentTurns = 0
	}
	if len(f.Session) <= keepRecentTurns {
		return f
	}
	if len(f.Session) == keepRecentTurns+1 &&
		f.Session[0].Role == RoleAssistant &&
		strings.HasPrefix(f.Session[0].Content, summaryHeader) {
		return f
	}

	cut := len(f.Session) - keepRecentTurns
	replaced := f.Session[:cut]
	recent := f.Session[cut:]

	summary := buildSummary(replaced)

	out := &File{
		Name:     f.Name,
		Metadata: f.Metadata,
	}
	out.Session = make([]Entry, 0, 1+len(recent))
	out.Session = append(out.Session, Entry{
		Role:      RoleAssistant,
		Content:   summary,
		Timestamp: replaced[len(replaced)-1].Timestamp,
	})
	out.Session = append(out.Session, recent...)
	return out
}

func buildSummary(replaced []Entry) string {
	if len(replaced) > MaxSummaryEntries {
		replaced = replaced[:MaxSummaryEntries]
	}

	summary := summaryHeader + "\n"
	for i, e := range replaced {
		text := e.Content
		if len(text) > summaryTruncateChars {
			text = text[:summaryTruncateChars]
		}
		summary += fmt.Sprintf("%d. [%s] %s\n", i+1, e.Role, text)
	}
	return summary
}
