package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// writePlanArtifact persists a plan-mode result to
// <app-data>/plans/plan-<iso-timestamp>.md with the Request / Plan /
// Reasoning Notes / Execution Policy sections.
func writePlanArtifact(appDataDir, request string, n *NormalizedResponse) (string, error) {
	dir := filepath.Join(appDataDir, "plans")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	ts := time.Now().UTC().Format("2006-01-02T15-04-05Z")
	path := filepath.Join(dir, fmt.Sprintf("plan-%s.md", ts))

	var sb strings.Builder
	sb.WriteString("# Plan\n\n## Request\n\n")
	sb.WriteString(request)
	sb.WriteString("\n\n## Plan\n\n")
	sb.WriteString(n.Plan)
	sb.WriteString("\n\n## Reasoning Notes\n\n")
	sb.WriteString(n.Thought)
	sb.WriteString("\n\n## Execution Policy\n\n")
	sb.WriteString(n.Response)
	sb.WriteString("\n")

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
