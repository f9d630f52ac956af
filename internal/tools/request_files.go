package tools

import (
	"fmt"
	"os"
	"strings"
)

// FileResult is one request_files lookup outcome.
type FileResult struct {
	Path      string
	Content   string
	Truncated bool
	Err       error
}

// RequestFiles attaches file contents for each path: a file is read and
// truncated to cfg.MaxFileBytes, a directory is an error, a missing path is
// an error.
func RequestFiles(paths []string, cfg Config) []FileResult {
	out := make([]FileResult, 0, len(paths))
	for _, path := range paths {
		out = append(out, requestFile(path, cfg))
	}
	return out
}

func requestFile(path string, cfg Config) FileResult {
	info, err := os.Stat(path)
	if err != nil {
		return FileResult{Path: path, Err: fmt.Errorf("%s: %w", path, err)}
	}
	if info.IsDir() {
		return FileResult{Path: path, Err: fmt.Errorf("%s: is a directory", path)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return FileResult{Path: path, Err: fmt.Errorf("%s: %w", path, err)}
	}

	truncated := false
	if cfg.MaxFileBytes > 0 && len(data) > cfg.MaxFileBytes {
		data = data[:cfg.MaxFileBytes]
		truncated = true
	}

	return FileResult{Path: path, Content: string(data), Truncated: truncated}
}

// FormatForModel renders the batch of FileResults as feedback text for the LLM.
func FormatForModel(results []FileResult) string {
	var sb strings.Builder
	for _, r := range results {
		if r.Err != nil {
			sb.WriteString(fmt.Sprintf("### %s\nERROR: %s\n\n", r.Path, r.Err))
			continue
		}
		sb.WriteString(fmt.Sprintf("### %s\n%s\n", r.Path, r.Content))
		if r.Truncated {
			sb.WriteString("...[truncated]\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
