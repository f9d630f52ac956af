package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// Match is one search_project hit.
type Match struct {
	Path string
	Line int
	Text string
}

var heavyDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".next": true,
	"dist": true, "build": true, "target": true, ".venv": true,
}

// SearchProject greps root for pattern, preferring an external fast-grep
// tool (ripgrep) when installed, falling back to an in-process recursive
// scan that skips heavy directories, files over SearchMaxFileBytes, and
// binary files. Case-insensitive; pattern may be interpreted as a
// regex. Results are capped at cfg.SearchMaxResults with a truncation marker.
func SearchProject(ctx context.Context, root, pattern string, cfg Config) ([]Match, bool) {
	if matches, ok := searchWithRipgrep(ctx, root, pattern, cfg); ok {
		return matches, len(matches) >= cfg.SearchMaxResults
	}
	return searchInProcess(root, pattern, cfg)
}

func searchWithRipgrep(ctx context.Context, root, pattern string, cfg Config) ([]Match, bool) {
	path, err := exec.LookPath("rg")
	if err != nil {
		return nil, false
	}

	cmd := exec.CommandContext(ctx, path, "--line-number", "--no-heading", "--ignore-case", "--max-count", fmt.Sprint(cfg.SearchMaxResults), pattern, root)
	var out bytes.Buffer
	cmd.Stdout = &out
	_ = cmd.Run()

	var matches []Match
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() && len(matches) < cfg.SearchMaxResults {
		if m := parseRipgrepLine(scanner.Text()); m != nil {
			matches = append(matches, *m)
		}
	}
	return matches, true
}

func parseRipgrepLine(line string) *Match {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) < 3 {
		return nil
	}
	var lineNo int
	fmt.Sscanf(parts[1], "%d", &lineNo)
	return &Match{Path: parts[0], Line: lineNo, Text: strings.TrimSpace(parts[2])}
}

func searchInProcess(root, pattern string, cfg Config) ([]Match, bool) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(pattern))
	}

	var matches []Match
	truncated := false

	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || len(matches) >= cfg.SearchMaxResults {
			if len(matches) >= cfg.SearchMaxResults {
				truncated = true
			}
			return nil
		}
		if info.IsDir() {
			if heavyDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Size() > cfg.SearchMaxFileBytes {
			return nil
		}
		if isBinary(path) {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		lineNo := 0
		for scanner.Scan() && len(matches) < cfg.SearchMaxResults {
			lineNo++
			line := scanner.Text()
			if re.MatchString(line) {
				matches = append(matches, Match{Path: path, Line: lineNo, Text: strings.TrimSpace(line)})
			}
		}
		if len(matches) >= cfg.SearchMaxResults {
			truncated = true
		}
		return nil
	})

	return matches, truncated
}

// isBinary reports whether the first 1 KiB of the file at path contains a NUL byte.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, 1024)
	n, _ := f.Read(buf)
	return bytes.IndexByte(buf[:n], 0) >= 0
}
