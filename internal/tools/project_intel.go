package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"coagent/internal/commandrunner"
)

// DetailedMap returns an indented tree listing of root, skipping heavy
// directories, for the model's "see project" context.
func DetailedMap(root string) (string, error) {
	var lines []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if info.IsDir() {
			if heavyDirs[info.Name()] {
				return filepath.SkipDir
			}
			lines = append(lines, rel+"/")
			return nil
		}
		lines = append(lines, rel)
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}

// SymbolQuery is the find_symbol request shape: either a plain symbol name
// or a regex pattern).
type SymbolQuery struct {
	Symbol string
	Regex  string
}

// SymbolMatch is one find_symbol hit.
type SymbolMatch struct {
	Path string
	Line int
	Text string
}

// FindSymbol scans root for declarations of a symbol: function/type/const/var
// declarations (Go-flavored, generalizable) matching the query.
func FindSymbol(root string, query SymbolQuery, cfg Config) ([]SymbolMatch, error) {
	var pattern string
	if query.Regex != "" {
		pattern = query.Regex
	} else {
		pattern = `\b(func|type|const|var)\s+` + regexp.QuoteMeta(query.Symbol) + `\b`
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("find_symbol: invalid pattern: %w", err)
	}

	var matches []SymbolMatch
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || len(matches) >= cfg.SearchMaxResults {
			return nil
		}
		if info.IsDir() {
			if heavyDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Size() > cfg.SearchMaxFileBytes || isBinary(path) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, SymbolMatch{Path: path, Line: i + 1, Text: strings.TrimSpace(line)})
			}
		}
		return nil
	})

	return matches, nil
}

// IndexProject returns a flat sorted file listing, the simplest possible
// project index consumable by downstream search/map tools.
func IndexProject(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if heavyDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		files = append(files, rel)
		return nil
	})
	sort.Strings(files)
	return files, err
}

// LintResult is the outcome of lint_project.
type LintResult struct {
	Passed bool
	Output string
}

// LintProject invokes the configured lint command; a non-zero exit is
// surfaced as "Lint Failed" with combined stdout+stderr.
func LintProject(ctx context.Context, runner *commandrunner.Runner, lintCommand, cwd string) LintResult {
	rec := runner.Run(ctx, lintCommand, commandrunner.Options{Cwd: cwd})
	if rec.Success {
		return LintResult{Passed: true, Output: rec.Stdout}
	}
	return LintResult{Passed: false, Output: "Lint Failed\n" + rec.Stdout + rec.Stderr}
}
