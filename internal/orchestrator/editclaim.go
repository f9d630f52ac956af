package orchestrator

import (
	"regexp"
	"strings"

	"coagent/internal/fileapplier"
)

// editClaimVerbRe matches edit-claim verbs ("created/modified/saved", etc.)
// followed, within a short window, by something that looks like a file path.
var editClaimVerbRe = regexp.MustCompile(`(?i)\b(created|modified|saved|updated|wrote|edited)\b[^.\n]{0,60}?([\w./-]+\.[A-Za-z0-9]{1,8})`)

// ClaimsFileEdits reports whether response text claims a file modification
// without any changes[] to back it up.
func ClaimsFileEdits(response string) bool {
	return editClaimVerbRe.MatchString(response)
}

// fencedCodeBlockRe captures fenced code blocks, keeping any language/info tag.
var fencedCodeBlockRe = regexp.MustCompile("(?s)```[^\n]*\\n(.*?)```")

// claimedFilePathRe matches a bare file-shaped token preceding a code block
// (e.g. "`main.go`:" or "In src/app.ts:").
var claimedFilePathRe = regexp.MustCompile("(?:`([\\w./-]+\\.[A-Za-z0-9]{1,8})`|\\b([\\w./-]+\\.[A-Za-z0-9]{1,8})\\b)\\s*:?\\s*$")

// SynthesizeChanges reconstructs TaskChange entries when the response claims
// file edits with fenced code blocks but changes[] is empty:
// each claimed file path is mapped to its nearest preceding fenced block. When
// exactly one file is claimed and exactly one fenced block exists, that block
// is used directly regardless of the preceding-path heuristic.
func SynthesizeChanges(response string) []fileapplier.Change {
	blocks := fencedCodeBlockRe.FindAllStringSubmatchIndex(response, -1)
	if len(blocks) == 0 {
		return nil
	}

	claimedFiles := claimedFilePaths(response)
	if len(claimedFiles) == 1 && len(blocks) == 1 {
		body := response[blocks[0][2]:blocks[0][3]]
		return []fileapplier.Change{{File: claimedFiles[0], Original: "", Edited: body}}
	}

	var out []fileapplier.Change
	seen := map[string]bool{}
	for _, loc := range blocks {
		blockStart := loc[0]
		preceding := response[:blockStart]
		path := nearestPrecedingPath(preceding)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		body := response[loc[2]:loc[3]]
		out = append(out, fileapplier.Change{File: path, Original: "", Edited: body})
	}
	return out
}

func claimedFilePaths(response string) []string {
	matches := editClaimVerbRe.FindAllStringSubmatch(response, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		path := m[2]
		if seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}

func nearestPrecedingPath(preceding string) string {
	lines := strings.Split(preceding, "\n")
	for i := len(lines) - 1; i >= 0 && i >= len(lines)-5; i-- {
		if m := claimedFilePathRe.FindStringSubmatch(strings.TrimSpace(lines[i])); m != nil {
			if m[1] != "" {
				return m[1]
			}
			return m[2]
		}
	}
	return ""
}
