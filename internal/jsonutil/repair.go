// Package jsonutil implements the JSON Repair Utilities: a tolerant,
// fallback-only parser used for the final non-incremental parse of a
// provider's response text, plus small gjson/sjson-backed helpers reused by
// the Streaming JSON Observer and the orchestrator's normalize step.
package jsonutil

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

var (
	fencedBlockRe  = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")
	lineCommentRe  = regexp.MustCompile(`(?m)//[^\n]*$`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyRe      = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
	singleQuotedRe = regexp.MustCompile(`'([^'\\]*(?:\\.[^'\\]*)*)'`)
)

// Repair runs the fallback chain step by step, stopping as soon as
// the text becomes valid JSON. It returns the best-effort repaired text and
// whether it parses as valid JSON.
func Repair(raw string) (string, bool) {
	if gjson.Valid(raw) {
		return raw, true
	}

	text := raw

	text = stripFencedBlocks(text)
	if gjson.Valid(text) {
		return text, true
	}

	text = normalizeQuotesAndBOM(text)
	if gjson.Valid(text) {
		return text, true
	}

	text = stripComments(text)
	text = trailingCommaRe.ReplaceAllString(text, "$1")
	if gjson.Valid(text) {
		return text, true
	}

	text = bareKeyRe.ReplaceAllString(text, `$1"$2"$3`)
	if gjson.Valid(text) {
		return text, true
	}

	if span, ok := FindBalancedSpan(text); ok {
		text = span
		if gjson.Valid(text) {
			return text, true
		}
	}

	text = singleQuotedRe.ReplaceAllStringFunc(text, func(m string) string {
		inner := singleQuotedRe.FindStringSubmatch(m)[1]
		return `"` + strings.ReplaceAll(inner, `"`, `\"`) + `"`
	})
	if gjson.Valid(text) {
		return text, true
	}

	text = balanceClosers(text)
	return text, gjson.Valid(text)
}

// stripFencedBlocks removes ```json ... ``` markers, keeping only the inner content
// when a fenced block is present anywhere in the text.
func stripFencedBlocks(text string) string {
	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// normalizeQuotesAndBOM converts smart quotes to ASCII quotes and strips a leading BOM.
func normalizeQuotesAndBOM(text string) string {
	text = strings.TrimPrefix(text, "\uFEFF")
	replacer := strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)
	return replacer.Replace(text)
}

// stripComments removes // line comments and /* */ block comments.
func stripComments(text string) string {
	text = blockCommentRe.ReplaceAllString(text, "")
	text = lineCommentRe.ReplaceAllString(text, "")
	return text
}

// FindBalancedSpan scans forward for the first balanced, independently
// parseable {...} or [...] span in text, respecting strings and escapes.
// Useful when the model prefaces JSON with prose.
func FindBalancedSpan(text string) (string, bool) {
	for start, r := range text {
		if r != '{' && r != '[' {
			continue
		}
		if span, ok := scanBalanced(text, start); ok {
			return span, true
		}
	}
	return "", false
}

func scanBalanced(text string, start int) (string, bool) {
	open := text[start]
	var close byte
	if open == '{' {
		close = '}'
	} else {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				span := text[start : i+1]
				if gjson.Valid(span) {
					return span, true
				}
				return span, false
			}
		}
	}
	return "", false
}

// balanceClosers appends missing closing brackets inferred from a simple
// bracket-stack scan, the last resort of the repair chain.
func balanceClosers(text string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		text += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		text += string(stack[i])
	}
	return text
}

// ParseMap is a convenience wrapper: strict json.Unmarshal into a map,
// falling back to Repair when strict parse fails.
func ParseMap(raw string) (map[string]interface{}, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err == nil {
		return m, true
	}

	repaired, ok := Repair(raw)
	if !ok {
		return nil, false
	}
	if err := json.Unmarshal([]byte(repaired), &m); err != nil {
		return nil, false
	}
	return m, true
}

// Pretty renders JSON with 2-space indentation.
func Pretty(raw []byte) []byte {
	return pretty.PrettyOptions(raw, &pretty.Options{Indent: "  "})
}

// Ugly compacts JSON to a single line.
func Ugly(raw []byte) []byte {
	return pretty.Ugly(raw)
}
