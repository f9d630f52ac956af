package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"coagent/internal/apperrors"
	"coagent/internal/eventbus"
	"coagent/internal/tools"
)

// toolOutputTruncateChars bounds each tool's contribution to the compact
// follow-up text fed into the next recursion.
const toolOutputTruncateChars = 4000

// hasToolIntent reports whether any tool-shaped field is present in n.
func hasToolIntent(n *NormalizedResponse) bool {
	return len(n.RequestFiles) > 0 || len(n.WebSearch) > 0 || len(n.WebBrowse) > 0 ||
		n.SearchProject != "" || n.DetailedMap || n.FindSymbolText != "" ||
		n.TerminalSpawn != nil || n.TerminalInput != nil || n.TerminalRead != nil || n.TerminalKill != nil ||
		n.IndexProject || n.LintProject || n.MCPCall != nil
}

// runTools executes every tool signaled by n concurrently,
// gating project reads through the Access Policy, and returns the named
// outputs plus the lint result (if lint_project ran) for the loop guard.
func (o *Orchestrator) runTools(ctx context.Context, n *NormalizedResponse) (map[string]string, *tools.LintResult) {
	var calls []tools.Call
	var lintResult *tools.LintResult

	if len(n.RequestFiles) > 0 {
		paths := n.RequestFiles
		calls = append(calls, tools.Call{Name: "request_files", Run: func(ctx context.Context) (string, error) {
			decision := o.Deps.Policy.EnsureAccessForPaths(paths)
			if !decision.Allowed {
				for _, p := range decision.DeniedPaths {
					publish(o.Deps.Bus, eventbus.PhaseError, eventbus.StatusEnd, "File access denied by session policy: "+p, p, "")
				}
				return "", apperrors.ErrAccessDenied
			}
			results := tools.RequestFiles(paths, o.Deps.FileConfig)
			return tools.FormatForModel(results), nil
		}})
	}

	if len(n.WebSearch) > 0 {
		kind := tools.SearchTypeText
		if n.WebSearchType == string(tools.SearchTypeNews) {
			kind = tools.SearchTypeNews
		}
		limit := n.WebSearchLimit
		queries := n.WebSearch
		calls = append(calls, tools.Call{Name: "web_search", Run: func(ctx context.Context) (string, error) {
			citations := tools.WebSearch(ctx, queries, kind, limit)
			var sb strings.Builder
			for _, c := range citations {
				sb.WriteString(fmt.Sprintf("[%d] %s - %s\n%s\n", c.Index, c.Title, c.URL, c.Snippet))
			}
			return sb.String(), nil
		}})
	}

	if len(n.WebBrowse) > 0 {
		urls := n.WebBrowse
		calls = append(calls, tools.Call{Name: "web_browse", Run: func(ctx context.Context) (string, error) {
			if !o.Deps.Config.Flags.WebBrowsingAllowed {
				return "", fmt.Errorf("web browsing disabled")
			}
			pages := tools.WebBrowse(ctx, urls, o.Deps.FileConfig)
			var sb strings.Builder
			for _, p := range pages {
				if p.Err != nil {
					sb.WriteString(fmt.Sprintf("### %s\nERROR: %s\n", p.URL, p.Err))
					continue
				}
				sb.WriteString(fmt.Sprintf("### %s (%s)\n%s\n", p.URL, p.Title, p.Text))
			}
			return sb.String(), nil
		}})
	}

	if n.SearchProject != "" {
		pattern := n.SearchProject
		calls = append(calls, tools.Call{Name: "search_project", Run: func(ctx context.Context) (string, error) {
			decision := o.Deps.Policy.EnsureAccessForPaths([]string{o.Deps.ProjectRoot})
			if !decision.Allowed {
				return "", apperrors.ErrAccessDenied
			}
			matches, truncated := tools.SearchProject(ctx, o.Deps.ProjectRoot, pattern, o.Deps.FileConfig)
			var sb strings.Builder
			for _, m := range matches {
				sb.WriteString(fmt.Sprintf("%s:%d: %s\n", m.Path, m.Line, m.Text))
			}
			if truncated {
				sb.WriteString("...[truncated]\n")
			}
			return sb.String(), nil
		}})
	}

	if n.DetailedMap {
		calls = append(calls, tools.Call{Name: "detailed_map", Run: func(ctx context.Context) (string, error) {
			return tools.DetailedMap(o.Deps.ProjectRoot)
		}})
	}

	if n.FindSymbolText != "" {
		query := tools.SymbolQuery{Symbol: n.FindSymbolText}
		calls = append(calls, tools.Call{Name: "find_symbol", Run: func(ctx context.Context) (string, error) {
			matches, err := tools.FindSymbol(o.Deps.ProjectRoot, query, o.Deps.FileConfig)
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			for _, m := range matches {
				sb.WriteString(fmt.Sprintf("%s:%d: %s\n", m.Path, m.Line, m.Text))
			}
			return sb.String(), nil
		}})
	}

	if n.IndexProject {
		calls = append(calls, tools.Call{Name: "index_project", Run: func(ctx context.Context) (string, error) {
			files, err := tools.IndexProject(o.Deps.ProjectRoot)
			if err != nil {
				return "", err
			}
			return strings.Join(files, "\n"), nil
		}})
	}

	if n.LintProject {
		calls = append(calls, tools.Call{Name: "lint_project", Run: func(ctx context.Context) (string, error) {
			lr := tools.LintProject(ctx, o.Deps.Runner, o.lintCommand(), o.Deps.ProjectRoot)
			lintResult = &lr
			return lr.Output, nil
		}})
	}

	if n.TerminalSpawn != nil {
		spec := n.TerminalSpawn
		calls = append(calls, tools.Call{Name: "terminal_spawn", Run: func(ctx context.Context) (string, error) {
			handle, err := o.Deps.Terminals.Spawn(toString(spec["command"]), o.Deps.ProjectRoot)
			return handle, err
		}})
	}
	if n.TerminalInput != nil {
		spec := n.TerminalInput
		calls = append(calls, tools.Call{Name: "terminal_input", Run: func(ctx context.Context) (string, error) {
			return "", o.Deps.Terminals.Input(toString(spec["handle"]), toString(spec["line"]))
		}})
	}
	if n.TerminalRead != nil {
		spec := n.TerminalRead
		calls = append(calls, tools.Call{Name: "terminal_read", Run: func(ctx context.Context) (string, error) {
			stdout, stderr, err := o.Deps.Terminals.Read(toString(spec["handle"]))
			return stdout + stderr, err
		}})
	}
	if n.TerminalKill != nil {
		spec := n.TerminalKill
		calls = append(calls, tools.Call{Name: "terminal_kill", Run: func(ctx context.Context) (string, error) {
			return "", o.Deps.Terminals.Kill(toString(spec["handle"]))
		}})
	}

	if n.MCPCall != nil && o.Deps.Config.Flags.MCPEnabled && o.Deps.MCP != nil {
		spec := n.MCPCall
		calls = append(calls, tools.Call{Name: "mcp_call", Run: func(ctx context.Context) (string, error) {
			args, _ := spec["args"].(map[string]interface{})
			raw, err := o.Deps.MCP.Call(ctx, tools.MCPRequest{
				Server: toString(spec["server"]),
				Tool:   toString(spec["tool"]),
				Args:   args,
			})
			if err != nil {
				return "", err
			}
			return string(raw), nil
		}})
	}

	if len(calls) == 0 {
		return nil, nil
	}

	results := tools.ExecuteParallel(ctx, calls)
	out := make(map[string]string, len(results))
	for _, r := range results {
		if r.Err != nil {
			out[r.Name] = "ERROR: " + r.Err.Error()
			continue
		}
		text := r.Output
		if len(text) > toolOutputTruncateChars {
			text = text[:toolOutputTruncateChars] + "...[truncated]"
		}
		out[r.Name] = text
	}
	return out, lintResult
}

func (o *Orchestrator) lintCommand() string {
	if o.LintCommand != "" {
		return o.LintCommand
	}
	return "true"
}

// buildFollowUpText composes the compact follow-up text: the
// objective's first non-empty line plus truncated tool outputs, omitting the
// full original prompt.
func buildFollowUpText(original string, toolOutputs map[string]string) string {
	firstLine := firstNonEmptyLine(original)
	var sb strings.Builder
	sb.WriteString(firstLine)
	sb.WriteString("\n\n")
	for name, out := range toolOutputs {
		sb.WriteString(fmt.Sprintf("### %s result\n%s\n\n", name, out))
	}
	return sb.String()
}

func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

func digestOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
