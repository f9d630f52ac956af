// Package cliui is the terminal-backed implementation of
// orchestrator.UserIO: the minimal interactive surface the core needs to
// ask clarification questions, request per-path/per-command approval,
// confirm budget overruns, and render labeled Error/Warning panels.
// Hints and multi-line tool output are indented with github.com/kr/text;
// the full terminal UI renderer is an external collaborator.
package cliui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kr/text"

	"coagent/internal/accesspolicy"
)

// IO is a line-oriented terminal implementation of orchestrator.UserIO.
type IO struct {
	in     *bufio.Reader
	out    io.Writer
	assume bool // --yes: auto-approve every prompt without blocking
}

// New returns an IO reading from in and writing to out. When assumeYes is
// set (the --yes/-y flag), every approval/confirmation prompt is answered
// affirmatively without blocking on input.
func New(in io.Reader, out io.Writer, assumeYes bool) *IO {
	return &IO{in: bufio.NewReader(in), out: out, assume: assumeYes}
}

func (c *IO) prompt(label string) string {
	fmt.Fprint(c.out, label)
	line, _ := c.in.ReadString('\n')
	return strings.TrimSpace(line)
}

// AskUser presents questions sequentially and folds the answers into an
// ASK_USER_ANSWER block.
func (c *IO) AskUser(ctx context.Context, questions []string) (string, error) {
	var sb strings.Builder
	for i, q := range questions {
		answer := c.prompt(fmt.Sprintf("? %s\n> ", q))
		fmt.Fprintf(&sb, "%d. %s\nA: %s\n", i+1, q, answer)
	}
	return sb.String(), nil
}

// ChooseAccessMode asks the user to pick full or selective access the first
// time an edit or project read needs the grant.
func (c *IO) ChooseAccessMode(ctx context.Context) accesspolicy.Mode {
	if c.assume {
		return accesspolicy.ModeFull
	}
	answer := c.prompt("Grant file access for this session? [full/selective] ")
	if strings.EqualFold(answer, "full") || strings.EqualFold(answer, "f") {
		return accesspolicy.ModeFull
	}
	return accesspolicy.ModeSelective
}

// ApprovePath prompts for one path's write approval under selective access.
func (c *IO) ApprovePath(ctx context.Context, path string) bool {
	if c.assume {
		return true
	}
	answer := c.prompt(fmt.Sprintf("Allow write to %s? [y/N] ", path))
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}

// ConfirmCommand prompts before running one command under run_policy=ask.
func (c *IO) ConfirmCommand(ctx context.Context, command string) bool {
	if c.assume {
		return true
	}
	answer := c.prompt(fmt.Sprintf("Run command `%s`? [y/N] ", command))
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}

// ConfirmBudgetContinue asks whether to continue after max_budget is exceeded.
func (c *IO) ConfirmBudgetContinue(ctx context.Context, spentUSD, maxBudget float64) bool {
	if c.assume {
		return true
	}
	answer := c.prompt(fmt.Sprintf("Spent $%.2f of $%.2f budget. Continue? [y/N] ", spentUSD, maxBudget))
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}

// Notice renders a labeled Error/Warning panel plus remediation hint.
func (c *IO) Notice(kind, title, hint string) {
	label := strings.ToUpper(kind)
	fmt.Fprintf(c.out, "\n[%s] %s\n", label, title)
	if hint != "" {
		fmt.Fprint(c.out, text.Indent(hint, "  ")+"\n")
	}
}

// RenderDelta writes one streamed field delta directly to out as it arrives;
// only the response field is shown, and no throttling is applied.
func (c *IO) RenderDelta(field, delta string) {
	if field != "response" {
		return
	}
	fmt.Fprint(c.out, delta)
}
