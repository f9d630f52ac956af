// Package orchestrator implements the Turn Orchestrator: the
// per-turn state machine that prepares a request, invokes the provider with
// streaming-with-fallback, incrementally parses the response, decides on
// side effects, and recurses for tool follow-ups, clarifications, and
// retries.
package orchestrator

import (
	"context"
	"log/slog"

	"coagent/internal/accesspolicy"
	"coagent/internal/commandrunner"
	"coagent/internal/config"
	"coagent/internal/difftracker"
	"coagent/internal/eventbus"
	"coagent/internal/fileapplier"
	"coagent/internal/provider"
	"coagent/internal/session"
	"coagent/internal/tools"
)

// CommandSpec is the TaskCommand data model.
type CommandSpec struct {
	Command string
	Reason  string
}

// MissionData carries the Mission Loop's per-step state into the
// orchestrator: whether a mission is driving this turn, and the
// force_action hint set after an idle abort.
type MissionData struct {
	Active      bool
	ForceAction bool
	StepIndex   int
	Objective   string
}

// UserIO is the external collaborator seam for anything that must reach an
// interactive user: clarification questions, per-path/per-command approval,
// budget confirmation, and labeled-panel notices. The terminal UI
// itself is out of scope; only this contract is.
type UserIO interface {
	// AskUser presents questions sequentially and returns a structured
	// ASK_USER_ANSWER block built from the answers.
	AskUser(ctx context.Context, questions []string) (string, error)
	// ChooseAccessMode is the first-edit prompt: the user picks full or
	// selective access the first time an edit or project read needs the grant.
	ChooseAccessMode(ctx context.Context) accesspolicy.Mode
	// ApprovePath prompts for one path's write approval under selective access.
	ApprovePath(ctx context.Context, path string) bool
	// ConfirmCommand prompts before running one command under run_policy=ask.
	ConfirmCommand(ctx context.Context, command string) bool
	// ConfirmBudgetContinue asks whether to continue after max_budget is exceeded.
	ConfirmBudgetContinue(ctx context.Context, spentUSD, maxBudget float64) bool
	// Notice surfaces a labeled Error/Warning panel plus remediation hint.
	Notice(kind, title, hint string)
	// RenderDelta is called with each streamed field delta as its chunk arrives; deltas are not throttled.
	RenderDelta(field, delta string)
}

// Deps bundles every collaborator the orchestrator calls through. One Deps
// is constructed per process and reused across turns; only TurnArgs and
// per-turn transient state are created fresh per invocation.
type Deps struct {
	Config      *config.ConfigShape
	Secrets     config.Secrets
	Providers   map[string]provider.Provider
	Sessions    *session.Store
	Policy      *accesspolicy.Policy
	Bus         *eventbus.Bus
	Applier     *fileapplier.Applier
	Runner      *commandrunner.Runner
	Diffs       *difftracker.Tracker
	MCP         *tools.MCPClients
	Terminals   *tools.Terminals
	FileConfig  tools.Config
	ProjectRoot string
	AppDataDir  string
	UserOS      string
	IO          UserIO
	Logger      *slog.Logger

	// SpentUSD tracks cumulative session cost consulted by the budget check.
	// The external billing collaborator that computes exact pricing from
	// provider.Usage is out of scope, so only a coarse estimate accrues here.
	SpentUSD float64
}

// TurnArgs is the recursion state threaded through one user turn's internal
// self-calls. Each retry flag fires at most once per user turn, bounding
// recursion depth without a separate state-machine loop.
type TurnArgs struct {
	Mode         string // "plan" | "apply"
	PlanPass     bool   // true while collecting the internal plan-mode sub-pass (step 3)
	PlanExpanded bool   // true once the plan->apply expansion has already run for this user turn

	ToolPasses int

	LintDepth            int
	LintDigest           string
	LintAppliedFileCount int

	StrictChangeRetryUsed bool
	CodeFirstRetryUsed    bool
	LintRecoveryUsed      bool

	SessionName string
	Mission     *MissionData
}

// MaxToolPassesInMission caps tool-follow-up recursion at 6 passes per
// mission step.
const MaxToolPassesInMission = 6

// MaxConsecutiveLintCycles bounds the lint-retry loop guard.
const MaxConsecutiveLintCycles = 2

// Result is the orchestrator's opaque per-turn outcome.
type Result struct {
	Response        string
	Thought         string
	Changes         []fileapplier.Change
	Commands        []CommandSpec
	MissionComplete bool
	ChangesApplied  int
	ToolsUsed       bool // true when any tool adapter ran during this turn, including tool-follow-up recursion
	Terminated      bool // true when the turn ended early (route dispatch, provider error, parse failure, budget decline, lint-loop stop)
}

func publish(bus *eventbus.Bus, phase eventbus.Phase, status eventbus.Status, message, filePath, command string) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{
		Phase:    phase,
		Status:   status,
		Message:  message,
		FilePath: filePath,
		Command:  command,
	})
}
