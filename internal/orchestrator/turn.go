// Package orchestrator's turn.go assembles the other files in this package
// into the Turn Orchestrator itself: the Orchestrator type and its
// recursive Run method, the per-turn state machine that prepares a request,
// invokes the provider, parses and normalizes the response, plans and
// executes side effects, and decides whether to recurse or terminate.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"coagent/internal/apperrors"
	"coagent/internal/config"
	"coagent/internal/eventbus"
	"coagent/internal/fileapplier"
	"coagent/internal/provider"
	"coagent/internal/session"
	"coagent/internal/taskbuilder"
)

// Orchestrator is the Turn Orchestrator: a thin, stateless-between-turns
// wrapper around Deps. LintCommand is the shell command lint_project invokes;
// it is a field rather than config because it is frequently project-specific
// and resolved by the external command-registry collaborator.
type Orchestrator struct {
	Deps        Deps
	LintCommand string
}

// New constructs an Orchestrator from its dependency bundle.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{Deps: deps}
}

// Run executes one user turn. It is recursive by design: many
// branches below call Run again with augmented TurnArgs/text for tool
// follow-ups, clarifications, and the bounded one-shot retries. userText is
// the instruction for *this* invocation (already compacted for tool
// follow-ups, or augmented with an ASK_USER_ANSWER block for clarification
// recursion); args carries the per-user-turn recursion state forward.
func (o *Orchestrator) Run(ctx context.Context, userText string, args TurnArgs) (*Result, error) {
	// Step 1: Route. Slash-command dispatch belongs to the external command
	// registry; the orchestrator only recognizes the leading-slash shape and
	// otherwise proceeds as ordinary instruction text.
	if strings.HasPrefix(strings.TrimSpace(userText), "/") {
		return &Result{Terminated: true}, nil
	}

	// Step 2: Mission dispatch. If mission mode is on and no mission_data
	// was passed, the caller (cmd/coagent) is expected to have entered the
	// Mission Loop instead of calling Run directly; Run itself never
	// self-starts a mission so that a mid-turn recursive call (tool
	// follow-up, clarification) doesn't re-enter the outer loop.

	sessionName := args.SessionName
	if sessionName == "" {
		sessionName = o.Deps.Sessions.Active()
		if sessionName == "" {
			sessionName = "default"
		}
	}
	sessFile, err := o.Deps.Sessions.Load(sessionName)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	// Step 3: Planning expansion.
	if o.Deps.Config.Flags.PlanningMode && !args.PlanPass && !args.PlanExpanded {
		planArgs := args
		planArgs.PlanPass = true
		planArgs.SessionName = sessionName
		planResult, err := o.Run(ctx, userText, planArgs)
		if err != nil {
			return nil, err
		}
		if planResult.Terminated {
			return planResult, nil
		}
		planPath, werr := writePlanArtifact(o.appDataDir(), userText, &NormalizedResponse{
			Plan:     planResult.Response,
			Thought:  planResult.Thought,
			Response: planResult.Response,
		})
		if werr == nil {
			publish(o.Deps.Bus, eventbus.PhaseFinished, eventbus.StatusProgress, "Plan written to "+planPath, planPath, "")
		}

		applyArgs := args
		applyArgs.PlanExpanded = true
		applyArgs.SessionName = sessionName
		augmented := userText + "\n\n### plan\n" + planResult.Response
		return o.Run(ctx, augmented, applyArgs)
	}

	mode := taskbuilder.ModeApply
	if args.PlanPass {
		mode = taskbuilder.ModePlan
	}

	// Step 4: Auto-compact.
	provCfg := o.Deps.Config.Providers[o.Deps.Config.ActiveProvider]
	if session.NeedsCompaction(sessFile, provCfg.ContextWindowTokens, o.Deps.Config.Numerics.AutoCompactThresholdPct) {
		sessFile = session.Compact(sessFile, o.Deps.Config.Numerics.AutoCompactKeepRecentTurns)
	}

	// Step 5: Request build.
	prov, ok := o.Deps.Providers[o.Deps.Config.ActiveProvider]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q not configured", apperrors.ErrProvider, o.Deps.Config.ActiveProvider)
	}
	model := provCfg.Model

	task := taskbuilder.Build(taskbuilder.Options{
		Mode:               mode,
		Fast:               o.Deps.Config.Flags.FastMode,
		Instruction:        userText,
		UserOS:             o.Deps.UserOS,
		EffortLevel:        o.Deps.Config.Policies.EffortLevel,
		ReasoningLevel:     o.Deps.Config.Policies.ReasoningLevel,
		FileConfig:         o.Deps.FileConfig,
		SeeProjectMode:     o.Deps.Config.Flags.SeeProjectMode,
		ProjectRoot:        o.Deps.ProjectRoot,
		History:            sessFile.Session,
		MaxHistoryMessages: 200,
		HistoryTokenLimit:  provCfg.ContextWindowTokens / 2,
	})
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	prompt := systemPrompt(task)
	fingerprint := PromptFingerprint(prompt)
	continuation := ""
	if o.Deps.Config.ActiveProvider == config.DefaultLocalProvider {
		if cc, warm := sessFile.IsWarm(model, fingerprint); warm {
			continuation = cc.ContinuationTokens
		}
	}
	task.ContinuationTokens = continuation

	// Step 6: Provider call.
	publish(o.Deps.Bus, eventbus.PhaseStreaming, eventbus.StatusStart, "calling "+o.Deps.Config.ActiveProvider, "", "")
	call, err := o.callProvider(ctx, task, prov, model, continuation)
	if err != nil {
		sessFile.InvalidateContinuationCache()
		_ = o.Deps.Sessions.Save(sessFile)
		o.Deps.IO.Notice("error", apperrors.Present(err).Title, apperrors.Present(err).Hint)
		publish(o.Deps.Bus, eventbus.PhaseError, eventbus.StatusEnd, err.Error(), "", "")
		return &Result{Terminated: true}, nil
	}
	publish(o.Deps.Bus, eventbus.PhaseStreaming, eventbus.StatusEnd, "response received", "", "")

	if call.result.ProviderState != "" {
		sessFile.SetContinuationCache(session.ContinuationCache{
			ContinuationTokens: call.result.ProviderState,
			ModelName:          model,
			PromptFingerprint:  fingerprint,
			Valid:              true,
		})
	} else {
		sessFile.InvalidateContinuationCache()
	}
	o.Deps.SpentUSD += estimateCost(call.result.Usage)

	// Step 7: Parse.
	raw, ok := ParseResponse(call.result.Text, call.streamBuffer, call.snapshot)
	if !ok {
		o.Deps.IO.Notice("warning", apperrors.Present(apperrors.ErrParseFailure).Title, apperrors.Present(apperrors.ErrParseFailure).Hint)
		return &Result{Terminated: true}, nil
	}

	// Step 8: Normalize.
	n := Normalize(raw, call.snapshot)

	// Step 9: Tool execution. toolsUsed marks the whole turn as a tool step
	// for the Mission Loop's idle accounting, even when the tool-pass cap
	// keeps the turn from recursing further.
	toolsUsed := false
	if hasToolIntent(n) {
		toolOutputs, lint := o.runTools(ctx, n)
		toolsUsed = true
		nextArgs := args
		nextArgs.SessionName = sessionName
		nextArgs.ToolPasses++
		if nextArgs.Mission != nil && nextArgs.ToolPasses >= MaxToolPassesInMission {
			o.Deps.IO.Notice("warning", "Tool pass limit reached", "This mission step used its 6 allotted tool passes.")
		} else {
			if lint != nil {
				digest := digestOf(lint.Output)
				if nextArgs.LintDigest == digest || nextArgs.LintAppliedFileCount == len(n.Changes) {
					nextArgs.LintDepth++
				} else {
					nextArgs.LintDepth = 1
				}
				nextArgs.LintDigest = digest
				nextArgs.LintAppliedFileCount = len(n.Changes)

				// Step 10: Lint-retry loop guard.
				if nextArgs.LintDepth > MaxConsecutiveLintCycles {
					if nextArgs.LintRecoveryUsed {
						o.Deps.IO.Notice("warning", apperrors.Present(apperrors.ErrLintLoopExceeded).Title, apperrors.Present(apperrors.ErrLintLoopExceeded).Hint)
						return markToolsUsed(o.finalize(sessFile, userText, n, nil, nil, true))
					}
					nextArgs.LintRecoveryUsed = true
					follow := buildFollowUpText(userText, toolOutputs) +
						"\n\nDo not call lint_project again. Produce concrete changes[] now."
					return markToolsUsed(o.Run(ctx, follow, nextArgs))
				}
			}
			follow := buildFollowUpText(userText, toolOutputs)
			return markToolsUsed(o.Run(ctx, follow, nextArgs))
		}
	}

	// Step 11: Clarification.
	if len(n.AskUserQuestions) > 0 {
		answerBlock, err := o.Deps.IO.AskUser(ctx, n.AskUserQuestions)
		if err == nil {
			nextArgs := args
			nextArgs.SessionName = sessionName
			augmented := userText + "\n\n### ASK_USER_ANSWER\n" + answerBlock
			return o.Run(ctx, augmented, nextArgs)
		}
	}

	// Step 12: Budget check.
	if o.Deps.Config.Numerics.MaxBudget > 0 && o.Deps.SpentUSD > o.Deps.Config.Numerics.MaxBudget {
		if !o.Deps.IO.ConfirmBudgetContinue(ctx, o.Deps.SpentUSD, o.Deps.Config.Numerics.MaxBudget) {
			return &Result{Terminated: true}, nil
		}
	}

	// Step 13: Edit-claim detector.
	if len(n.Changes) == 0 && ClaimsFileEdits(n.Response) && !args.StrictChangeRetryUsed {
		nextArgs := args
		nextArgs.SessionName = sessionName
		nextArgs.StrictChangeRetryUsed = true
		follow := userText + "\n\n### system-correction\nYour response claims file edits but changes[] was empty. " +
			"Emit the edits as concrete changes[] entries now."
		return o.Run(ctx, follow, nextArgs)
	}

	// Step 14: Code-first retry.
	if task.BuildIntent && len(n.Changes) == 0 && len(n.Commands) == 0 && len(n.AskUserQuestions) == 0 && !args.CodeFirstRetryUsed {
		nextArgs := args
		nextArgs.SessionName = sessionName
		nextArgs.CodeFirstRetryUsed = true
		follow := userText + "\n\n### system-correction\nThis instruction requires action. " +
			"Produce changes[] and/or commands[] now; do not only describe what you would do."
		return o.Run(ctx, follow, nextArgs)
	}

	// Step 15: Change synthesis.
	if len(n.Changes) == 0 {
		if synthesized := SynthesizeChanges(n.Response); len(synthesized) > 0 {
			n.Changes = synthesized
		}
	}
	n.Changes = fileapplier.CollapseDuplicates(n.Changes)

	// Step 16: Access gate + apply.
	var applied []fileapplier.Change
	if mode == taskbuilder.ModeApply && len(n.Changes) > 0 {
		var denied []string
		applied, denied, err = o.applyChanges(ctx, n.Changes)
		if err != nil {
			o.Deps.IO.Notice("error", apperrors.Present(err).Title, apperrors.Present(err).Hint)
		}
		for _, p := range denied {
			n.Response += "\n\nFile access denied by session policy: " + p
		}
	}

	// Step 17: Command run.
	if mode == taskbuilder.ModeApply && len(n.Commands) > 0 {
		missionActive := args.Mission != nil && args.Mission.Active
		o.runCommands(ctx, n.Commands, missionActive)
	}

	result, err := o.finalize(sessFile, userText, n, applied, n.Commands, false)
	if result != nil {
		result.ToolsUsed = toolsUsed
	}
	return result, err
}

// markToolsUsed flags a Result returned from a tool-follow-up branch as a
// tool step, preserving any error alongside it.
func markToolsUsed(res *Result, err error) (*Result, error) {
	if res != nil {
		res.ToolsUsed = true
	}
	return res, err
}

// finalize appends one session entry pair summarizing the turn (user message
// + assistant message + change count), emits a finished event, and returns
// the normalized outcome.
func (o *Orchestrator) finalize(sessFile *session.File, userText string, n *NormalizedResponse, applied []fileapplier.Change, commands []CommandSpec, terminated bool) (*Result, error) {
	sessFile.Append(session.Entry{Role: session.RoleUser, Content: userText})
	sessFile.Append(session.Entry{Role: session.RoleAssistant, Content: n.Response, ChangesCount: len(applied)})
	if err := o.Deps.Sessions.Save(sessFile); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	publish(o.Deps.Bus, eventbus.PhaseFinished, eventbus.StatusEnd, "turn finished", "", "")

	return &Result{
		Response:        n.Response,
		Thought:         n.Thought,
		Changes:         applied,
		Commands:        commands,
		MissionComplete: n.MissionComplete,
		ChangesApplied:  len(applied),
		Terminated:      terminated,
	}, nil
}

func (o *Orchestrator) appDataDir() string {
	if o.Deps.AppDataDir == "" {
		return "."
	}
	return o.Deps.AppDataDir
}

// estimateCost is a placeholder cost model: the external billing collaborator
// that prices tokens per provider/model is out of scope; this gives the
// budget check a monotonically increasing signal to compare
// against max_budget without fabricating per-provider pricing tables.
func estimateCost(u provider.Usage) float64 {
	return float64(u.InputTokens+u.OutputTokens) / 1_000_000 * 3.0
}
