// Package mission implements the Mission Loop: the autonomous outer
// loop that drives repeated planning+execution turns through the Turn
// Orchestrator until the objective completes, the loop goes idle too long,
// or a step ceiling is hit. The Event Bus carries per-step status for any
// subscribed status board.
package mission

import (
	"context"
	"fmt"
	"strings"

	"coagent/internal/eventbus"
	"coagent/internal/orchestrator"
)

// DefaultIdleStepCeiling and DefaultStepCeiling are the loop's defaults;
// both are configurable via Options rather than hard-coded.
const (
	DefaultIdleStepCeiling = 3
	DefaultStepCeiling     = 5000
)

// Options configures one Mission Loop run.
type Options struct {
	Objective       string
	SessionName     string
	IdleStepCeiling int // 0 means DefaultIdleStepCeiling
	StepCeiling     int // 0 means DefaultStepCeiling
}

// Outcome summarizes why the loop ended.
type Outcome struct {
	Reason      string // "mission_complete" | "idle_abort" | "step_ceiling" | "error"
	Steps       int
	LastResult  *orchestrator.Result
}

// Run drives the Mission Loop to completion. Each step runs a planning
// sub-turn, then an execution sub-turn carrying the plan text; both go
// through orch.Run so every retry/tool-pass/lint-guard rule still applies
// per step.
func Run(ctx context.Context, orch *orchestrator.Orchestrator, opts Options) (Outcome, error) {
	idleCeiling := opts.IdleStepCeiling
	if idleCeiling <= 0 {
		idleCeiling = DefaultIdleStepCeiling
	}
	stepCeiling := opts.StepCeiling
	if stepCeiling <= 0 {
		stepCeiling = DefaultStepCeiling
	}

	idleCount := 0
	forceActionStepsLeft := 0
	data := &orchestrator.MissionData{Active: true, Objective: opts.Objective}

	for step := 0; step < stepCeiling; step++ {
		data.StepIndex = step
		publish(orch, "mission step "+fmt.Sprint(step+1)+" starting")

		planArgs := orchestrator.TurnArgs{
			Mode:        "plan",
			PlanPass:    true,
			SessionName: opts.SessionName,
			Mission:     data,
		}
		planInput := opts.Objective
		if data.ForceAction {
			planInput += "\n\n### force_action\nThe last step produced no tool calls, edits, or commands. " +
				"This step must take concrete action toward the objective."
		}
		planResult, err := orch.Run(ctx, planInput, planArgs)
		if err != nil {
			return Outcome{Reason: "error", Steps: step, LastResult: planResult}, err
		}
		if planResult.Terminated {
			return Outcome{Reason: "error", Steps: step, LastResult: planResult}, nil
		}

		execArgs := orchestrator.TurnArgs{
			Mode:        "apply",
			PlanExpanded: true,
			SessionName: opts.SessionName,
			Mission:     data,
		}
		execInput := opts.Objective + "\n\n### plan\n" + planResult.Response
		execResult, err := orch.Run(ctx, execInput, execArgs)
		if err != nil {
			return Outcome{Reason: "error", Steps: step, LastResult: execResult}, err
		}

		if execResult.MissionComplete || strings.TrimSpace(planResult.Response) == "MISSION COMPLETE" {
			publish(orch, "mission complete")
			return Outcome{Reason: "mission_complete", Steps: step + 1, LastResult: execResult}, nil
		}

		// Idle means no tools ran, no edits, and no commands this step; a
		// step that only gathered information through tools still counts as
		// progress and resets the idle counter.
		stepIdle := !execResult.ToolsUsed && len(execResult.Changes) == 0 && len(execResult.Commands) == 0
		if stepIdle {
			idleCount++
		} else {
			idleCount = 0
			data.ForceAction = false
		}

		if idleCount >= idleCeiling {
			if forceActionStepsLeft == 0 {
				// First idle abort: give the model two more chances with a
				// force_action hint before actually ending the loop.
				data.ForceAction = true
				forceActionStepsLeft = 2
				idleCount = 0
				continue
			}
			forceActionStepsLeft--
			if forceActionStepsLeft == 0 {
				publish(orch, "mission aborted: idle step ceiling reached")
				return Outcome{Reason: "idle_abort", Steps: step + 1, LastResult: execResult}, nil
			}
		}
	}

	publish(orch, "mission aborted: step ceiling reached")
	return Outcome{Reason: "step_ceiling", Steps: stepCeiling, LastResult: nil}, nil
}

func publish(orch *orchestrator.Orchestrator, message string) {
	if orch == nil || orch.Deps.Bus == nil {
		return
	}
	orch.Deps.Bus.Publish(eventbus.Event{
		Phase:   eventbus.PhaseThinking,
		Status:  eventbus.StatusProgress,
		Message: message,
	})
}
