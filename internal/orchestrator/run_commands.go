package orchestrator

import (
	"context"

	"coagent/internal/commandrunner"
	"coagent/internal/config"
)

// runCommands executes the turn's commands: under run_policy=always (or a driving
// mission), every command runs; under ask, each is confirmed individually;
// under never, every command is skipped with a warning.
func (o *Orchestrator) runCommands(ctx context.Context, commands []CommandSpec, missionActive bool) []commandrunner.Record {
	var records []commandrunner.Record
	policy := o.Deps.Config.Policies.RunPolicy

	for _, c := range commands {
		switch {
		case policy == config.RunPolicyNever:
			o.Deps.IO.Notice("warning", "Command skipped", "run_policy is never; \""+c.Command+"\" was not executed.")
			continue
		case policy == config.RunPolicyAsk && !missionActive:
			if !o.Deps.IO.ConfirmCommand(ctx, c.Command) {
				continue
			}
		}

		rec := o.Deps.Runner.Run(ctx, c.Command, commandrunner.Options{
			Cwd:        o.Deps.ProjectRoot,
			TimeoutMs:  o.Deps.Config.Numerics.CommandTimeoutMs,
			LogEnabled: o.Deps.Config.Flags.CommandLogEnabled,
		})
		records = append(records, rec)
	}

	return records
}
