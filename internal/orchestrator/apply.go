package orchestrator

import (
	"context"
	"os"

	"coagent/internal/accesspolicy"
	"coagent/internal/difftracker"
	"coagent/internal/eventbus"
	"coagent/internal/fileapplier"
)

// applyChanges is the access gate followed by the
// Transactional File Applier, with diff statistics recorded via the Diff
// Tracker. It returns the changes actually applied plus the paths the grant
// blocked, so the caller can record the denial in the session entry.
func (o *Orchestrator) applyChanges(ctx context.Context, changes []fileapplier.Change) ([]fileapplier.Change, []string, error) {
	if len(changes) == 0 {
		return nil, nil, nil
	}

	if o.Deps.Config.Flags.StrictEditRequiresFullAccess {
		grant := o.Deps.Policy.Grant()
		if grant.Mode != accesspolicy.ModeFull {
			o.Deps.IO.Notice("warning", "Access restricted", "strict_edit_requires_full_access is on; grant full access to let the agent write files.")
			var rejected []string
			for _, c := range changes {
				publish(o.Deps.Bus, eventbus.PhaseError, eventbus.StatusEnd, "Edits rejected: full access required", c.File, "")
				rejected = append(rejected, c.File)
			}
			return nil, rejected, nil
		}
	}

	if o.Deps.Policy.Grant().Mode == accesspolicy.ModeUnknown {
		switch o.Deps.IO.ChooseAccessMode(ctx) {
		case accesspolicy.ModeFull:
			o.Deps.Policy.SetFull()
		default:
			o.Deps.Policy.SetSelective()
		}
	}

	var deniedPaths []string
	if o.Deps.Policy.Grant().Mode == accesspolicy.ModeSelective {
		var approved []fileapplier.Change
		for _, c := range changes {
			switch {
			case o.Deps.Policy.IsDenied(c.File):
				deniedPaths = append(deniedPaths, c.File)
				publish(o.Deps.Bus, eventbus.PhaseError, eventbus.StatusEnd, "File access denied by session policy: "+c.File, c.File, "")
			case o.Deps.Policy.IsAllowed(c.File):
				approved = append(approved, c)
			case o.Deps.IO.ApprovePath(ctx, c.File):
				o.Deps.Policy.Allow(c.File)
				approved = append(approved, c)
			default:
				o.Deps.Policy.Deny(c.File)
				deniedPaths = append(deniedPaths, c.File)
				publish(o.Deps.Bus, eventbus.PhaseError, eventbus.StatusEnd, "File access denied by session policy: "+c.File, c.File, "")
			}
		}
		changes = approved
	}
	if len(changes) == 0 {
		return nil, deniedPaths, nil
	}

	previous := map[string]string{}
	existedBefore := map[string]bool{}
	for _, c := range changes {
		data, err := os.ReadFile(c.File)
		existedBefore[c.File] = err == nil
		if err == nil {
			previous[c.File] = string(data)
		}
	}

	progress := func(path string, existed bool, idx, total int, phase fileapplier.Phase) {
		status := eventbus.StatusStart
		if phase == fileapplier.PhaseDone {
			status = eventbus.StatusEnd
		}
		publish(o.Deps.Bus, eventbus.PhaseWritingFile, status, path, path, "")
	}

	if err := o.Deps.Applier.Apply(changes, progress); err != nil {
		return nil, deniedPaths, err
	}

	next := map[string]string{}
	for _, c := range changes {
		data, err := os.ReadFile(c.File)
		if err == nil {
			next[c.File] = string(data)
		}
	}

	if o.Deps.Diffs != nil {
		rec := difftracker.Compute(changes, previous, existedBefore, next)
		_ = o.Deps.Diffs.Append(rec)
	}

	return changes, deniedPaths, nil
}
