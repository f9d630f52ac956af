package mission

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coagent/internal/accesspolicy"
	"coagent/internal/commandrunner"
	"coagent/internal/config"
	"coagent/internal/difftracker"
	"coagent/internal/eventbus"
	"coagent/internal/fileapplier"
	"coagent/internal/orchestrator"
	"coagent/internal/provider"
	"coagent/internal/session"
	"coagent/internal/tools"
)

type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Name() string              { return "scripted" }
func (p *scriptedProvider) SupportsModel(string) bool { return true }
func (p *scriptedProvider) Validate() (bool, string)  { return true, "" }

func (p *scriptedProvider) next() string {
	text := p.responses[p.calls%len(p.responses)]
	p.calls++
	return text
}

func (p *scriptedProvider) Call(ctx context.Context, req provider.Request) (provider.Result, error) {
	return provider.Result{Text: p.next()}, nil
}

func (p *scriptedProvider) StreamCall(ctx context.Context, req provider.Request, onChunk provider.StreamCallback) (provider.Result, error) {
	text := p.next()
	if onChunk != nil {
		onChunk(text)
	}
	return provider.Result{Text: text}, nil
}

type silentIO struct{}

func (silentIO) AskUser(ctx context.Context, questions []string) (string, error) { return "", nil }
func (silentIO) ChooseAccessMode(ctx context.Context) accesspolicy.Mode {
	return accesspolicy.ModeFull
}
func (silentIO) ApprovePath(ctx context.Context, path string) bool                  { return true }
func (silentIO) ConfirmCommand(ctx context.Context, command string) bool            { return true }
func (silentIO) ConfirmBudgetContinue(ctx context.Context, spent, max float64) bool { return true }
func (silentIO) Notice(kind, title, hint string)                                    {}
func (silentIO) RenderDelta(field, delta string)                                    {}

func newTestOrchestrator(t *testing.T, prov provider.Provider) *orchestrator.Orchestrator {
	t.Helper()

	appData := t.TempDir()
	cfg := config.Defaults()
	cfg.ActiveProvider = "scripted"
	cfg.Providers["scripted"] = config.ProviderConfig{Model: "scripted-1", ContextWindowTokens: 100_000}
	cfg.Policies.RunPolicy = config.RunPolicyNever

	bus := eventbus.New()
	return orchestrator.New(orchestrator.Deps{
		Config:      cfg,
		Providers:   map[string]provider.Provider{"scripted": prov},
		Sessions:    session.NewStore(appData),
		Policy:      accesspolicy.New(),
		Bus:         bus,
		Applier:     fileapplier.New(),
		Runner:      commandrunner.New(bus, nil),
		Diffs:       difftracker.New(appData),
		Terminals:   tools.NewTerminals(),
		FileConfig:  tools.DefaultConfig(),
		ProjectRoot: t.TempDir(),
		AppDataDir:  appData,
		UserOS:      "linux",
		IO:          silentIO{},
	})
}

func TestMissionCompletesOnFlag(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"response":"plan: finish the objective"}`,
		`{"response":"all wrapped up","mission_complete":true}`,
	}}
	orch := newTestOrchestrator(t, prov)

	outcome, err := Run(context.Background(), orch, Options{Objective: "ship it", SessionName: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "mission_complete", outcome.Reason)
	assert.Equal(t, 1, outcome.Steps)
	require.NotNil(t, outcome.LastResult)
	assert.Equal(t, "all wrapped up", outcome.LastResult.Response)
}

func TestMissionCompletesOnPlanSentinel(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"response":"MISSION COMPLETE"}`,
		`{"response":"nothing left to execute"}`,
	}}
	orch := newTestOrchestrator(t, prov)

	outcome, err := Run(context.Background(), orch, Options{Objective: "ship it", SessionName: "m2"})
	require.NoError(t, err)
	assert.Equal(t, "mission_complete", outcome.Reason)
}

func TestMissionIdleAbortSetsForceAction(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"response":"still thinking about it"}`,
	}}
	orch := newTestOrchestrator(t, prov)

	outcome, err := Run(context.Background(), orch, Options{
		Objective:       "ship it",
		SessionName:     "m3",
		IdleStepCeiling: 1,
		StepCeiling:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, "idle_abort", outcome.Reason)
	assert.Less(t, outcome.Steps, 10)

	// The force_action hint must have reached at least one planning sub-turn.
	assert.GreaterOrEqual(t, prov.calls, 4)
}

func TestMissionToolOnlyStepsAreNotIdle(t *testing.T) {
	// Each step: one plan call, then an exec call that runs a tool and
	// recurses once for the tool follow-up. No edits or commands ever
	// happen, but tool steps must reset the idle counter, so the loop runs
	// to its step ceiling instead of aborting for idleness.
	prov := &scriptedProvider{responses: []string{
		`{"response":"survey the project first"}`,
		`{"response":"","search_project":"needle"}`,
		`{"response":"nothing matched yet"}`,
	}}
	orch := newTestOrchestrator(t, prov)

	outcome, err := Run(context.Background(), orch, Options{
		Objective:       "ship it",
		SessionName:     "m6",
		IdleStepCeiling: 1,
		StepCeiling:     3,
	})
	require.NoError(t, err)
	assert.Equal(t, "step_ceiling", outcome.Reason)
	assert.Equal(t, 3, outcome.Steps)
	assert.Equal(t, 9, prov.calls)
}

func TestMissionStepCeiling(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"response":"plan step"}`,
		`{"response":"executed","changes":[]}`,
	}}
	orch := newTestOrchestrator(t, prov)

	// Every step counts as non-idle? No: no changes/commands, so idle logic
	// applies; use a command-producing exec response to keep steps busy.
	prov.responses = []string{
		`{"response":"plan step"}`,
		`{"response":"executed","commands":[{"command":"true","reason":"noop"}]}`,
	}

	outcome, err := Run(context.Background(), orch, Options{
		Objective:   "ship it",
		SessionName: "m4",
		StepCeiling: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "step_ceiling", outcome.Reason)
	assert.Equal(t, 2, outcome.Steps)
}

func TestMissionObjectiveCarriesPlanText(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"response":"detailed plan text"}`,
		`{"response":"done","mission_complete":true}`,
	}}
	orch := newTestOrchestrator(t, prov)

	_, err := Run(context.Background(), orch, Options{Objective: "ship it", SessionName: "m5"})
	require.NoError(t, err)

	// The execution sub-turn's user entry embeds the plan text.
	sess, err := orch.Deps.Sessions.Load("m5")
	require.NoError(t, err)

	var found bool
	for _, e := range sess.Session {
		if e.Role == session.RoleUser && strings.Contains(e.Content, "detailed plan text") {
			found = true
		}
	}
	assert.True(t, found)
}
