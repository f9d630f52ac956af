package orchestrator

import (
	"context"
	"os"
	"path/filepath"
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
	"coagent/internal/provider"
	"coagent/internal/session"
	"coagent/internal/tools"
)

// scriptedProvider replays canned response texts, one per call, cycling when
// exhausted.
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
	return provider.Result{Text: p.next(), Usage: provider.Usage{InputTokens: 10, OutputTokens: 10}}, nil
}

func (p *scriptedProvider) StreamCall(ctx context.Context, req provider.Request, onChunk provider.StreamCallback) (provider.Result, error) {
	text := p.next()
	if onChunk != nil {
		onChunk(text)
	}
	return provider.Result{Text: text, Usage: provider.Usage{InputTokens: 10, OutputTokens: 10}}, nil
}

// fakeIO answers every prompt non-interactively for tests.
type fakeIO struct {
	accessMode   accesspolicy.Mode
	approvePaths bool
	answers      []string
	notices      []string
}

func (f *fakeIO) AskUser(ctx context.Context, questions []string) (string, error) {
	var sb strings.Builder
	for i, q := range questions {
		answer := "yes"
		if i < len(f.answers) {
			answer = f.answers[i]
		}
		sb.WriteString(q + " => " + answer + "\n")
	}
	return sb.String(), nil
}

func (f *fakeIO) ChooseAccessMode(ctx context.Context) accesspolicy.Mode {
	if f.accessMode == "" {
		return accesspolicy.ModeFull
	}
	return f.accessMode
}

func (f *fakeIO) ApprovePath(ctx context.Context, path string) bool   { return f.approvePaths }
func (f *fakeIO) ConfirmCommand(ctx context.Context, cmd string) bool { return true }
func (f *fakeIO) ConfirmBudgetContinue(ctx context.Context, spent, max float64) bool {
	return true
}
func (f *fakeIO) Notice(kind, title, hint string) { f.notices = append(f.notices, title) }
func (f *fakeIO) RenderDelta(field, delta string) {}

func testDeps(t *testing.T, prov provider.Provider, io UserIO) Deps {
	t.Helper()

	appData := t.TempDir()
	cfg := config.Defaults()
	cfg.ActiveProvider = "scripted"
	cfg.Providers["scripted"] = config.ProviderConfig{Model: "scripted-1", ContextWindowTokens: 100_000}
	cfg.Policies.RunPolicy = config.RunPolicyNever

	bus := eventbus.New()
	return Deps{
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
		IO:          io,
	}
}

func TestRunBasicTurnPersistsSession(t *testing.T) {
	prov := &scriptedProvider{responses: []string{`{"response":"all good here"}`}}
	io := &fakeIO{}
	o := New(testDeps(t, prov, io))

	result, err := o.Run(context.Background(), "hello there", TurnArgs{SessionName: "t1"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "all good here", result.Response)
	assert.False(t, result.Terminated)

	sess, err := o.Deps.Sessions.Load("t1")
	require.NoError(t, err)
	require.Len(t, sess.Session, 2)
	assert.Equal(t, session.RoleUser, sess.Session[0].Role)
	assert.Equal(t, "hello there", sess.Session[0].Content)
	assert.Equal(t, session.RoleAssistant, sess.Session[1].Role)
	assert.Equal(t, "all good here", sess.Session[1].Content)
}

func TestRunSlashCommandRoutesAway(t *testing.T) {
	prov := &scriptedProvider{responses: []string{`{"response":"never called"}`}}
	o := New(testDeps(t, prov, &fakeIO{}))

	result, err := o.Run(context.Background(), "/help", TurnArgs{SessionName: "t2"})
	require.NoError(t, err)
	assert.True(t, result.Terminated)
	assert.Equal(t, 0, prov.calls)
}

func TestRunAppliesChangesUnderFullAccess(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out.txt")
	resp := `{"response":"ok","changes":[{"file":` + jsonString(target) + `,"original":"","edited":"written by turn"}]}`
	prov := &scriptedProvider{responses: []string{resp}}
	io := &fakeIO{accessMode: accesspolicy.ModeFull}
	o := New(testDeps(t, prov, io))

	result, err := o.Run(context.Background(), "hello there", TurnArgs{SessionName: "t3"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChangesApplied)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "written by turn", string(data))
}

func TestRunDeniedPathIsNeverWritten(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "secret.key")
	resp := `{"response":"ok","changes":[{"file":` + jsonString(secret) + `,"original":"","edited":"leaked"}]}`
	prov := &scriptedProvider{responses: []string{resp}}
	io := &fakeIO{accessMode: accesspolicy.ModeSelective}

	deps := testDeps(t, prov, io)
	deps.Policy.SetSelective()
	deps.Policy.Deny(secret)
	o := New(deps)

	events, unsub := deps.Bus.Subscribe(64)
	defer unsub()

	result, err := o.Run(context.Background(), "hello there", TurnArgs{SessionName: "t4"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ChangesApplied)

	_, statErr := os.Stat(secret)
	assert.True(t, os.IsNotExist(statErr))

	var sawDenial bool
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.Phase == eventbus.PhaseError && strings.Contains(ev.Message, "secret.key") {
				sawDenial = true
			}
		default:
			done = true
		}
	}
	assert.True(t, sawDenial)

	sess, err := deps.Sessions.Load("t4")
	require.NoError(t, err)
	require.Len(t, sess.Session, 2)
	assert.Contains(t, sess.Session[1].Content, "File access denied by session policy")
}

func TestRunStrictChangeRetryProducesChanges(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.yaml")
	prov := &scriptedProvider{responses: []string{
		`{"response":"I modified config.yaml for you."}`,
		`{"response":"Done.","changes":[{"file":` + jsonString(target) + `,"original":"","edited":"key: value"}]}`,
	}}
	o := New(testDeps(t, prov, &fakeIO{accessMode: accesspolicy.ModeFull}))

	result, err := o.Run(context.Background(), "hello there", TurnArgs{SessionName: "t5"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 2, prov.calls)
	assert.Equal(t, 1, result.ChangesApplied)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "key: value", string(data))
}

func TestRunToolFollowUpMarksToolsUsed(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"response":"","search_project":"needle"}`,
		`{"response":"nothing matched"}`,
	}}
	o := New(testDeps(t, prov, &fakeIO{}))

	result, err := o.Run(context.Background(), "hello there", TurnArgs{SessionName: "t7"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.ToolsUsed)
	assert.Equal(t, 2, prov.calls)
}

func TestRunWithoutToolsLeavesToolsUsedUnset(t *testing.T) {
	prov := &scriptedProvider{responses: []string{`{"response":"plain answer"}`}}
	o := New(testDeps(t, prov, &fakeIO{}))

	result, err := o.Run(context.Background(), "hello there", TurnArgs{SessionName: "t8"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.ToolsUsed)
}

func TestRunClarificationRecursion(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"response":"","ask_user":"Which database?"}`,
		`{"response":"Using postgres then."}`,
	}}
	o := New(testDeps(t, prov, &fakeIO{answers: []string{"postgres"}}))

	result, err := o.Run(context.Background(), "hello there", TurnArgs{SessionName: "t6"})
	require.NoError(t, err)
	assert.Equal(t, "Using postgres then.", result.Response)
	assert.Equal(t, 2, prov.calls)
}

func jsonString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	sb.WriteByte('"')
	return sb.String()
}
