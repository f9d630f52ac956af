package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultLocalProvider, cfg.ActiveProvider)
	assert.Contains(t, cfg.Providers, DefaultLocalProvider)
	assert.Equal(t, RunPolicyAsk, cfg.Policies.RunPolicy)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultLocalProvider, cfg.ActiveProvider)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := Defaults()
	cfg.ActiveProvider = "anthropic"
	cfg.Theme = "mono"
	cfg.Numerics.StreamTimeoutMs = 7000
	require.NoError(t, Save(dir, cfg))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", loaded.ActiveProvider)
	assert.Equal(t, "mono", loaded.Theme)
	assert.Equal(t, 7000, loaded.Numerics.StreamTimeoutMs)
}

func TestSaveWritesTwoSpaceIndentedJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(dir, Defaults()))

	data, err := os.ReadFile(filepath.Join(dir, "agent.config.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"active_provider\"")
}

func TestValidateRejectsBadRunPolicy(t *testing.T) {
	cfg := Defaults()
	cfg.Policies.RunPolicy = "sometimes"
	assert.Error(t, cfg.Validate())
}

func TestEnvOverridesApplyWhenBridgeEnabled(t *testing.T) {
	dir := t.TempDir()

	cfg := Defaults()
	cfg.Flags.EnvBridgeEnabled = true
	require.NoError(t, Save(dir, cfg))

	t.Setenv("AGENT_PROVIDER", "anthropic")
	t.Setenv("AGENT_RUN_POLICY", "never")
	t.Setenv("AGENT_STREAM_RETRY_COUNT", "5")
	t.Setenv("AGENT_MAX_BUDGET", "12.5")
	t.Setenv("ANTHROPIC_MODEL", "claude-test-model")

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", loaded.ActiveProvider)
	assert.Equal(t, RunPolicyNever, loaded.Policies.RunPolicy)
	assert.Equal(t, 5, loaded.Numerics.StreamRetryCount)
	assert.Equal(t, 12.5, loaded.Numerics.MaxBudget)
	assert.Equal(t, "claude-test-model", loaded.Providers["anthropic"].Model)
}

func TestEnvOverridesIgnoredWithoutBridge(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(dir, Defaults()))

	t.Setenv("AGENT_PROVIDER", "anthropic")
	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultLocalProvider, loaded.ActiveProvider)
}

func TestRewriteIPLiteralHost(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/v1", rewriteIPLiteralHost("http://127.0.0.1:8080/v1"))
	assert.Equal(t, "http://localhost/v1", rewriteIPLiteralHost("http://127.0.0.1/v1"))
	assert.Equal(t, "https://api.example.com/v1", rewriteIPLiteralHost("https://api.example.com/v1"))
}

func TestLoadMergesMCPServersYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := "filesystem:\n  command: mcp-fs\n  args: [\"--root\", \"/proj\"]\n  env:\n    DEBUG: \"1\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mcp_servers.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Contains(t, cfg.MCPServers, "filesystem")
	assert.Equal(t, "mcp-fs", cfg.MCPServers["filesystem"].Command)
	assert.Equal(t, []string{"--root", "/proj"}, cfg.MCPServers["filesystem"].Args)
	assert.Equal(t, "1", cfg.MCPServers["filesystem"].Env["DEBUG"])
}

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()

	empty, err := LoadSecrets(dir)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, SaveSecrets(dir, Secrets{"anthropic": "sk-test"}))
	loaded, err := LoadSecrets(dir)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", loaded["anthropic"])
}

func TestGenerationParamGetters(t *testing.T) {
	var p *GenerationParams
	assert.Equal(t, 4096, p.GetMaxTokens(4096))
	assert.Equal(t, 0, p.GetThinkingBudgetTokens())

	mt := 1024
	tb := 512
	p = &GenerationParams{MaxTokens: &mt, ThinkingBudgetTokens: &tb}
	assert.Equal(t, 1024, p.GetMaxTokens(4096))
	assert.Equal(t, 512, p.GetThinkingBudgetTokens())
}
