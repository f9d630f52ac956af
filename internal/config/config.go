// Package config loads, validates, and persists the agent's typed
// configuration (ConfigShape) and its sibling secrets store.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
)

// RunPolicy governs whether commands execute automatically, prompt first, or never run.
type RunPolicy string

const (
	RunPolicyAsk    RunPolicy = "ask"
	RunPolicyAlways RunPolicy = "always"
	RunPolicyNever  RunPolicy = "never"
)

// GenerationParams holds the per-provider generation knobs forwarded to the
// provider adapter contract.
type GenerationParams struct {
	Temperature          *float64 `json:"temperature,omitempty"`
	TopP                 *float64 `json:"top_p,omitempty"`
	TopK                 *int     `json:"top_k,omitempty"`
	MaxTokens            *int     `json:"max_tokens,omitempty"`
	Stop                 []string `json:"stop,omitempty"`
	System               *string  `json:"system,omitempty"`
	ThinkingEnabled      *bool    `json:"thinking_enabled,omitempty"`
	ThinkingBudgetTokens *int     `json:"thinking_budget_tokens,omitempty"`
}

// GetMaxTokens returns MaxTokens or the supplied default.
func (p *GenerationParams) GetMaxTokens(def int) int {
	if p == nil || p.MaxTokens == nil {
		return def
	}
	return *p.MaxTokens
}

// GetThinkingBudgetTokens returns the configured thinking budget, or 2048
// when no budget is set (whether or not thinking is enabled); a nil receiver
// returns 0.
func (p *GenerationParams) GetThinkingBudgetTokens() int {
	if p == nil {
		return 0
	}
	if p.ThinkingBudgetTokens != nil {
		return *p.ThinkingBudgetTokens
	}
	return 2048
}

// ProviderConfig is the per-provider sub-config: endpoint, model, generation
// parameters, and stream flags.
type ProviderConfig struct {
	Endpoint    string            `json:"endpoint"`
	Model       string            `json:"model"`
	Params      GenerationParams  `json:"params"`
	Stream      bool              `json:"stream"`
	StreamPrint bool              `json:"stream_print"`
	ContextWindowTokens int       `json:"context_window_tokens"`
}

// Flags are the boolean switches that gate orchestrator behavior.
type Flags struct {
	PlanningMode                 bool `json:"planning_mode"`
	FastMode                     bool `json:"fast_mode"`
	MissionMode                  bool `json:"mission_mode"`
	VoiceMode                    bool `json:"voice_mode"`
	SeeProjectMode                bool `json:"see_project_mode"`
	NewlineSupport                bool `json:"newline_support"`
	WebBrowsingAllowed            bool `json:"web_browsing_allowed"`
	AutoReloadSession             bool `json:"auto_reload_session"`
	EnvBridgeEnabled              bool `json:"env_bridge_enabled"`
	CommandLogEnabled             bool `json:"command_log_enabled"`
	StrictEditRequiresFullAccess  bool `json:"strict_edit_requires_full_access"`
	Stream                        bool `json:"stream"`
	StreamPrint                   bool `json:"stream_print"`
	MCPEnabled                    bool `json:"mcp_enabled"`
}

// Policies are the named enum-valued behaviors.
type Policies struct {
	RunPolicy      RunPolicy `json:"run_policy"`
	EffortLevel    string    `json:"effort_level"`
	ReasoningLevel string    `json:"reasoning_level"`
}

// Numerics are the tunable thresholds and limits.
type Numerics struct {
	StreamTimeoutMs             int     `json:"stream_timeout_ms"`
	StreamRetryCount            int     `json:"stream_retry_count"`
	StreamRenderFPS             int     `json:"stream_render_fps"`
	CommandTimeoutMs            int     `json:"command_timeout_ms"`
	MaxBudget                   float64 `json:"max_budget"`
	AutoCompactThresholdPct     float64 `json:"auto_compact_threshold_pct"`
	AutoCompactKeepRecentTurns  int     `json:"auto_compact_keep_recent_turns"`
}

// MCPServerConfig describes one configured Model Context Protocol server.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ConfigShape is the process-wide persisted configuration.
type ConfigShape struct {
	ActiveProvider string                     `json:"active_provider"`
	Providers      map[string]ProviderConfig  `json:"providers"`
	Flags          Flags                      `json:"flags"`
	Policies       Policies                   `json:"policies"`
	Numerics       Numerics                   `json:"numerics"`
	Theme          string                     `json:"theme"`
	MCPServers     map[string]MCPServerConfig `json:"mcp_servers,omitempty"`
}

// Validate checks field-level invariants with ozzo-validation. Nested
// structs validate themselves so field lookup stays within one struct.
func (c *ConfigShape) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ActiveProvider, validation.Required),
		validation.Field(&c.Policies),
		validation.Field(&c.Numerics),
	)
}

// Validate checks the enum-valued policy fields.
func (p Policies) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.RunPolicy, validation.Required, validation.In(RunPolicyAsk, RunPolicyAlways, RunPolicyNever)),
	)
}

// Validate checks numeric ranges.
func (n Numerics) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.StreamRetryCount, validation.Min(0)),
		validation.Field(&n.StreamRenderFPS, validation.Min(1)),
		validation.Field(&n.AutoCompactThresholdPct, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&n.AutoCompactKeepRecentTurns, validation.Min(0)),
	)
}

// DefaultLocalProvider is the designated zero-config provider; active_provider
// defaults to it and every ConfigShape must resolve to a configured provider.
const DefaultLocalProvider = "lorem"

// Defaults returns a fresh ConfigShape with every documented default applied.
func Defaults() *ConfigShape {
	return &ConfigShape{
		ActiveProvider: DefaultLocalProvider,
		Providers: map[string]ProviderConfig{
			DefaultLocalProvider: {Model: "lorem-medium"},
			"anthropic":          {Model: "claude-haiku-4-5-20251001", Stream: true, ContextWindowTokens: 200_000},
		},
		Flags: Flags{
			NewlineSupport: true,
			Stream:         true,
		},
		Policies: Policies{
			RunPolicy:      RunPolicyAsk,
			EffortLevel:    "medium",
			ReasoningLevel: "medium",
		},
		Numerics: Numerics{
			StreamTimeoutMs:            30_000,
			StreamRetryCount:           2,
			StreamRenderFPS:            12,
			CommandTimeoutMs:           120_000,
			MaxBudget:                  0,
			AutoCompactThresholdPct:    0.85,
			AutoCompactKeepRecentTurns: 8,
		},
		Theme: "default",
	}
}

// configFileName is the ConfigShape's on-disk name under the app-data directory.
const configFileName = "agent.config.json"

// Load reads agent.config.json from dir, falling back to Defaults() when the
// file does not yet exist, then applies runtime env overrides when
// env_bridge_enabled is set.
func Load(dir string) (*ConfigShape, error) {
	path := filepath.Join(dir, configFileName)

	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := loadMCPServersFile(dir, cfg); err != nil {
		return nil, err
	}

	if cfg.Flags.EnvBridgeEnabled {
		applyEnvOverrides(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes cfg to agent.config.json with 2-space indentation, replacing
// the file atomically (write to temp, then rename).
func Save(dir string, cfg *ConfigShape) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, configFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// applyEnvOverrides loads a project-root .env (if present) and applies the
// AGENT_*/<PROV>_* overrides. IP-literal endpoint hosts are
// rewritten to localhost before persist.
func applyEnvOverrides(cfg *ConfigShape) {
	_ = godotenv.Load()

	if v := os.Getenv("AGENT_PROVIDER"); v != "" {
		cfg.ActiveProvider = v
	}
	if v, ok := getEnvFloat("AGENT_MAX_BUDGET"); ok {
		cfg.Numerics.MaxBudget = v
	}
	if v := os.Getenv("AGENT_RUN_POLICY"); v != "" {
		cfg.Policies.RunPolicy = RunPolicy(v)
	}
	if v, ok := getEnvInt("AGENT_STREAM_TIMEOUT_MS"); ok {
		cfg.Numerics.StreamTimeoutMs = v
	}
	if v, ok := getEnvInt("AGENT_STREAM_RETRY_COUNT"); ok {
		cfg.Numerics.StreamRetryCount = v
	}
	if v, ok := getEnvInt("AGENT_STREAM_RENDER_FPS"); ok {
		cfg.Numerics.StreamRenderFPS = v
	}
	if v, ok := getEnvInt("AGENT_COMMAND_TIMEOUT_MS"); ok {
		cfg.Numerics.CommandTimeoutMs = v
	}
	if v := os.Getenv("AGENT_COMMAND_LOG_ENABLED"); v != "" {
		cfg.Flags.CommandLogEnabled = v == "true"
	}
	if v := os.Getenv("AGENT_STRICT_EDIT_REQUIRES_FULL_ACCESS"); v != "" {
		cfg.Flags.StrictEditRequiresFullAccess = v == "true"
	}

	for name, pc := range cfg.Providers {
		prefix := providerEnvPrefix(name)
		if v := os.Getenv(prefix + "_MODEL"); v != "" {
			pc.Model = v
		}
		if v := os.Getenv(prefix + "_ENDPOINT"); v != "" {
			pc.Endpoint = rewriteIPLiteralHost(v)
		}
		cfg.Providers[name] = pc
	}
}

// providerEnvPrefix upper-cases a provider name for its env-var prefix (e.g. "anthropic" -> "ANTHROPIC").
func providerEnvPrefix(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// rewriteIPLiteralHost rewrites an IP-literal endpoint host to localhost before persist.
func rewriteIPLiteralHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if port := u.Port(); port != "" {
			u.Host = net.JoinHostPort("localhost", port)
		} else {
			u.Host = "localhost"
		}
		return u.String()
	}
	return endpoint
}

func getEnvInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func getEnvFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	var f float64
	if _, err := fmt.Sscanf(v, "%f", &f); err != nil {
		return 0, false
	}
	return f, true
}
