// Command coagent is the interactive, provider-agnostic coding-assistant
// CLI. It wires the Turn Orchestrator and its collaborators into a process,
// then either runs one one-shot turn (--print) or an interactive read-loop:
// load .env, load config, set up structured logging, construct
// collaborators, then serve turns.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"

	"coagent/internal/accesspolicy"
	"coagent/internal/apperrors"
	"coagent/internal/cliui"
	"coagent/internal/commandrunner"
	"coagent/internal/config"
	"coagent/internal/difftracker"
	"coagent/internal/eventbus"
	"coagent/internal/fileapplier"
	"coagent/internal/mission"
	"coagent/internal/orchestrator"
	"coagent/internal/provider"
	"coagent/internal/provider/anthropic"
	"coagent/internal/provider/lorem"
	"coagent/internal/session"
	"coagent/internal/tools"
)

func main() {
	// Load a project-root .env unconditionally at startup (not gated on
	// env_bridge_enabled); the AGENT_* runtime overrides only take
	// effect once the config is loaded and are re-applied by config.Load
	// when env_bridge_enabled is on.
	_ = godotenv.Load()

	var (
		planFlag    = flag.Bool("plan", false, "enter planning mode for this turn")
		fastFlag    = flag.Bool("fast", false, "enable fast mode")
		yesFlag     = flag.Bool("yes", false, "auto-approve every prompt")
		missionFlag = flag.Bool("mission", false, "drive this objective autonomously via the Mission Loop")
		contFlag    = flag.Bool("continue-session", false, "continue the last active session")
		printFlag   = flag.String("print", "", "run one turn non-interactively and exit")
		modelFlag   = flag.String("model", "", "override the active provider's model for this run")
	)
	flag.BoolVar(yesFlag, "y", false, "shorthand for -yes")
	flag.BoolVar(contFlag, "c", false, "shorthand for -continue-session")
	flag.StringVar(printFlag, "p", "", "shorthand for -print")
	flag.Parse()

	appDataDir, err := config.AppDataDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "coagent: cannot resolve app data directory:", err)
		os.Exit(1)
	}

	logger := config.NewLogger(os.Stderr, os.Getenv("COAGENT_DEBUG") == "true")

	cfg, err := config.Load(appDataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "coagent: invalid configuration:", err)
		os.Exit(1)
	}
	if *planFlag {
		cfg.Flags.PlanningMode = true
	}
	if *fastFlag {
		cfg.Flags.FastMode = true
	}
	if *missionFlag {
		cfg.Flags.MissionMode = true
	}
	if *modelFlag != "" {
		pc := cfg.Providers[cfg.ActiveProvider]
		pc.Model = *modelFlag
		cfg.Providers[cfg.ActiveProvider] = pc
	}

	secrets, err := config.LoadSecrets(appDataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "coagent: cannot load secrets:", err)
		os.Exit(1)
	}

	projectRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "coagent: cannot resolve project root:", err)
		os.Exit(1)
	}

	bus := eventbus.New()
	sessions := session.NewStore(appDataDir)
	policy := accesspolicy.New()
	runner := commandrunner.New(bus, commandrunner.NewLog(appDataDir))
	applier := fileapplier.New()
	diffs := difftracker.New(appDataDir)
	mcpClients := tools.NewMCPClients(cfg.MCPServers)
	terminals := tools.NewTerminals()

	providers := map[string]provider.Provider{
		config.DefaultLocalProvider: lorem.New(),
		"anthropic":                 anthropic.New(secrets["anthropic"]),
	}

	io := cliui.New(os.Stdin, os.Stdout, *yesFlag)
	if *yesFlag {
		policy.SetFull()
	}

	deps := orchestrator.Deps{
		Config:      cfg,
		Secrets:     secrets,
		Providers:   providers,
		Sessions:    sessions,
		Policy:      policy,
		Bus:         bus,
		Applier:     applier,
		Runner:      runner,
		Diffs:       diffs,
		MCP:         mcpClients,
		Terminals:   terminals,
		FileConfig:  tools.DefaultConfig(),
		ProjectRoot: projectRoot,
		AppDataDir:  appDataDir,
		UserOS:      hostOS(),
		IO:          io,
		Logger:      logger,
	}
	orch := orchestrator.New(deps)
	orch.LintCommand = os.Getenv("COAGENT_LINT_COMMAND")

	sessionName := sessions.Active()
	if !*contFlag || sessionName == "" {
		sessionName = "default"
	}
	if err := sessions.SetActive(sessionName); err != nil {
		logger.Warn("cannot persist active session", "error", err)
	}

	ctx := context.Background()

	switch {
	case *printFlag != "":
		runOneShot(ctx, orch, *printFlag, sessionName, cfg.Flags.MissionMode)
	default:
		query := strings.Join(flag.Args(), " ")
		runInteractive(ctx, orch, query, sessionName, cfg.Flags.MissionMode)
	}
}

func runOneShot(ctx context.Context, orch *orchestrator.Orchestrator, text, sessionName string, missionMode bool) {
	if missionMode {
		outcome, err := mission.Run(ctx, orch, mission.Options{Objective: text, SessionName: sessionName})
		if err != nil {
			fmt.Fprintln(os.Stderr, "coagent: mission error:", err)
			os.Exit(1)
		}
		fmt.Printf("\nmission ended: %s (%d steps)\n", outcome.Reason, outcome.Steps)
		return
	}

	result, err := orch.Run(ctx, text, orchestrator.TurnArgs{SessionName: sessionName})
	if err != nil {
		fmt.Fprintln(os.Stderr, "coagent:", err)
		os.Exit(1)
	}
	if result != nil && !result.Terminated {
		fmt.Println(result.Response)
	}
}

func runInteractive(ctx context.Context, orch *orchestrator.Orchestrator, firstQuery, sessionName string, missionMode bool) {
	reader := bufio.NewReader(os.Stdin)

	runTurn := func(text string) {
		if missionMode {
			outcome, err := mission.Run(ctx, orch, mission.Options{Objective: text, SessionName: sessionName})
			if err != nil {
				fmt.Fprintln(os.Stderr, "coagent: mission error:", err)
				return
			}
			fmt.Printf("\nmission ended: %s (%d steps)\n", outcome.Reason, outcome.Steps)
			return
		}
		result, err := orch.Run(ctx, text, orchestrator.TurnArgs{SessionName: sessionName})
		if err != nil {
			pres := apperrors.Present(err)
			fmt.Fprintf(os.Stderr, "[error] %s: %s\n", pres.Title, pres.Hint)
			return
		}
		if result != nil && !result.Terminated {
			fmt.Println(result.Response)
		}
	}

	if strings.TrimSpace(firstQuery) != "" {
		runTurn(firstQuery)
	}

	for {
		fmt.Print("\n> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		runTurn(line)
	}
}

func hostOS() string {
	if v := os.Getenv("COAGENT_USER_OS"); v != "" {
		return v
	}
	return runtime.GOOS
}
