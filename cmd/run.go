package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"routercheck/internal/harness"
	"routercheck/internal/service"
	"routercheck/internal/verify"
	"routercheck/pkg/logging"
)

var (
	runCasesPath        string
	runStrict           bool
	runRequireReasoning bool
	runVerbose          bool
	runDebug            bool
	runTimeout          time.Duration
	runBindAddr         string
	runConfigDir        string
	runRouterBinary     string
	runExternal         bool
	runRouterBase       string
)

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the differential verification suite",
	Long: `Run spawns (or attaches to) a router instance, provisions an access
token, and executes every test case on both legs: directly against the
reference backend and through the router. The two answers are compared under
the configured strictness policy and reported as a table.

Configuration comes from the environment (a .env file is honored); flags
override it. With no case file a single built-in deterministic chat case runs.

Example usage:
  routercheck run                          # Built-in case, spawned router
  routercheck run --cases=cases.yaml       # Case file
  routercheck run --strict                 # Require byte-identical outputs
  routercheck run --external --router=http://127.0.0.1:8099
  routercheck run --debug                  # Stream the router log`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runCasesPath, "cases", "", "Path to a YAML case file (default: built-in case)")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "Require byte-identical outputs on both legs")
	runCmd.Flags().BoolVar(&runRequireReasoning, "require-reasoning", false, "Fail when the reference response carries no reasoning")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Enable verbose output")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Enable debug logging and router log streaming")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 30*time.Second, "Router readiness timeout")
	runCmd.Flags().StringVar(&runBindAddr, "bind", "", "Fixed listen address for the spawned router (default: ephemeral port)")
	runCmd.Flags().StringVar(&runConfigDir, "config-dir", "", "Directory with base config files (router_aliases.json, mcp/mcp.json, system_prompt.json)")
	runCmd.Flags().StringVar(&runRouterBinary, "binary", "", "Router executable to spawn")
	runCmd.Flags().BoolVar(&runExternal, "external", false, "Attach to an already-running router instead of spawning one")
	runCmd.Flags().StringVar(&runRouterBase, "router", "", "Base URL of the external router")
}

// applyFlags overlays explicitly set flags on the environment-derived options.
func applyFlags(cmd *cobra.Command, opts *harness.Options) {
	flags := cmd.Flags()
	if flags.Changed("strict") {
		opts.Strict = runStrict
	}
	if flags.Changed("require-reasoning") {
		opts.RequireReasoning = runRequireReasoning
	}
	if flags.Changed("timeout") {
		opts.ReadyTimeout = runTimeout
	}
	if flags.Changed("bind") {
		opts.BindAddr = runBindAddr
	}
	if flags.Changed("config-dir") {
		opts.ConfigDir = runConfigDir
	}
	if flags.Changed("binary") {
		opts.RouterBinary = runRouterBinary
	}
	if flags.Changed("external") {
		opts.UseExternal = runExternal
	}
	if flags.Changed("router") {
		opts.RouterBase = runRouterBase
	}
	opts.Debug = opts.Debug || runDebug
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle interrupts gracefully so the router process is never orphaned.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Fprintln(cmd.ErrOrStderr(), "\nreceived interrupt, shutting down...")
		cancel()
	}()

	level := logging.LevelInfo
	if runDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, cmd.ErrOrStderr())

	opts := harness.LoadOptions()
	applyFlags(cmd, &opts)

	if opts.Disabled {
		fmt.Fprintf(cmd.OutOrStdout(), "verification disabled via %s, nothing to do\n", harness.EnvDisable)
		return nil
	}

	cases := []verify.Case{verify.DefaultCase()}
	if runCasesPath != "" {
		loaded, err := verify.LoadCases(runCasesPath)
		if err != nil {
			return fmt.Errorf("failed to load cases from %s: %w", runCasesPath, err)
		}
		cases = loaded
	}

	session, err := openSession(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer session.Close()

	engine := session.Engine()
	results := make([]*verify.CaseResult, 0, len(cases))
	for _, c := range cases {
		res, err := engine.Run(ctx, c)
		if err != nil {
			return fmt.Errorf("case %q aborted: %w", c.Name, err)
		}
		results = append(results, res)
	}

	verify.RenderReport(cmd.OutOrStdout(), results)
	return verify.Summarize(results)
}

// openSession establishes the harness session with a progress spinner while
// the router comes up.
func openSession(ctx context.Context, cmd *cobra.Command, opts harness.Options) (*harness.Session, error) {
	var s *spinner.Spinner
	if !runDebug {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		if opts.UseExternal {
			s.Suffix = " Attaching to router..."
		} else {
			s.Suffix = " Starting router..."
		}
		s.Start()
		defer s.Stop()
	}

	logger := service.NewSilentLogger()
	if runVerbose || runDebug {
		logger = service.NewStdoutLogger(runVerbose, runDebug)
	}
	return harness.Open(ctx, opts, logger)
}
