// Package main implements the xhspilot CLI: publish, search and read
// Xiaohongshu content through a locally controlled Chrome.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"xhspilot/internal/account"
	"xhspilot/internal/browser"
	"xhspilot/internal/config"
	"xhspilot/internal/journal"
	"xhspilot/internal/logging"
	"xhspilot/internal/selectors"
	"xhspilot/internal/workflow"
)

var (
	// Global flags
	verbose      bool
	jsonOutput   bool
	configPath   string
	accountName  string
	windowed     bool
	headlessFlag bool
	noEscalate   bool
	timingJitter float64

	// Logger
	logger *zap.Logger

	// exitCode is set by commands that report a workflow result.
	exitCode int
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "xhspilot",
	Short: "Xiaohongshu publishing and retrieval over Chrome DevTools",
	Long: `xhspilot drives a local Chrome through the DevTools protocol to publish
notes, search, read note details and comments, post comments, read mentions
and export creator dashboard data.

Each account keeps its own Chrome profile, so a QR login survives across runs.
Runs are headless by default; a logged-out headless run restarts windowed
for a manual login unless --no-escalate is given.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	pf.BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	pf.StringVar(&configPath, "config", "", "Config file (default: <data dir>/config.yaml)")
	pf.StringVarP(&accountName, "account", "a", "", "Account to run as (default: the default account)")
	pf.BoolVar(&windowed, "windowed", false, "Run with a visible browser window")
	pf.BoolVar(&headlessFlag, "headless", false, "Force a headless browser")
	pf.BoolVar(&noEscalate, "no-escalate", false, "Fail with auth_required instead of opening a window for manual login")
	pf.Float64Var(&timingJitter, "timing-jitter", 0.25, "Jitter ratio applied to every wait, clamped to [0, 0.7]")
	rootCmd.MarkFlagsMutuallyExclusive("windowed", "headless")

	rootCmd.AddCommand(
		publishCmd, fillPublishCmd, clickPublishCmd,
		searchCmd, feedDetailCmd, postCommentCmd, notificationsCmd, contentDataCmd,
		checkLoginCmd, loginCmd, reLoginCmd, switchAccountCmd,
		listAccountsCmd, addAccountCmd, removeAccountCmd, setDefaultAccountCmd,
		journalCmd, browserCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		if exitCode == 0 {
			exitCode = 2
		}
	}
	os.Exit(exitCode)
}

// app bundles what every command needs.
type app struct {
	cfg      *config.Config
	accounts *account.Store
	journal  *journal.Journal
	browsers *browser.Manager
	runner   *workflow.Runner
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("timing-jitter") {
		cfg.Timing.Jitter = config.ClampJitter(timingJitter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := logging.Initialize(cfg.LogsDir(), cfg.Logging); err != nil {
		logger.Warn("file logging disabled", zap.Error(err))
	}
	logger.Debug("config loaded",
		zap.String("path", path),
		zap.String("data_dir", cfg.Paths.DataDir),
		zap.Int("cdp_port", cfg.CDP.Port),
		zap.Float64("jitter", cfg.Timing.Jitter))
	return cfg, nil
}

func openAccounts(cfg *config.Config) (*account.Store, error) {
	return account.NewStore(cfg.AccountsFile(), cfg.ProfilesDir())
}

// openApp wires the full runtime for workflow commands.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cat, err := selectors.Load(cfg.Paths.SelectorsFile)
	if err != nil {
		return nil, err
	}
	store, err := openAccounts(cfg)
	if err != nil {
		return nil, err
	}
	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return nil, err
	}
	browsers := browser.NewManager(cfg.RunDir(), nil, nil)
	runner := workflow.New(workflow.Deps{
		Config:   cfg,
		Catalog:  cat,
		Accounts: store,
		Browsers: browsers,
		Journal:  j,
	})
	return &app{cfg: cfg, accounts: store, journal: j, browsers: browsers, runner: runner}, nil
}

func (a *app) Close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warn("close journal", zap.Error(err))
		}
	}
}

// runOptions builds the shared workflow options from global flags.
func runOptions() workflow.Options {
	opts := workflow.Options{Account: accountName, NoEscalate: noEscalate}
	switch {
	case windowed:
		v := false
		opts.Headless = &v
	case headlessFlag:
		v := true
		opts.Headless = &v
	}
	return opts
}

// signalContext is cancelled on SIGINT or SIGTERM so a run still releases
// its session and port lock.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runWorkflow opens the runtime, runs fn and reports its result.
func runWorkflow(cmd *cobra.Command, fn func(ctx context.Context, a *app) *workflow.Result) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res := fn(ctx, a)
	logger.Debug("workflow finished",
		zap.String("workflow", res.Workflow),
		zap.String("run_id", res.RunID),
		zap.String("status", string(res.Status)),
		zap.String("marker", res.Marker))
	if err := printResult(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	exitCode = exitCodeOf(res)
	return nil
}

// reportRejected prints a failure result for input refused before any
// workflow ran, so --json callers always get a Result.
func reportRejected(cmd *cobra.Command, name string, err error) error {
	res := workflow.Rejected(name, err)
	if perr := printResult(cmd.OutOrStdout(), res); perr != nil {
		return perr
	}
	exitCode = exitCodeOf(res)
	return nil
}
