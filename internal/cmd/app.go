// Package cmd provides the CLI commands for yachtsync.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/config"
	"github.com/fclairamb/yachtsync/internal/jobstate"
	"github.com/fclairamb/yachtsync/internal/server"
	"github.com/fclairamb/yachtsync/internal/sync"
	"github.com/fclairamb/yachtsync/internal/version"
)

const defaultLogLimit = 50

// verboseFlag is the shared verbose flag for all commands.
var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Enable verbose logging",
}

// jobFlag selects the job kind a command applies to.
var jobFlag = &cli.StringFlag{
	Name:    "job",
	Aliases: []string{"j"},
	Usage:   "Job kind (import or daily_sync)",
	Value:   string(jobstate.KindImport),
}

// LogFormat represents the log output format.
type LogFormat string

const (
	// LogFormatText is the human-readable text format (default).
	LogFormatText LogFormat = "text"
	// LogFormatJSON is the JSON-formatted structured logs.
	LogFormatJSON LogFormat = "json"
)

// app carries the configuration loaded before each command.
type app struct {
	cfg *config.Config
}

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	a := &app{}

	return &cli.Command{
		Name:    "yachtsync",
		Usage:   "Import and keep in sync yacht listings from a remote listing API",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "token",
				Usage: "Remote API token (defaults to YS_API_TOKEN)",
			},
			&cli.StringFlag{
				Name:    "store-path",
				Usage:   "Path to the git-backed catalog (defaults to YS_DIR)",
				Aliases: []string{"s"},
			},
			verboseFlag,
		},
		Commands: []*cli.Command{
			a.importCommand(),
			a.dailySyncCommand(),
			a.getCommand(),
			a.stopCommand(),
			a.unlockCommand(),
			a.statusCommand(),
			a.logsCommand(),
			a.historyCommand(),
			a.remoteCommand(),
			a.serveCommand(),
			versionCommand(),
		},
	}
}

// before loads the configuration and sets up logging for a subcommand.
func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load()
	if err != nil {
		return ctx, err
	}
	a.cfg = cfg
	setupLogging(cmd, cfg.LogFormat)
	return ctx, nil
}

// parseLogFormat maps a YS_LOG_FORMAT value to a LogFormat.
func parseLogFormat(val string) (LogFormat, bool) {
	switch strings.ToLower(val) {
	case "json":
		return LogFormatJSON, true
	case "text", "":
		return LogFormatText, true
	default:
		return LogFormatText, false
	}
}

// setupLogging configures the global logger based on the verbose flag and YS_LOG_FORMAT.
func setupLogging(cmd *cli.Command, formatValue string) {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}

	format, valid := parseLogFormat(formatValue)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))

	if !valid {
		slog.Warn("Invalid YS_LOG_FORMAT value, using text format", "value", formatValue)
	}

	if level == slog.LevelDebug {
		slog.Debug("Verbose logging enabled")
	}
}

// storePath returns the catalog path from --store-path or YS_DIR.
func (a *app) storePath(cmd *cli.Command) string {
	if p := cmd.String("store-path"); p != "" {
		return p
	}
	return a.cfg.Dir
}

// withEngine opens the backend, builds an engine and runs fn with it.
func (a *app) withEngine(
	ctx context.Context, cmd *cli.Command, reg prometheus.Registerer, fn func(*sync.Engine) error,
) error {
	logger := slog.Default()

	b, err := openBackend(ctx, a.cfg, a.storePath(cmd), logger)
	if err != nil {
		return err
	}
	defer b.close()

	engine, err := newEngine(a.cfg, cmd, b, reg, logger)
	if err != nil {
		return err
	}
	return fn(engine)
}

// withState opens the backend and runs fn with the state of every kind.
// No API token is needed.
func (a *app) withState(ctx context.Context, cmd *cli.Command, fn func(func(jobstate.Kind) *jobstate.State) error) error {
	logger := slog.Default()

	b, err := openBackend(ctx, a.cfg, a.storePath(cmd), logger)
	if err != nil {
		return err
	}
	defer b.close()

	opts := stateOptions(a.cfg, logger)
	return fn(func(kind jobstate.Kind) *jobstate.State {
		return jobstate.New(b.kv, kind, opts...)
	})
}

// runResult reports a finished run. Runs that could not start are errors.
func runResult(res *sync.Result) error {
	displayResult(res)
	switch res.Outcome {
	case sync.OutcomeLockConflict, sync.OutcomeFailed:
		return res.Err
	default:
		return nil
	}
}

// importCommand creates the import subcommand.
func (a *app) importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import every active listing not yet in the catalog",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Continue an interrupted run without clearing a pending stop request",
			},
			verboseFlag,
		},
		Before: a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			mode := sync.ModeStart
			if cmd.Bool("resume") {
				mode = sync.ModeResume
			}

			return a.withEngine(ctx, cmd, nil, func(engine *sync.Engine) error {
				return runResult(engine.RunImport(ctx, mode))
			})
		},
	}
}

// dailySyncCommand creates the daily-sync subcommand.
func (a *app) dailySyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "daily-sync",
		Usage: "Apply removals, additions and market changes since the last daily sync",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Continue without clearing a pending stop request",
			},
			verboseFlag,
		},
		Before: a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			mode := sync.ModeStart
			if cmd.Bool("resume") {
				mode = sync.ModeResume
			}

			return a.withEngine(ctx, cmd, nil, func(engine *sync.Engine) error {
				return runResult(engine.RunDailySync(ctx, mode))
			})
		},
	}
}

// getCommand creates the get subcommand.
func (a *app) getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Import a single listing by vessel ID or MLS ID",
		ArgsUsage: "<lookup_key>",
		Flags:     []cli.Flag{verboseFlag},
		Before:    a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return apperrors.ErrLookupKeyRequired
			}

			lookupKey, err := strconv.ParseInt(cmd.Args().Get(0), 10, 64)
			if err != nil || lookupKey <= 0 {
				return fmt.Errorf("%w: %q", apperrors.ErrUnresolvedID, cmd.Args().Get(0))
			}

			return a.withEngine(ctx, cmd, nil, func(engine *sync.Engine) error {
				outcome, err := engine.ImportOne(ctx, lookupKey)
				if err != nil {
					return fmt.Errorf("import %d: %w", lookupKey, err)
				}
				displayImportOutcome(lookupKey, outcome)
				return nil
			})
		},
	}
}

// stopCommand creates the stop subcommand.
func (a *app) stopCommand() *cli.Command {
	return &cli.Command{
		Name:   "stop",
		Usage:  "Ask a running job to stop at its next checkpoint",
		Flags:  []cli.Flag{jobFlag, verboseFlag},
		Before: a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			kind, err := jobstate.ParseKind(cmd.String("job"))
			if err != nil {
				return err
			}

			return a.withState(ctx, cmd, func(state func(jobstate.Kind) *jobstate.State) error {
				if err := state(kind).RequestStop(ctx); err != nil {
					return fmt.Errorf("request stop: %w", err)
				}
				displayMessage("Stop requested for %s", kind)
				return nil
			})
		},
	}
}

// unlockCommand creates the unlock subcommand.
func (a *app) unlockCommand() *cli.Command {
	return &cli.Command{
		Name:   "unlock",
		Usage:  "Force-release the lock of a job (only when no run is alive)",
		Flags:  []cli.Flag{jobFlag, verboseFlag},
		Before: a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			kind, err := jobstate.ParseKind(cmd.String("job"))
			if err != nil {
				return err
			}

			return a.withState(ctx, cmd, func(state func(jobstate.Kind) *jobstate.State) error {
				st := state(kind)
				if err := st.ForceReleaseLock(ctx); err != nil {
					return fmt.Errorf("release lock: %w", err)
				}
				st.Logf(ctx, slog.LevelWarn, "lock force-released from the command line")
				displayMessage("Lock of %s released", kind)
				return nil
			})
		},
	}
}

// statusCommand creates the status subcommand.
func (a *app) statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the state of one or every job",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "job",
				Aliases: []string{"j"},
				Usage:   "Job kind (import or daily_sync), all when unset",
			},
			verboseFlag,
		},
		Before: a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			kinds := jobstate.Kinds
			if v := cmd.String("job"); v != "" {
				kind, err := jobstate.ParseKind(v)
				if err != nil {
					return err
				}
				kinds = []jobstate.Kind{kind}
			}

			return a.withState(ctx, cmd, func(state func(jobstate.Kind) *jobstate.State) error {
				for _, kind := range kinds {
					snap, err := state(kind).Snapshot(ctx, a.cfg.LockTTL)
					if err != nil {
						return fmt.Errorf("read %s state: %w", kind, err)
					}
					displayStatus(os.Stdout, snap)
				}
				return nil
			})
		},
	}
}

// logsCommand creates the logs subcommand.
func (a *app) logsCommand() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Show the activity log",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of entries to show (0 for all)",
				Value:   defaultLogLimit,
			},
			verboseFlag,
		},
		Before: a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return a.withState(ctx, cmd, func(state func(jobstate.Kind) *jobstate.State) error {
				entries, err := state(jobstate.KindImport).Logs(ctx, cmd.Int("limit"))
				if err != nil {
					return fmt.Errorf("read logs: %w", err)
				}
				return displayLogs(os.Stdout, entries)
			})
		},
	}
}

// historyCommand creates the history subcommand.
func (a *app) historyCommand() *cli.Command {
	return &cli.Command{
		Name:   "history",
		Usage:  "Show the per-day totals of the daily sync",
		Flags:  []cli.Flag{verboseFlag},
		Before: a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return a.withState(ctx, cmd, func(state func(jobstate.Kind) *jobstate.State) error {
				history, err := state(jobstate.KindDailySync).History(ctx)
				if err != nil {
					return fmt.Errorf("read history: %w", err)
				}
				return displayHistory(os.Stdout, history)
			})
		},
	}
}

// remoteCommand creates the remote subcommand.
func (a *app) remoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "remote",
		Usage: "Manage the remote git repository of the catalog",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the remote configuration",
				Flags:  []cli.Flag{verboseFlag},
				Before: a.before,
				Action: func(_ context.Context, _ *cli.Command) error {
					displayRemoteConfig(a.cfg.Remote())
					return nil
				},
			},
			{
				Name:   "test",
				Usage:  "Test connection to the remote repository",
				Flags:  []cli.Flag{verboseFlag},
				Before: a.before,
				Action: func(ctx context.Context, _ *cli.Command) error {
					cfg := a.cfg.Remote()
					if !cfg.IsEnabled() {
						return apperrors.ErrRemoteNotConfigured
					}
					return displayConnectionTest(ctx, cfg)
				},
			},
		},
	}
}

// serveCommand creates the serve subcommand.
func (a *app) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the job API and run requested jobs in the background",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "HTTP port to listen on (defaults to YS_HTTP_PORT)",
			},
			verboseFlag,
		},
		Before: a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			port := a.cfg.HTTPPort
			if p := cmd.Int("port"); p > 0 {
				port = p
			}
			if a.cfg.HTTPSecret == "" {
				slog.Warn("YS_HTTP_SECRET not configured, job triggers are not authenticated")
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			return a.withEngine(ctx, cmd, reg, func(engine *sync.Engine) error {
				srv := server.NewServer(server.Config{
					Port:        port,
					Secret:      a.cfg.HTTPSecret,
					ResumeDelay: a.cfg.ResumeDelay,
					LockTTL:     a.cfg.LockTTL,
				}, engine, reg, slog.Default())
				return srv.Start(ctx)
			})
		},
	}
}

// versionCommand creates the version subcommand.
func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information",
		Action: func(_ context.Context, _ *cli.Command) error {
			displayVersion(os.Stdout)
			return nil
		},
	}
}
