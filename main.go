package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/nudge/internal/commands"
	"github.com/hay-kot/nudge/internal/core/clock"
	"github.com/hay-kot/nudge/internal/core/config"
	"github.com/hay-kot/nudge/internal/core/logging"
	"github.com/hay-kot/nudge/internal/nudge"
	"github.com/hay-kot/nudge/internal/nudge/delivery"
	"github.com/hay-kot/nudge/pkg/executil"
	"github.com/hay-kot/nudge/pkg/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, init() populates
	// these from runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	// When installed via `go install module@version`, ldflags aren't set
	// so version remains "dev". Fall back to runtime/debug.BuildInfo which
	// Go populates automatically with the module version and VCS metadata.
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

func main() {
	ctx := context.Background()

	var (
		logCloser func()
		opened    bool
		nudgeApp  = &nudge.App{}
	)

	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "nudge",
		Usage:     "Durable key/value storage and delayed notifications",
		UsageText: "nudge [global options] command [command options]",
		Description: `Nudge is a small local agent for productivity tools.

It keeps key/value data on disk and delivers delayed notifications, even
across restarts. Run 'nudge serve' to start the agent; the other commands
work directly against the same data directory.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("NUDGE_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to <data-dir>/nudge.log)",
				Sources:     cli.EnvVars("NUDGE_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("NUDGE_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("NUDGE_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// Always log to a file; use explicit path or default to <datadir>/nudge.log
			logFile := flags.LogFile
			if logFile == "" {
				logFile = filepath.Join(flags.DataDir, "nudge.log")
			}

			logger, closer, err := logutils.New(flags.LogLevel, logFile, logging.ContextHook{})
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.Config = cfg

			deliverer, err := delivery.New(cfg.Delivery, &executil.RealExecutor{}, logging.Component("delivery"))
			if err != nil {
				return ctx, fmt.Errorf("setup delivery: %w", err)
			}

			a, err := nudge.Open(cfg, clock.Real(), deliverer)
			if err != nil {
				return ctx, err
			}

			// Populate the pre-allocated App struct (commands already hold a pointer to it)
			*nudgeApp = *a
			opened = true

			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			var err error
			if opened {
				if err = nudgeApp.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close app")
				}
			}

			// Close log file
			if logCloser != nil {
				logCloser()
			}
			return err
		},
	}

	app = commands.NewKVCmd(flags, nudgeApp).Register(app)
	app = commands.NewNotifyCmd(flags, nudgeApp).Register(app)
	app = commands.NewServeCmd(flags, nudgeApp).Register(app)
	app = commands.NewConfigValidateCmd(flags).Register(app)

	exitCode := 0
	runErr := app.Run(ctx, os.Args)
	if runErr != nil {
		var exitErr cli.ExitCoder
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			fmt.Fprintln(os.Stderr, runErr.Error())
			exitCode = 1
		}
	}

	os.Exit(exitCode)
}
