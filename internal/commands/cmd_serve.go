package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/nudge/internal/core/config"
	"github.com/hay-kot/nudge/internal/core/logging"
	"github.com/hay-kot/nudge/internal/nudge"
	"github.com/hay-kot/nudge/internal/nudge/sweep"
	"github.com/hay-kot/nudge/internal/profiler"
	"github.com/hay-kot/nudge/internal/server"
)

type ServeCmd struct {
	flags *Flags
	app   *nudge.App

	addr      string
	pprofAddr string
}

// NewServeCmd creates a new serve command.
func NewServeCmd(flags *Flags, app *nudge.App) *ServeCmd {
	return &ServeCmd{flags: flags, app: app}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the notification agent and local HTTP API",
		UsageText: "nudge serve [--addr host:port]",
		Description: `Starts the scheduler and serves the key/value and notification API.

On start, pending notifications are loaded from disk. Any whose due time
passed while the agent was stopped are delivered immediately. The API only
listens on a loopback address.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address (defaults to server.addr from config)",
				Sources:     cli.EnvVars("NUDGE_ADDR"),
				Destination: &cmd.addr,
			},
			&cli.StringFlag{
				Name:        "pprof-addr",
				Usage:       "serve pprof handlers on this address (disabled when empty)",
				Sources:     cli.EnvVars("NUDGE_PPROF_ADDR"),
				Destination: &cmd.pprofAddr,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := cmd.flags.Config

	addr, err := listenAddr(cmd.addr, cfg.Server.Addr)
	if err != nil {
		return err
	}

	if cmd.pprofAddr != "" {
		if err := config.CheckListenAddr(cmd.pprofAddr); err != nil {
			return fmt.Errorf("--pprof-addr: %w", err)
		}
	}

	if err := cmd.app.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if cmd.pprofAddr != "" {
		if err := profiler.New(cmd.pprofAddr, logging.Component("profiler")).Start(ctx); err != nil {
			return err
		}
	}

	go sweep.Start(ctx, cmd.app.Audit, cmd.app.Clock, cfg.Audit.Retention, cfg.Audit.SweepInterval)

	log.Info().Str("addr", addr).Int("pending", len(cmd.app.PendingNotifications())).Msg("nudge agent started")

	err = server.New(cmd.app, logging.Component("http")).ListenAndServe(ctx, addr)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info().Msg("nudge agent stopped")
	return nil
}

// listenAddr returns the --addr override when set, checked for loopback, and
// the configured address otherwise.
func listenAddr(override, configured string) (string, error) {
	if override == "" {
		return configured, nil
	}
	if err := config.CheckListenAddr(override); err != nil {
		return "", fmt.Errorf("--addr: %w", err)
	}
	return override, nil
}
