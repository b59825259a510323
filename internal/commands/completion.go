package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/nudge/internal/nudge"
)

// KeyCompleter returns a ShellCompleteFunc that suggests stored application
// keys as positional completions.
//
// When the user's last typed argument starts with "-", it falls back to the
// default flag completion behavior.
func KeyCompleter(app *nudge.App) cli.ShellCompleteFunc {
	return func(ctx context.Context, cmd *cli.Command) {
		if typingFlag(cmd) {
			cli.DefaultCompleteWithFlags(ctx, cmd)
			return
		}

		keys, err := app.ListData(ctx, "")
		if err != nil {
			return
		}

		w := cmd.Root().Writer
		for _, k := range keys {
			_, _ = fmt.Fprintln(w, k)
		}
	}
}

// NotificationCompleter suggests the IDs of pending notifications.
func NotificationCompleter(app *nudge.App) cli.ShellCompleteFunc {
	return func(ctx context.Context, cmd *cli.Command) {
		if typingFlag(cmd) {
			cli.DefaultCompleteWithFlags(ctx, cmd)
			return
		}

		if err := app.Scheduler.Reconcile(ctx); err != nil {
			return
		}

		w := cmd.Root().Writer
		for _, n := range app.PendingNotifications() {
			_, _ = fmt.Fprintln(w, n.ID)
		}
	}
}

func typingFlag(cmd *cli.Command) bool {
	args := cmd.Args()
	if !args.Present() {
		return false
	}
	last := args.Slice()[args.Len()-1]
	return len(last) > 0 && last[0] == '-'
}
