package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/nudge/internal/core/notify"
	"github.com/hay-kot/nudge/internal/core/styles"
	"github.com/hay-kot/nudge/internal/nudge"
	"github.com/hay-kot/nudge/pkg/iojson"
)

type NotifyCmd struct {
	flags *Flags
	app   *nudge.App

	// schedule flags
	title string
	body  string
	delay time.Duration

	// ls / history flags
	jsonOutput bool
	limit      int
}

// NewNotifyCmd creates a new notify command.
func NewNotifyCmd(flags *Flags, app *nudge.App) *NotifyCmd {
	return &NotifyCmd{flags: flags, app: app}
}

// Register adds the notify command to the application.
func (cmd *NotifyCmd) Register(app *cli.Command) *cli.Command {
	jsonFlag := func() cli.Flag {
		return &cli.BoolFlag{
			Name:        "json",
			Usage:       "output as JSON lines",
			Destination: &cmd.jsonOutput,
		}
	}

	app.Commands = append(app.Commands, &cli.Command{
		Name:  "notify",
		Usage: "Schedule and manage delayed notifications",
		Description: `Notification commands.

Scheduled notifications are stored durably and delivered by 'nudge serve'.
A notification scheduled while the agent is stopped is delivered as soon as
it starts, if its due time has already passed.`,
		Commands: []*cli.Command{
			{
				Name:      "schedule",
				Usage:     "Schedule a notification",
				UsageText: "nudge notify schedule --title <title> [--body <body>] --delay <duration>",
				Description: `Schedules a notification and prints its ID.

Examples:
  nudge notify schedule --title Pomodoro --body "Time for a break" --delay 25m
  nudge notify schedule -t "Eye care" -d 20m`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "title",
						Aliases:     []string{"t"},
						Usage:       "notification title",
						Required:    true,
						Destination: &cmd.title,
					},
					&cli.StringFlag{
						Name:        "body",
						Aliases:     []string{"b"},
						Usage:       "notification body",
						Destination: &cmd.body,
					},
					&cli.DurationFlag{
						Name:        "delay",
						Aliases:     []string{"d"},
						Usage:       "how long from now to deliver (e.g. 90s, 25m)",
						Destination: &cmd.delay,
					},
				},
				Action: cmd.runSchedule,
			},
			{
				Name:          "cancel",
				Usage:         "Cancel pending notifications",
				UsageText:     "nudge notify cancel <id>...",
				Action:        cmd.runCancel,
				ShellComplete: NotificationCompleter(cmd.app),
			},
			{
				Name:      "ls",
				Usage:     "List pending notifications",
				UsageText: "nudge notify ls [--json]",
				Flags:     []cli.Flag{jsonFlag()},
				Action:    cmd.runLs,
			},
			{
				Name:      "history",
				Usage:     "Show delivered, cancelled, and failed notifications",
				UsageText: "nudge notify history [--limit N] [--json]",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:        "limit",
						Aliases:     []string{"n"},
						Usage:       "maximum number of events (0 for all)",
						Value:       20,
						Destination: &cmd.limit,
					},
					jsonFlag(),
				},
				Action: cmd.runHistory,
			},
		},
	})

	return app
}

func (cmd *NotifyCmd) runSchedule(ctx context.Context, c *cli.Command) error {
	if cmd.delay < 0 {
		return nudge.ErrNegativeDelay
	}

	id, err := cmd.app.ScheduleNotification(ctx, cmd.title, cmd.body, uint64(cmd.delay.Milliseconds()))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(c.Root().Writer, id)
	return err
}

func (cmd *NotifyCmd) runCancel(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("usage: nudge notify cancel <id>...")
	}
	for _, id := range c.Args().Slice() {
		if err := cmd.app.CancelNotification(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *NotifyCmd) runLs(ctx context.Context, c *cli.Command) error {
	// This process never started the worker, so load what is on disk.
	if err := cmd.app.Scheduler.Reconcile(ctx); err != nil {
		return err
	}

	pending := cmd.app.PendingNotifications()
	out := c.Root().Writer

	if cmd.jsonOutput || !isTerminal(out) {
		for _, n := range pending {
			if err := iojson.WriteLine(out, n); err != nil {
				return fmt.Errorf("encode notification: %w", err)
			}
		}
		return nil
	}

	if len(pending) == 0 {
		_, err := fmt.Fprintln(c.Root().ErrWriter, styles.Muted.Render("No pending notifications"))
		return err
	}

	_, err := fmt.Fprint(out, renderPending(pending, cmd.app.Clock.Now()))
	return err
}

func (cmd *NotifyCmd) runHistory(ctx context.Context, c *cli.Command) error {
	events, err := cmd.app.History(ctx, cmd.limit)
	if err != nil {
		return err
	}

	out := c.Root().Writer

	if cmd.jsonOutput || !isTerminal(out) {
		for _, ev := range events {
			if err := iojson.WriteLine(out, ev); err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
		}
		return nil
	}

	if len(events) == 0 {
		_, err := fmt.Fprintln(c.Root().ErrWriter, styles.Muted.Render("No notification history"))
		return err
	}

	_, err = fmt.Fprint(out, renderHistory(events))
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// renderTable lays out rows in left-aligned columns with a styled header.
func renderTable(header []string, rows [][]string, style func(row, col int) lipgloss.Style) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range rows {
		for i, cell := range r {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	line := func(cells []string, styleFor func(col int) lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = styleFor(i).Inherit(styles.Cell).Width(widths[i] + 2).Render(cell)
		}
		b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, parts...), " "))
		b.WriteByte('\n')
	}

	line(header, func(int) lipgloss.Style { return styles.Header })
	for i, r := range rows {
		line(r, func(col int) lipgloss.Style { return style(i, col) })
	}

	return b.String()
}

func renderPending(pending []notify.Notification, now time.Time) string {
	rows := make([][]string, len(pending))
	for i, n := range pending {
		in := n.DueAt.Sub(now).Round(time.Second)
		due := "now"
		if in > 0 {
			due = "in " + in.String()
		}
		rows[i] = []string{n.ID, n.Title, due, fmt.Sprint(n.Attempts)}
	}

	return renderTable([]string{"ID", "TITLE", "DUE", "ATTEMPTS"}, rows, func(row, col int) lipgloss.Style {
		if col == 0 {
			return styles.Muted
		}
		if col == 3 && pending[row].Attempts > 0 {
			return styles.Warning
		}
		return lipgloss.NewStyle()
	})
}

func renderHistory(events []notify.AuditEvent) string {
	rows := make([][]string, len(events))
	for i, ev := range events {
		rows[i] = []string{
			ev.CreatedAt.Local().Format(time.DateTime),
			string(ev.Status),
			ev.Title,
			ev.NotificationID,
			ev.Detail,
		}
	}

	return renderTable([]string{"WHEN", "STATUS", "TITLE", "ID", "DETAIL"}, rows, func(row, col int) lipgloss.Style {
		switch col {
		case 1:
			return styles.Status(events[row].Status)
		case 3:
			return styles.Muted
		default:
			return lipgloss.NewStyle()
		}
	})
}
