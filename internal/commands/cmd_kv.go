package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/nudge/internal/nudge"
	"github.com/hay-kot/nudge/pkg/iojson"
)

type KVCmd struct {
	flags *Flags
	app   *nudge.App

	// ls flags
	match      string
	jsonOutput bool

	importer iojson.FileReader[map[string]string]
}

// NewKVCmd creates a new kv command.
func NewKVCmd(flags *Flags, app *nudge.App) *KVCmd {
	return &KVCmd{flags: flags, app: app}
}

// Register adds the kv command to the application.
func (cmd *KVCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "kv",
		Usage: "Read and write durable key/value data",
		Description: `Key/value commands for the durable store shared by the agent's tools.

Keys are free-form strings; use "/" to group them (e.g. pomodoro/state).
Keys under __sched__/ are reserved for scheduled notifications.`,
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store a value",
				UsageText: "nudge kv set <key> <value>",
				Action:    cmd.runSet,
			},
			{
				Name:          "get",
				Usage:         "Print a value (empty when the key is absent)",
				UsageText:     "nudge kv get <key>",
				Action:        cmd.runGet,
				ShellComplete: KeyCompleter(cmd.app),
			},
			{
				Name:          "rm",
				Usage:         "Delete a key",
				UsageText:     "nudge kv rm <key>",
				Action:        cmd.runRm,
				ShellComplete: KeyCompleter(cmd.app),
			},
			{
				Name:      "ls",
				Usage:     "List keys",
				UsageText: "nudge kv ls [--match <glob>] [--json]",
				Description: `Lists stored keys in sorted order.

--match takes a glob where * stays within one path segment and ** spans
segments, e.g. 'pomodoro/*' or 'pomodoro/**'.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "match",
						Aliases:     []string{"m"},
						Usage:       "only list keys matching this glob",
						Destination: &cmd.match,
					},
					&cli.BoolFlag{
						Name:        "json",
						Usage:       "output as a JSON array",
						Destination: &cmd.jsonOutput,
					},
				},
				Action: cmd.runLs,
			},
			{
				Name:      "import",
				Usage:     "Store every key of a JSON object",
				UsageText: "nudge kv import [-f file.json]",
				Description: `Reads a flat JSON object of string values and stores each entry.

Examples:
  nudge kv import -f defaults.json
  echo '{"theme":"dark"}' | nudge kv import`,
				Flags:  []cli.Flag{cmd.importer.Flag()},
				Action: cmd.runImport,
			},
		},
	})

	return app
}

func (cmd *KVCmd) runSet(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: nudge kv set <key> <value>")
	}
	return cmd.app.SaveData(ctx, c.Args().Get(0), c.Args().Get(1))
}

func (cmd *KVCmd) runGet(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: nudge kv get <key>")
	}

	v, err := cmd.app.LoadData(ctx, c.Args().First())
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(c.Root().Writer, v)
	return err
}

func (cmd *KVCmd) runRm(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("usage: nudge kv rm <key>...")
	}
	for _, key := range c.Args().Slice() {
		if err := cmd.app.DeleteData(ctx, key); err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
	}
	return nil
}

func (cmd *KVCmd) runLs(ctx context.Context, c *cli.Command) error {
	keys, err := cmd.app.ListData(ctx, cmd.match)
	if err != nil {
		return err
	}

	out := c.Root().Writer
	if cmd.jsonOutput {
		return iojson.WriteWith(out, c.Root().ErrWriter, keys)
	}

	for _, k := range keys {
		if _, err := fmt.Fprintln(out, k); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *KVCmd) runImport(ctx context.Context, c *cli.Command) error {
	values, err := cmd.importer.Read()
	if err != nil {
		return err
	}

	if err := cmd.app.ImportData(ctx, values); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	_, err = fmt.Fprintf(c.Root().ErrWriter, "imported %d key(s)\n", len(values))
	return err
}
