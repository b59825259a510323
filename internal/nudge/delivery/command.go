package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/hay-kot/nudge/internal/core/config"
	"github.com/hay-kot/nudge/internal/core/logging"
	"github.com/hay-kot/nudge/internal/core/notify"
	"github.com/hay-kot/nudge/pkg/executil"
	"github.com/hay-kot/nudge/pkg/tmpl"
)

// Command runs an external program, such as notify-send or osascript, for
// each notification. Every argv element is a template rendered with
// config.CommandTemplateData.
type Command struct {
	argv []string
	exec executil.Executor
}

var _ notify.Deliverer = (*Command)(nil)

// NewCommand returns a Command backend for argv.
func NewCommand(argv []string, exec executil.Executor) (*Command, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("delivery command is empty")
	}
	if exec == nil {
		exec = &executil.RealExecutor{}
	}
	return &Command{argv: argv, exec: exec}, nil
}

func (c *Command) Deliver(ctx context.Context, title, body string) error {
	data := config.CommandTemplateData{
		ID:    logging.GetNotificationID(ctx),
		Title: title,
		Body:  body,
	}

	args := make([]string, len(c.argv))
	for i, a := range c.argv {
		rendered, err := tmpl.Render(a, data)
		if err != nil {
			return &notify.DeliveryError{Backend: config.BackendCommand, Err: fmt.Errorf("render argument %d: %w", i, err)}
		}
		args[i] = rendered
	}

	if _, err := c.exec.Run(ctx, args[0], args[1:]...); err != nil {
		return &notify.DeliveryError{Backend: config.BackendCommand, Err: err}
	}
	return nil
}
