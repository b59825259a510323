// Package delivery implements the backends that hand due notifications to the
// user.
package delivery

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hay-kot/nudge/internal/core/config"
	"github.com/hay-kot/nudge/internal/core/notify"
	"github.com/hay-kot/nudge/pkg/executil"
)

// New returns the deliverer selected by cfg.Backend.
func New(cfg config.DeliveryConfig, exec executil.Executor, log zerolog.Logger) (notify.Deliverer, error) {
	switch cfg.Backend {
	case config.BackendLog, "":
		return NewLog(log), nil
	case config.BackendCommand:
		return NewCommand(cfg.Command, exec)
	default:
		return nil, fmt.Errorf("unknown delivery backend %q", cfg.Backend)
	}
}
