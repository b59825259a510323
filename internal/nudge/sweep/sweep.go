// Package sweep prunes notification history older than the retention window.
package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hay-kot/nudge/internal/core/clock"
	"github.com/hay-kot/nudge/internal/core/notify"
)

// Once deletes audit events older than retention and returns how many were
// removed. A non-positive retention keeps everything.
func Once(ctx context.Context, audit notify.AuditLog, clk clock.Clock, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return audit.Prune(ctx, clk.Now().Add(-retention))
}

// Start periodically sweeps expired audit events. It blocks until the context
// is cancelled.
func Start(ctx context.Context, audit notify.AuditLog, clk clock.Clock, retention, interval time.Duration) {
	for {
		timer := clk.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
			n, err := Once(ctx, audit, clk, retention)
			if err != nil {
				log.Debug().Err(err).Msg("audit sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("pruned", n).Msg("audit sweep")
			}
		}
	}
}
