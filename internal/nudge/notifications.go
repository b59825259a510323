package nudge

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/hay-kot/nudge/internal/core/notify"
)

// ErrDelayTooLarge is returned for delays that overflow a time.Duration.
var ErrDelayTooLarge = errors.New("delay is too large")

const maxDelayMs = uint64(math.MaxInt64 / int64(time.Millisecond))

// ScheduleNotification schedules a notification delayMs milliseconds from now
// and returns its ID.
func (a *App) ScheduleNotification(ctx context.Context, title, body string, delayMs uint64) (string, error) {
	if delayMs > maxDelayMs {
		return "", ErrDelayTooLarge
	}
	return a.Scheduler.Schedule(ctx, title, body, time.Duration(delayMs)*time.Millisecond)
}

// CancelNotification cancels a pending notification. Unknown IDs succeed.
func (a *App) CancelNotification(ctx context.Context, id string) error {
	return a.Scheduler.Cancel(ctx, id)
}

// PendingNotifications returns the notifications awaiting delivery.
//
// A scheduler that was never started only knows what this process scheduled;
// call Scheduler.Reconcile first to see records written by other processes.
func (a *App) PendingNotifications() []notify.Notification {
	return a.Scheduler.Pending()
}

// History returns up to limit lifecycle events, newest first.
func (a *App) History(ctx context.Context, limit int) ([]notify.AuditEvent, error) {
	return a.Audit.List(ctx, limit)
}
