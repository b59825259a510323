package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook copies notification_id and request_id from the event context
// into log events.
type ContextHook struct{}

// Run adds contextual fields to the zerolog event.
func (h ContextHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil || ctx == context.Background() {
		return
	}

	if id := GetNotificationID(ctx); id != "" {
		e.Str("notification_id", id)
	}

	if id := GetRequestID(ctx); id != "" {
		e.Str("request_id", id)
	}
}
