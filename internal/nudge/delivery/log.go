package delivery

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hay-kot/nudge/internal/core/notify"
)

// Log writes notifications to the log. It is the default backend on headless
// hosts.
type Log struct {
	log zerolog.Logger
}

var _ notify.Deliverer = (*Log)(nil)

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Deliver(ctx context.Context, title, body string) error {
	l.log.Info().Ctx(ctx).
		Str("title", title).
		Str("body", body).
		Msg("notification")
	return nil
}
