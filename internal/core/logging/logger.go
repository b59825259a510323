// Package logging holds zerolog helpers shared by nudge components.
package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component creates a new logger tagged with a component name under the
// "cmp" key. The logger is derived from the global logger at call time, so
// call it after the global logger has been configured.
func Component(name string) zerolog.Logger {
	return log.With().Str("cmp", name).Logger()
}
