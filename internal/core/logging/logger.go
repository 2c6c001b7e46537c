// Package logging provides helpers on top of the global zerolog logger.
package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component returns a logger tagged with a component identifier under the
// "cmp" key, so log lines can be filtered per subsystem.
func Component(name string) zerolog.Logger {
	return log.With().Str("cmp", name).Logger()
}
