package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component returns the global logger tagged with a component name. It reads
// log.Logger on each call so loggers created after logging.Configure pick it up.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
