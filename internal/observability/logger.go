package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger derives a logger from the process logger tagged with app and
// component.
func ComponentLogger(app, component string) zerolog.Logger {
	return log.With().Str("app", app).Str("component", component).Logger()
}
