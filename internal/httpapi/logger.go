package httpapi

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger writes JSON lines to w at level and above. Every line carries the
// service name; components add their own "component" field.
func NewLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "hostbridge").Logger()
}
