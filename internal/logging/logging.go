// Package logging initializes the process-wide zerolog logger.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures zerolog with a console writer in development and a plain
// JSON writer otherwise, matching the teacher's observability.InitLogger.
func Init(level string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w = os.Stdout
	if pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).With().Timestamp().Caller().Logger()
	} else {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	}

	lvl := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		lvl = parsed
	}
	zerolog.SetGlobalLevel(lvl)
}
