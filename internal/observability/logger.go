// Package observability configures process-wide logging.
package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs the global zerolog logger. Pretty output uses a
// console writer; otherwise JSON lines go to stdout.
func InitLogger(app, level string, pretty bool) zerolog.Logger {
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	logger := zerolog.New(out).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// TokenPrefix returns a short, log-safe rendering of a bearer token.
func TokenPrefix(token string) string {
	if token == "" {
		return "<none>"
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}
