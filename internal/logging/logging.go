package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the process logger. LOG_LEVEL and LOG_PRETTY come straight from
// the environment so logging works before config is loaded.
func New() zerolog.Logger {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	var output io.Writer = os.Stdout
	if isPretty(os.Getenv("LOG_PRETTY")) {
		output = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func isPretty(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}
