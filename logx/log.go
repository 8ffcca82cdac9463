// Package logx holds the process-wide zerolog logger.
package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Log is the shared logger used throughout the binary.
var Log = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Configure sets the global level and writes human-readable output to w
// when console is true, JSON lines otherwise.
func Configure(level string, w io.Writer, console bool) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	if console {
		w = zerolog.ConsoleWriter{Out: w}
	}
	Log = zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel is tolerant of case and common synonyms. Unknown values
// default to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "all", "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "none", "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
