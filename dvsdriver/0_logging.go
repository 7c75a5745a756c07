package dvsdriver

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the package-wide structured logger. It is configured from the
// LOG_LEVEL env variable and may be replaced with SetLogger.
var Logger zerolog.Logger

var (
	LOG_LEVEL = zerolog.InfoLevel // default log level
)

func init() {
	Logger = newConsoleLogger(os.Stderr, zerolog.InfoLevel)

	logLevelStr := os.Getenv("LOG_LEVEL")
	if logLevelStr != "" {
		switch logLevelStr {
		case "DEBUG":
			LOG_LEVEL = zerolog.DebugLevel
		case "INFO":
			LOG_LEVEL = zerolog.InfoLevel
		case "WARNING":
			LOG_LEVEL = zerolog.WarnLevel
		case "ERROR":
			LOG_LEVEL = zerolog.ErrorLevel
		default:
			Logger.Warn().Str("value", logLevelStr).Msg("Unrecognized LOG_LEVEL env variable value. Keeping LOG_LEVEL at level INFO")
		}
	}
	Logger = Logger.Level(LOG_LEVEL)
}

func newConsoleLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMicro}
	return zerolog.New(consoleWriter).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// SetLogger replaces the package logger. Tests use zerolog.Nop() to mute it.
func SetLogger(l zerolog.Logger) {
	Logger = l
}
