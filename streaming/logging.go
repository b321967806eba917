package streaming

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LevelFor maps the config debug flag to a log level.
func LevelFor(debug bool) zerolog.Level {
	if debug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// NewLogger returns a timestamped logger writing to output (stderr when nil)
// at level. It does not touch zerolog's global level.
func NewLogger(output io.Writer, level zerolog.Level) zerolog.Logger {
	if output == nil {
		output = os.Stderr
	}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// NewConsoleLogger is NewLogger with human-readable output.
func NewConsoleLogger(output io.Writer, level zerolog.Level) zerolog.Logger {
	if output == nil {
		output = os.Stderr
	}
	return NewLogger(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}, level)
}

// LogObserver writes request lifecycle events to logger at debug level, and
// failures at warn level. Response bodies are logged except for login.
func LogObserver(logger zerolog.Logger) RequestObserver {
	return func(event RequestEvent) {
		var entry *zerolog.Event
		switch event.Kind {
		case EventFailed, EventExpired:
			entry = logger.Warn().Err(event.Err)
		case EventRetried:
			entry = logger.Info().Err(event.Err)
		default:
			entry = logger.Debug()
		}
		entry = entry.
			Str("event", string(event.Kind)).
			Str("stage", event.Stage).
			Str("method", event.Method).
			Str("url", event.URL).
			Int("attempt", event.Attempt)
		if event.Status != 0 {
			entry = entry.Int("status", event.Status)
		}
		if event.Kind == EventBodyReceived {
			entry = entry.Int("bytes", event.Bytes)
			// login responses carry the session token
			if event.Stage != stageLogin {
				entry = entry.Bytes("body", event.Response)
			}
		}
		entry.Dur("elapsed", event.Elapsed).Msg("request")
	}
}
