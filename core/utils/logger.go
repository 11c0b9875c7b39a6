package utils

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is a thin wrapper around zerolog so callers keep the usual
// printf-style call sites. All methods are nil-safe.
type Logger struct {
	zl zerolog.Logger
}

func NewLogger() *Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return &Logger{zl: zerolog.New(writer).With().Timestamp().Logger()}
}

// NewJSONLogger writes structured JSON lines, for non-interactive deployments.
func NewJSONLogger() *Logger {
	return &Logger{zl: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil {
		return
	}
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	if l == nil {
		return
	}
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.zl.Error().Msgf(format, args...)
}
