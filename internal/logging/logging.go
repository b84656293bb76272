// Package logging provides the logger used across the build pipeline. It is
// a thin wrapper around zerolog that exposes printf-style helpers so that
// callers do not depend on the zerolog API directly.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

type Config struct {
	Level  int
	Output io.Writer
}

type Logger struct {
	logger zerolog.Logger
}

// NewLogger returns a console logger writing to cfg.Output (stderr if unset).
func NewLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	w := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	return &Logger{
		logger: zerolog.New(w).Level(level(cfg.Level)).With().Timestamp().Logger(),
	}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

func (l *Logger) WithName(name string) *Logger {
	return &Logger{logger: l.logger.With().Str("component", name).Logger()}
}

func (l *Logger) Debugf(f string, a ...any) { l.logger.Debug().Msgf(f, a...) }
func (l *Logger) Infof(f string, a ...any)  { l.logger.Info().Msgf(f, a...) }
func (l *Logger) Warnf(f string, a ...any)  { l.logger.Warn().Msgf(f, a...) }
func (l *Logger) Errorf(f string, a ...any) { l.logger.Error().Msgf(f, a...) }

func level(lvl int) zerolog.Level {
	switch lvl {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
