// Package mlog defines the logger contract used across the engine, decoupling
// call sites from the concrete logging backend.
package mlog

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Logger is the common interface for log implementations used throughout the
// engine. Components accept a Logger in their constructor; nothing reaches
// for a package-level global.
type Logger interface {
	Info(args ...any)
	Infof(format string, args ...any)

	Error(args ...any)
	Errorf(format string, args ...any)

	Warn(args ...any)
	Warnf(format string, args ...any)

	Debug(args ...any)
	Debugf(format string, args ...any)

	Fatal(args ...any)
	Fatalf(format string, args ...any)

	// WithFields returns a new Logger with the given structured fields
	// attached to every subsequent call. The receiver is left unchanged.
	WithFields(fields ...any) Logger

	Sync() error
}

// Level represents the logging level.
type Level int8

const (
	FatalLevel Level = iota
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
)

// ParseLevel parses a level name, defaulting to an error on unknown input.
func ParseLevel(lvl string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "fatal":
		return FatalLevel, nil
	case "error":
		return ErrorLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	}

	var l Level

	return l, fmt.Errorf("not a valid log level: %q", lvl)
}

// GoLogger is a dependency-free Logger backed by the standard library "log"
// package. It is used in tests and whenever no telemetry backend has been
// configured — the engine must never fail to log just because it has no
// fancy logger wired up.
type GoLogger struct {
	Level  Level
	fields []any
}

// NewGoLogger returns a ready-to-use GoLogger at the given level.
func NewGoLogger(level Level) *GoLogger {
	return &GoLogger{Level: level}
}

func (l *GoLogger) enabled(level Level) bool { return l.Level >= level }

func (l *GoLogger) print(level Level, args ...any) {
	if !l.enabled(level) {
		return
	}

	if len(l.fields) > 0 {
		args = append(append([]any{}, l.fields...), args...)
	}

	log.Println(args...)
}

func (l *GoLogger) printf(level Level, format string, args ...any) {
	if !l.enabled(level) {
		return
	}

	log.Printf(format, args...)
}

func (l *GoLogger) Info(args ...any)                 { l.print(InfoLevel, args...) }
func (l *GoLogger) Infof(format string, a ...any)    { l.printf(InfoLevel, format, a...) }
func (l *GoLogger) Error(args ...any)                { l.print(ErrorLevel, args...) }
func (l *GoLogger) Errorf(format string, a ...any)   { l.printf(ErrorLevel, format, a...) }
func (l *GoLogger) Warn(args ...any)                 { l.print(WarnLevel, args...) }
func (l *GoLogger) Warnf(format string, a ...any)    { l.printf(WarnLevel, format, a...) }
func (l *GoLogger) Debug(args ...any)                { l.print(DebugLevel, args...) }
func (l *GoLogger) Debugf(format string, a ...any)   { l.printf(DebugLevel, format, a...) }
func (l *GoLogger) Fatal(args ...any)                { l.print(FatalLevel, args...) }
func (l *GoLogger) Fatalf(format string, a ...any)   { l.printf(FatalLevel, format, a...) }

// WithFields implements Logger.
//
//nolint:ireturn
func (l *GoLogger) WithFields(fields ...any) Logger {
	return &GoLogger{Level: l.Level, fields: append(append([]any{}, l.fields...), fields...)}
}

// Sync implements Logger.
func (l *GoLogger) Sync() error { return nil }

type loggerContextKey struct{}

// ContextWithLogger returns a context carrying logger as its Logger value.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// FromContext extracts the Logger previously attached with ContextWithLogger,
// falling back to a quiet GoLogger (error level only) if none is present.
//
//nolint:ireturn
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerContextKey{}).(Logger); ok {
		return logger
	}

	return NewGoLogger(ErrorLevel)
}
