// Package mzap wraps go.uber.org/zap behind the mlog.Logger interface, used
// as the production logging backend.
package mzap

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vidurai/vidurai-core/internal/mlog"
)

// Logger adapts a *zap.SugaredLogger to mlog.Logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a Logger at the requested level. Production config is used
// (JSON encoding, ISO8601 timestamps) matching the teacher's telemetry
// conventions.
func New(level mlog.Level) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(toZapLevel(level))

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{sugar: z.Sugar()}, nil
}

func toZapLevel(l mlog.Level) zapcore.Level {
	switch l {
	case mlog.DebugLevel:
		return zapcore.DebugLevel
	case mlog.WarnLevel:
		return zapcore.WarnLevel
	case mlog.ErrorLevel, mlog.FatalLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *Logger) Info(args ...any)               { l.sugar.Info(args...) }
func (l *Logger) Infof(format string, a ...any)  { l.sugar.Infof(format, a...) }
func (l *Logger) Error(args ...any)              { l.sugar.Error(args...) }
func (l *Logger) Errorf(format string, a ...any) { l.sugar.Errorf(format, a...) }
func (l *Logger) Warn(args ...any)               { l.sugar.Warn(args...) }
func (l *Logger) Warnf(format string, a ...any)  { l.sugar.Warnf(format, a...) }
func (l *Logger) Debug(args ...any)              { l.sugar.Debug(args...) }
func (l *Logger) Debugf(format string, a ...any) { l.sugar.Debugf(format, a...) }
func (l *Logger) Fatal(args ...any)              { l.sugar.Fatal(args...) }
func (l *Logger) Fatalf(format string, a ...any) { l.sugar.Fatalf(format, a...) }

// WithFields implements mlog.Logger.
//
//nolint:ireturn
func (l *Logger) WithFields(fields ...any) mlog.Logger {
	return &Logger{sugar: l.sugar.With(fields...)}
}

// Sync implements mlog.Logger.
func (l *Logger) Sync() error { return l.sugar.Sync() }
