package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vidurai/vidurai-core/internal/config"
	"github.com/vidurai/vidurai-core/internal/engine"
	"github.com/vidurai/vidurai-core/internal/mlog"
	"github.com/vidurai/vidurai-core/internal/mzap"
)

func main() {
	config.LoadLocalEnv()

	cfg, err := config.FromEnv()
	if err != nil {
		mlog.NewGoLogger(mlog.ErrorLevel).Fatalf("vidurai-core: loading config: %v", err)
		return
	}

	level, err := mlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = mlog.InfoLevel
	}

	logger, err := newLogger(cfg.EnvName, level)
	if err != nil {
		mlog.NewGoLogger(mlog.ErrorLevel).Fatalf("vidurai-core: building logger: %v", err)
		return
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatalf("vidurai-core: creating data dir: %v", err)
		return
	}

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Fatalf("vidurai-core: starting engine: %v", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("vidurai-core: started (env=%s, data_dir=%s)", cfg.EnvName, cfg.DataDir)

	eng.Run(ctx)

	if err := eng.Close(); err != nil {
		logger.Errorf("vidurai-core: closing engine: %v", err)
	}

	logger.Info("vidurai-core: stopped")
}

// newLogger picks the JSON zap backend for any non-local environment and
// the plain stdlib-backed logger for local development, matching the
// teacher's telemetry split between human-readable dev output and
// structured production logs.
func newLogger(envName string, level mlog.Level) (mlog.Logger, error) {
	if envName == "" || envName == "local" {
		return mlog.NewGoLogger(level), nil
	}

	return mzap.New(level)
}
