// Package logging holds the process-wide logger used by the trainer, the
// event handlers and the CLI. It is configured once at startup and accessed
// through L().
package logging

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Level string
	JSON  bool
}

var def atomic.Value

func init() {
	l, _ := zap.NewDevelopment()
	def.Store(l)
}

// build is swapped out in tests to exercise the failure path.
var build = func(cfg zap.Config) (*zap.Logger, error) { return cfg.Build() }

// Configure replaces the process logger. Safe to call concurrently with L().
// When the requested options cannot be built, the previous logger stays
// installed and the failure is logged through it.
func Configure(opts Options) {
	cfg := zap.NewDevelopmentConfig()
	if opts.JSON {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(opts.Level))
	l, err := build(cfg)
	if err != nil {
		L().Error("logger configuration rejected, keeping previous logger", zap.Error(err))
		return
	}
	def.Store(l)
}

// Replace installs a custom logger, used by tests to observe log output.
func Replace(l *zap.Logger) {
	def.Store(l)
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func L() *zap.Logger {
	l, _ := def.Load().(*zap.Logger)
	return l
}

func Sync() {
	_ = L().Sync()
}
