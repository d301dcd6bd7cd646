package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLIsNeverNil(t *testing.T) {
	if L() == nil {
		t.Fatal("default logger is nil")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		" WARN ":  zapcore.WarnLevel,
		"":        zapcore.InfoLevel,
		"unknown": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestReplace(t *testing.T) {
	prev := L()
	defer Replace(prev)

	core, logs := observer.New(zapcore.InfoLevel)
	Replace(zap.New(core))
	L().Info("hello")
	if logs.FilterMessage("hello").Len() != 1 {
		t.Fatalf("replaced logger not used: %v", logs.All())
	}
}

func TestConfigureBuildFailureKeepsLogger(t *testing.T) {
	prev := L()
	prevBuild := build
	defer func() {
		Replace(prev)
		build = prevBuild
	}()

	core, logs := observer.New(zapcore.InfoLevel)
	installed := zap.New(core)
	Replace(installed)
	build = func(zap.Config) (*zap.Logger, error) {
		return nil, errors.New("no such sink")
	}

	Configure(Options{Level: "debug"})
	if L() != installed {
		t.Fatal("failed configuration replaced the logger")
	}
	if logs.FilterMessage("logger configuration rejected, keeping previous logger").Len() != 1 {
		t.Fatalf("failure not logged: %v", logs.All())
	}
}

func TestConfigureLevel(t *testing.T) {
	prev := L()
	defer Replace(prev)

	Configure(Options{Level: "error"})
	if L().Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info enabled at error level")
	}
	if !L().Core().Enabled(zapcore.ErrorLevel) {
		t.Fatal("error disabled at error level")
	}
}
