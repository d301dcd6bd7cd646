package handlers

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kbressem/ai-template/config"
	"github.com/kbressem/ai-template/datasets"
	"github.com/kbressem/ai-template/engine"
	"github.com/kbressem/ai-template/logging"
)

// observeLogs routes the package logger into an observer for the test.
func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logging.L()
	logging.Replace(zap.New(core))
	t.Cleanup(func() { logging.Replace(prev) })
	return logs
}

func debugConfig(debug bool) *config.Config {
	return &config.Config{
		RunID: "dbg",
		Debug: debug,
		Model: config.ModelConfig{OutChannels: 2},
	}
}

func batchEngine(labels []float32) *engine.Engine {
	e := engine.New()
	e.State.Batch = &datasets.BatchFlat{
		Images:     make([]float32, len(labels)),
		Labels:     labels,
		Count:      1,
		ImageShape: []int{1, 1, 1, len(labels)},
		LabelShape: []int{1, 1, 1, len(labels)},
	}
	return e
}

func TestDebugHandlerAttach(t *testing.T) {
	observeLogs(t)
	h := NewDebugHandler(debugConfig(true))
	e := engine.New()
	h.Attach(e)
	if !e.HasEventHandler(engine.EventGetBatchCompleted, h.BatchStatistics) {
		t.Fatal("BatchStatistics not attached")
	}
	if !e.HasEventHandler(engine.EventGetBatchCompleted, h.CheckLossAndNClasses) {
		t.Fatal("CheckLossAndNClasses not attached")
	}
}

func TestCheckLossAndNClassesTooManyUnique(t *testing.T) {
	logs := observeLogs(t)
	h := NewDebugHandler(debugConfig(true))
	e := batchEngine([]float32{0, 1, 2, 3})
	h.CheckLossAndNClasses(e)

	want := "There are more unique values in the labels than there are `out_channels`."
	if logs.FilterMessage(want).Len() != 1 {
		t.Fatalf("expected error %q, got %v", want, logs.All())
	}
}

func TestCheckLossAndNClassesLabelTooHigh(t *testing.T) {
	logs := observeLogs(t)
	h := NewDebugHandler(debugConfig(true))
	// only two unique values, but 5 exceeds out_channels-1
	e := batchEngine([]float32{0, 5})
	h.CheckLossAndNClasses(e)

	want := "The maximum value of labels is higher than `out_channels`."
	if logs.FilterMessage(want).Len() != 1 {
		t.Fatalf("expected error %q, got %v", want, logs.All())
	}
}

func TestCheckLossAndNClassesValidLabels(t *testing.T) {
	logs := observeLogs(t)
	h := NewDebugHandler(debugConfig(true))
	e := batchEngine([]float32{0, 1, 1, 0})
	h.CheckLossAndNClasses(e)
	if n := logs.FilterLevelExact(zapcore.ErrorLevel).Len(); n != 0 {
		t.Fatalf("valid labels produced %d errors: %v", n, logs.All())
	}
}

func TestDebugHandlerSilentWhenDisabled(t *testing.T) {
	logs := observeLogs(t)
	h := NewDebugHandler(debugConfig(false))
	e := batchEngine([]float32{0, 1, 2, 3, 4})
	h.BatchStatistics(e)
	h.CheckLossAndNClasses(e)
	if logs.Len() != 0 {
		t.Fatalf("disabled handler logged: %v", logs.All())
	}
}

func TestBatchStatistics(t *testing.T) {
	logs := observeLogs(t)
	h := NewDebugHandler(debugConfig(true))
	e := batchEngine([]float32{0, 1, 1, 0})
	h.BatchStatistics(e)

	entries := logs.FilterMessage("batch statistics").All()
	if len(entries) != 1 {
		t.Fatalf("expected one statistics entry, got %v", logs.All())
	}
	fields := entries[0].ContextMap()
	for _, key := range []string{"image_min", "image_max", "image_shape", "label_shape", "label_unique"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("statistics missing %q: %v", key, fields)
		}
	}
}

func TestBatchStatisticsNilBatch(t *testing.T) {
	logs := observeLogs(t)
	h := NewDebugHandler(debugConfig(true))
	e := engine.New()
	h.BatchStatistics(e)
	h.CheckLossAndNClasses(e)
	if logs.Len() != 0 {
		t.Fatalf("nil batch logged: %v", logs.All())
	}
}

func TestDebugHandlerLoggerName(t *testing.T) {
	logs := observeLogs(t)
	h := NewDebugHandler(debugConfig(true))
	e := batchEngine([]float32{0, 1})
	h.BatchStatistics(e)
	for _, entry := range logs.All() {
		if !strings.Contains(entry.LoggerName, "debug") {
			t.Fatalf("logger name = %q", entry.LoggerName)
		}
	}
}
