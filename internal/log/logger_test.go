package log

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitJSONLevel(t *testing.T) {
	if err := InitJSON("warn"); err != nil {
		t.Fatalf("InitJSON() error = %v", err)
	}
	if Logger().Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !Logger().Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestInitIgnoresUnknownLevel(t *testing.T) {
	if err := Init("development", "chatty"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if !Logger().Core().Enabled(zapcore.DebugLevel) {
		t.Error("development logger should default to debug")
	}
}

func TestWithFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	With(zap.String("stream_id", "str-1")).Info("transition")
	Warn("vendor flaky")

	if logs.Len() != 2 {
		t.Fatalf("got %d entries, want 2", logs.Len())
	}
	entry := logs.All()[0]
	if entry.ContextMap()["stream_id"] != "str-1" {
		t.Errorf("missing stream_id field: %v", entry.ContextMap())
	}
}
