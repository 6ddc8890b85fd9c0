package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewParsesLevel(t *testing.T) {
	logger, err := New("warn", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info enabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatal("error disabled at warn level")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("chatty", true); err == nil {
		t.Fatal("expected error")
	}
}

func TestForRoleAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ForRole(zap.New(core), RoleWorker, "w-1").Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["role"] != "WORKER" || fields["id"] != "w-1" {
		t.Fatalf("fields = %v", fields)
	}
}
