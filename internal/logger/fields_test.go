package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPairs(t *testing.T) {
	fields := Pairs("  provider  ", "  lexical  ", "model", "   ", "  ", "orphan value", "dangling")

	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d: %+v", len(fields), fields)
	}
	if fields[0].Key != "provider" || fields[0].String != "lexical" {
		t.Fatalf("unexpected field: %+v", fields[0])
	}
	if empty := Pairs(); len(empty) != 0 {
		t.Fatalf("expected no fields, got %d", len(empty))
	}
}

func TestWithFieldsNilLogger(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	WithFields(zap.New(core), zap.Int(FieldItem, 3)).Info("matched")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()[FieldItem]; got != int64(3) {
		t.Fatalf("expected item 3, got %v", got)
	}

	if WithFields(nil, zap.String(FieldStage, "rule")) == nil {
		t.Fatalf("expected a no-op logger for nil input")
	}
}

func TestWithCommonFields(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	WithCommonFields(zap.New(core), "anthropic", "claude-x").Info("call")

	ctx := observed.All()[0].ContextMap()
	if ctx[FieldProvider] != "anthropic" || ctx[FieldModel] != "claude-x" {
		t.Fatalf("unexpected context: %v", ctx)
	}
	if fields := BackendFields("websearch", ""); len(fields) != 1 {
		t.Fatalf("expected the empty model to be dropped, got %+v", fields)
	}
}

func TestCallFields(t *testing.T) {
	fields := CallFields("rerank", "")
	if len(fields) != 1 || fields[0].Key != FieldTask || fields[0].String != "rerank" {
		t.Fatalf("unexpected call fields: %+v", fields)
	}
}
