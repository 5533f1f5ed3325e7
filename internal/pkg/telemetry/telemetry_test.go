package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/jcmexdev/invoice-gateway/internal/pkg/config"
	"github.com/jcmexdev/invoice-gateway/internal/pkg/correlation"
)

func TestLoggerAddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug").With("component", "test")

	ctx := correlation.WithID(context.Background(), "corr-123")
	logger.InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["correlation_id"] != "corr-123" {
		t.Errorf("correlation_id = %v", rec["correlation_id"])
	}
	if rec["component"] != "test" {
		t.Errorf("WithAttrs lost: %v", rec)
	}
	if _, ok := rec["trace_id"]; ok {
		t.Error("trace_id should be absent without a span")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupTracer_Disabled(t *testing.T) {
	shutdown, err := SetupTracer(context.Background(), config.Tracing{Enabled: false})
	if err != nil {
		t.Fatalf("SetupTracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestStripScheme(t *testing.T) {
	for in, want := range map[string]string{
		"http://collector:4317":  "collector:4317",
		"https://collector:4317": "collector:4317",
		"collector:4317":         "collector:4317",
	} {
		if got := stripScheme(in); got != want {
			t.Errorf("stripScheme(%q) = %q", in, got)
		}
	}
}
