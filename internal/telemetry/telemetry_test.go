package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestResolveEndpointPrecedence(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	if got := resolveEndpoint(); got != DefaultEndpoint {
		t.Fatalf("endpoint = %q, want default %q", got, DefaultEndpoint)
	}

	quillDir := filepath.Join(home, ".quill")
	if err := os.MkdirAll(quillDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	configBody := "[otel]\nendpoint = \"http://collector:4318\"\n"
	if err := os.WriteFile(filepath.Join(quillDir, "config.toml"), []byte(configBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if got := resolveEndpoint(); got != "http://collector:4318" {
		t.Fatalf("endpoint = %q, want config value", got)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://env:4318")
	if got := resolveEndpoint(); got != "http://env:4318" {
		t.Fatalf("endpoint = %q, want env value", got)
	}

	SetEndpointOverride("http://flag:4318")
	t.Cleanup(func() { SetEndpointOverride("") })
	if got := resolveEndpoint(); got != "http://flag:4318" {
		t.Fatalf("endpoint = %q, want override", got)
	}
}

func TestInitFallsBackToConsoleExporter(t *testing.T) {
	restore := setExporterFactoryForTest(func(context.Context, string) (sdktrace.SpanExporter, error) {
		return nil, errors.New("collector unavailable")
	})
	t.Cleanup(restore)

	shutdown, err := Init(context.Background())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	shutdown()
	shutdown() // idempotent
}

func TestStderrSpanExporterWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	exporter := &stderrSpanExporter{out: &buf}
	if err := exporter.ExportSpans(context.Background(), nil); err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := exporter.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestResolveEnvironment(t *testing.T) {
	t.Setenv("QUILL_ENV", "Staging")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("ENV", "")
	if got := resolveEnvironment(); got != "staging" {
		t.Fatalf("environment = %q, want staging", got)
	}

	t.Setenv("QUILL_ENV", "")
	if got := resolveEnvironment(); got != DefaultEnvironment {
		t.Fatalf("environment = %q, want default", got)
	}
}
