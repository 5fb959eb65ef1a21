package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("CGS_TRACING_ENABLED", "TRUE")
	t.Setenv("CGS_TRACING_EXPORTER", "OTLP")
	t.Setenv("CGS_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("CGS_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ServiceName != "cgs-sim" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
}

func TestTracingConfigIgnoresBadRatio(t *testing.T) {
	t.Setenv("CGS_TRACING_SAMPLE_RATIO", "7")
	if cfg := TracingConfigFromEnv(); cfg.SampleRatio != 1 {
		t.Fatalf("expected default ratio 1, got %v", cfg.SampleRatio)
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var out bytes.Buffer
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, TracingConfig{
		Enabled: true, ServiceName: "test", Exporter: "stdout", SampleRatio: 1, Output: &out,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := Tracer("test").Start(ctx, "cgs.Schedule")
	span.End()
	ShutdownWithTimeout(ctx, shutdown, nil)

	if !strings.Contains(out.String(), "cgs.Schedule") {
		t.Fatalf("expected span in exporter output, got %q", out.String())
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatalf("expected unsupported exporter error")
	}
}
