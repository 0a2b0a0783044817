package tracer

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace/noop"

	"deskmate/internal/infra/config"
)

func TestSetupNoopProviders(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TracerConfig
	}{
		{"disabled", config.TracerConfig{Enabled: false, Exporter: "stdout"}},
		{"noop exporter", config.TracerConfig{Enabled: true, Exporter: "noop"}},
		{"empty exporter", config.TracerConfig{Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("Setup: %v", err)
			}
			defer shutdown(context.Background())

			if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
				t.Errorf("expected noop provider, got %T", otel.GetTracerProvider())
			}
		})
	}
}

func TestSetupWriters(t *testing.T) {
	for _, exp := range []string{"stdout", "stderr"} {
		t.Run(exp, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: exp, SampleRatio: 0.5})
			if err != nil {
				t.Fatalf("Setup: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown: %v", err)
			}
		})
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "jaeger"})
	if err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestStartSpanAndHelpers(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())

	ctx, span := StartSpan(context.Background(), "route")
	if ctx == nil {
		t.Error("context should not be nil")
	}
	SetOK(span)
	RecordError(span, errors.New("boom"))
	span.End()
}

func TestAttrHelpers(t *testing.T) {
	tests := []struct {
		kv   attribute.KeyValue
		key  string
		kind attribute.Type
	}{
		{StringAttr("agent_id", "mail"), "agent_id", attribute.STRING},
		{IntAttr("entities", 2), "entities", attribute.INT64},
		{FloatAttr("confidence", 0.6), "confidence", attribute.FLOAT64},
		{BoolAttr("fallback", true), "fallback", attribute.BOOL},
	}
	for _, tt := range tests {
		if string(tt.kv.Key) != tt.key {
			t.Errorf("key = %q, want %q", tt.kv.Key, tt.key)
		}
		if tt.kv.Value.Type() != tt.kind {
			t.Errorf("%s type = %v, want %v", tt.key, tt.kv.Value.Type(), tt.kind)
		}
	}
}
