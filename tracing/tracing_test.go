package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// recordSpans installs an in-memory tracer provider for the duration of the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func attrsOf(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestDefaultConfig(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		wantEnabled bool
		wantEnv     string
		wantOTLP    string
	}{
		{
			name:    "nothing set",
			wantEnv: "development",
		},
		{
			name:        "explicitly enabled",
			env:         map[string]string{"OTEL_ENABLED": "true", "OTEL_ENVIRONMENT": "ci"},
			wantEnabled: true,
			wantEnv:     "ci",
		},
		{
			name:        "endpoint implies enabled",
			env:         map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4318"},
			wantEnabled: true,
			wantEnv:     "development",
			wantOTLP:    "collector:4318",
		},
		{
			name:    "enabled must be exactly true",
			env:     map[string]string{"OTEL_ENABLED": "1"},
			wantEnv: "development",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"OTEL_ENABLED", "OTEL_ENVIRONMENT", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
				t.Setenv(k, tt.env[k])
			}

			cfg := DefaultConfig()
			if cfg.ServiceName != TracerName {
				t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, TracerName)
			}
			if cfg.Enabled != tt.wantEnabled {
				t.Errorf("Enabled = %v, want %v", cfg.Enabled, tt.wantEnabled)
			}
			if cfg.Environment != tt.wantEnv {
				t.Errorf("Environment = %q, want %q", cfg.Environment, tt.wantEnv)
			}
			if cfg.OTLPEndpoint != tt.wantOTLP {
				t.Errorf("OTLPEndpoint = %q, want %q", cfg.OTLPEndpoint, tt.wantOTLP)
			}
			if cfg.SampleRate != 1 {
				t.Errorf("SampleRate = %v, want 1", cfg.SampleRate)
			}
			if cfg.Writer == nil {
				t.Error("Writer should default to stderr")
			}
		})
	}
}

func TestSetup_DisabledIsNoop(t *testing.T) {
	prev := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Error("disabled Setup replaced the global tracer provider")
	}
}

func TestSetup_WritesSpansToWriter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), Config{
		ServiceName:    "wikicat",
		ServiceVersion: "test",
		Environment:    "test",
		Enabled:        true,
		SampleRate:     1,
		Writer:         &buf,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := StartSpan(context.Background(), "enumerate.category")
	AddCategoryAttributes(span, "Category:Mandarin_idioms", 500)
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"enumerate.category", "Category:Mandarin_idioms"} {
		if !strings.Contains(out, want) {
			t.Errorf("exported spans missing %q", want)
		}
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{1.5, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-0.5, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); got != tt.want {
			t.Errorf("samplerFor(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestWikiAttributes(t *testing.T) {
	rec := recordSpans(t)

	_, first := StartSpan(context.Background(), "wiki.first")
	AddWikiAttributes(first, "categorymembers", "")
	first.End()

	_, next := StartSpan(context.Background(), "wiki.next")
	AddWikiAttributes(next, "categorymembers", "page|4e4b|123")
	AddCategoryAttributes(next, "Category:Mandarin_idioms", 250)
	next.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	a := attrsOf(spans[0])
	if a["wiki.api.action"].AsString() != "categorymembers" {
		t.Errorf("action = %v", a["wiki.api.action"])
	}
	if _, ok := a["wiki.api.cmcontinue"]; ok {
		t.Error("first page should not carry cmcontinue")
	}

	a = attrsOf(spans[1])
	if a["wiki.api.cmcontinue"].AsString() != "page|4e4b|123" {
		t.Errorf("cmcontinue = %v", a["wiki.api.cmcontinue"])
	}
	if a["wiki.category"].AsString() != "Category:Mandarin_idioms" {
		t.Errorf("category = %v", a["wiki.category"])
	}
	if a["wiki.batch_size"].AsInt64() != 250 {
		t.Errorf("batch_size = %v", a["wiki.batch_size"])
	}
}

func TestToolAttributesAndErrors(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartSpan(context.Background(), "mcp.tool.wiki_list_category_members")
	AddToolAttributes(span, "wiki_list_category_members", "categories")
	RecordError(span, nil)
	RecordError(span, errors.New("HTTP 503"))
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	a := attrsOf(spans[0])
	if a["mcp.tool.name"].AsString() != "wiki_list_category_members" {
		t.Errorf("tool name = %v", a["mcp.tool.name"])
	}
	if a["mcp.tool.category"].AsString() != "categories" {
		t.Errorf("tool category = %v", a["mcp.tool.category"])
	}
	if n := len(spans[0].Events()); n != 1 {
		t.Errorf("got %d error events, want 1 (nil errors are ignored)", n)
	}
}

func TestLogHandler(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	traced := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name: "traced context",
			ctx:  traced,
			want: []string{"trace_id=0102030405060708090a0b0c0d0e0f10", "span_id=0102030405060708", "run=1"},
		},
		{
			name:    "plain context",
			ctx:     context.Background(),
			want:    []string{"run=1"},
			notWant: []string{"trace_id", "span_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(LogHandler(slog.NewTextHandler(&buf, nil))).With("run", 1).WithGroup("page")

			logger.InfoContext(tt.ctx, "fetched page", "members", 500)

			out := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("missing %q in %q", s, out)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(out, s) {
					t.Errorf("unexpected %q in %q", s, out)
				}
			}
		})
	}
}

func TestLogHandler_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(LogHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))

	logger.Debug("fetched page")
	if buf.Len() != 0 {
		t.Errorf("debug record leaked through warn handler: %q", buf.String())
	}
}
