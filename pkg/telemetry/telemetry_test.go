package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("engine").
		WithOperation("package-bop").
		WithInvocationID("inv-1").
		WithNodeKey(4).
		Debug("Node called")

	out := buf.String()
	for _, want := range []string{`"component":"engine"`, `"operation":"package-bop"`, `"invocation_id":"inv-1"`, `"node":4`, `"message":"Node called"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %s", out, want)
		}
	}
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("expected warn to be written, got %q", buf.String())
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordInvocation("op", "succeeded", time.Millisecond)
	m.RecordNodeCall("op", "internal", "result", "succeeded", time.Millisecond)
	m.RecordTimeout("op")
	m.SetDeadNodes("op", 2)

	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	disabled.RecordStitch("op", "succeeded", time.Millisecond)
	if disabled.Registry() != nil {
		t.Error("expected no registry when metrics are disabled")
	}
}

func TestMetrics_Router(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Enabled = true

	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.InvocationStarted()
	m.RecordInvocation("package-bop", "succeeded", 5*time.Millisecond)
	m.RecordValidationFailure("broken", "CIRCULAR_DEPENDENCY")

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	for _, want := range []string{
		`bops_invocations_total{operation="package-bop",status="succeeded"} 1`,
		`bops_validation_failures_total{code="CIRCULAR_DEPENDENCY",operation="broken"} 1`,
	} {
		if !strings.Contains(body.String(), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}

	health, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /healthz, got %d", health.StatusCode)
	}
}

func TestEventPublisher_Sync(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByType(EventInvocationTimeout))

	ctx := context.Background()
	ep.Publish(ctx, &Event{Type: EventInvocationStarted, Operation: "op"})
	ep.Publish(ctx, &Event{Type: EventInvocationTimeout, Operation: "op"})

	if len(got) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(got))
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Error("expected ID and timestamp to be filled in")
	}
}

func TestEventPublisher_AsyncDrainsOnShutdown(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10, MaxBatchSize: 5, EnableAsync: true})

	delivered := make(chan Event, 10)
	ep.Subscribe(func(e Event) { delivered <- e }, FilterByOperation("op"))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ep.Publish(ctx, &Event{Type: EventInvocationCompleted, Operation: "op"})
	}
	ep.Publish(ctx, &Event{Type: EventInvocationCompleted, Operation: "other"})

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := ep.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if len(delivered) != 3 {
		t.Errorf("expected 3 delivered events, got %d", len(delivered))
	}
}

func TestEventPublisher_Nil(t *testing.T) {
	var ep *EventPublisher
	ep.Publish(context.Background(), &Event{Type: EventOperationLoaded})
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on nil publisher: %v", err)
	}
}

func TestTracer_NilStartsNoopSpan(t *testing.T) {
	var tr *Tracer
	ctx, span := tr.StartInvocationSpan(context.Background(), "op", "inv")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Error("expected a no-op span")
	}
	if TraceID(ctx) != "" {
		t.Error("expected no trace id")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "production needs endpoint", mutate: func(c *Config) { *c = *ProductionConfig() }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
