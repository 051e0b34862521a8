package observability

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"conclave/pkg/feedback"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracesFile is the name of the trace dump in the reports directory.
const TracesFile = "traces.json"

const tracerName = "conclave"

// TracingAdapter turns scenario and step events into spans. A scenario span
// covers the scenario from its start event to its final event; each finished
// step becomes a child span.
type TracingAdapter struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer

	mu    sync.Mutex
	spans map[string]openSpan
}

type openSpan struct {
	ctx  context.Context
	span trace.Span
}

// NewTracingAdapter exports spans with exporter.
func NewTracingAdapter(exporter sdktrace.SpanExporter) *TracingAdapter {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	return &TracingAdapter{
		provider: tp,
		tracer:   tp.Tracer(tracerName),
		spans:    make(map[string]openSpan),
	}
}

// NewStdoutTracingAdapter exports spans as JSON to w.
func NewStdoutTracingAdapter(w io.Writer) (*TracingAdapter, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return NewTracingAdapter(exporter), nil
}

func scenarioKey(run, feature, scenario string) string {
	return run + "\x00" + feature + "\x00" + scenario
}

// OnScenario implements feedback.Adapter.
func (t *TracingAdapter) OnScenario(ev feedback.ScenarioEvent) error {
	key := scenarioKey(ev.Run.TaskID, ev.Feature.Name, ev.Scenario.Name)
	attrs := []attribute.KeyValue{
		attribute.String("conclave.task_id", ev.Run.TaskID),
		attribute.String("conclave.feature", ev.Feature.Name),
		attribute.String("conclave.scenario", ev.Scenario.Name),
		attribute.Int("conclave.pid", ev.PID),
		attribute.Int("conclave.worker", ev.Worker),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Status == feedback.StatusStarting {
		ctx, span := t.tracer.Start(context.Background(), ev.Scenario.Name,
			trace.WithTimestamp(ev.Start), trace.WithAttributes(attrs...))
		t.spans[key] = openSpan{ctx: ctx, span: span}
		return nil
	}

	open, ok := t.spans[key]
	if !ok {
		// Scenarios skipped before dispatch have no start event.
		opts := []trace.SpanStartOption{trace.WithAttributes(attrs...)}
		if !ev.Start.IsZero() {
			opts = append(opts, trace.WithTimestamp(ev.Start))
		}
		open.ctx, open.span = t.tracer.Start(context.Background(), ev.Scenario.Name, opts...)
	}
	delete(t.spans, key)
	finish(open.span, string(ev.Status), ev.Error, ev.End)
	return nil
}

// OnStep implements feedback.Adapter.
func (t *TracingAdapter) OnStep(ev feedback.StepEvent) error {
	if !ev.Status.Terminal() {
		return nil
	}
	key := scenarioKey(ev.Run.TaskID, ev.Feature.Name, ev.Scenario.Name)

	t.mu.Lock()
	defer t.mu.Unlock()

	parent := context.Background()
	if open, ok := t.spans[key]; ok {
		parent = open.ctx
	}
	opts := []trace.SpanStartOption{trace.WithAttributes(
		attribute.String("conclave.keyword", ev.Keyword),
		attribute.Int("conclave.line", ev.Line),
		attribute.Bool("conclave.concurrent", ev.Concurrent),
		attribute.Int("conclave.lane", ev.Lane),
	)}
	if !ev.Start.IsZero() {
		opts = append(opts, trace.WithTimestamp(ev.Start))
	}
	_, span := t.tracer.Start(parent, ev.Keyword+ev.Text, opts...)
	finish(span, string(ev.Status), ev.Error, ev.End)
	return nil
}

func finish(span trace.Span, status, errText string, end time.Time) {
	span.SetAttributes(attribute.String("conclave.status", status))
	if errText != "" {
		span.SetStatus(codes.Error, errText)
	} else if status == string(feedback.StatusSuccess) {
		span.SetStatus(codes.Ok, "")
	}
	if end.IsZero() {
		span.End()
		return
	}
	span.End(trace.WithTimestamp(end))
}

// Shutdown ends spans still open and flushes the exporter.
func (t *TracingAdapter) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	for key, open := range t.spans {
		open.span.End()
		delete(t.spans, key)
	}
	t.mu.Unlock()
	return t.provider.Shutdown(ctx)
}
