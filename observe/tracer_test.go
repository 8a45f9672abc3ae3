package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer() (Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return NewTracer(tp.Tracer("test")), recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracer_SpanNameAndAttributes(t *testing.T) {
	tracer, recorder := newRecordingTracer()
	meta := CallMeta{Operation: "analyze", Context: "reviews", Model: "gpt-4o-mini", CacheKey: "abc"}

	_, span := tracer.StartSpan(context.Background(), meta)
	tracer.EndSpan(span, true, nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name() != "inference.analyze" {
		t.Errorf("Name() = %q, want inference.analyze", got.Name())
	}
	if got.Status().Code != codes.Ok {
		t.Errorf("Status = %v, want Ok", got.Status().Code)
	}

	wantStr := map[string]string{
		"inference.operation": "analyze",
		"inference.context":   "reviews",
		"inference.model":     "gpt-4o-mini",
		"cache.key":           "abc",
	}
	for k, want := range wantStr {
		if v, ok := spanAttr(got, k); !ok || v.AsString() != want {
			t.Errorf("%s = %q, want %q", k, v.AsString(), want)
		}
	}
	if v, ok := spanAttr(got, "cache.hit"); !ok || !v.AsBool() {
		t.Error("cache.hit should be true")
	}
}

func TestTracer_RecordsError(t *testing.T) {
	tracer, recorder := newRecordingTracer()

	_, span := tracer.StartSpan(context.Background(), CallMeta{Operation: "analyze"})
	tracer.EndSpan(span, false, errors.New("upstream down"))

	got := recorder.Ended()[0]
	if got.Status().Code != codes.Error || got.Status().Description != "upstream down" {
		t.Errorf("Status = %+v, want Error/upstream down", got.Status())
	}
	if v, _ := spanAttr(got, "inference.error"); !v.AsBool() {
		t.Error("inference.error should be true")
	}
	if len(got.Events()) == 0 || got.Events()[0].Name != "exception" {
		t.Error("expected an exception event")
	}
}

func TestTracer_OptionalAttributesOmitted(t *testing.T) {
	tracer, recorder := newRecordingTracer()

	_, span := tracer.StartSpan(context.Background(), CallMeta{Operation: "purge"})
	tracer.EndSpan(span, false, nil)

	got := recorder.Ended()[0]
	for _, k := range []string{"inference.context", "inference.model", "cache.key"} {
		if _, ok := spanAttr(got, k); ok {
			t.Errorf("%s should be absent", k)
		}
	}
}

func TestNoopTracer(t *testing.T) {
	tracer := NoopTracer()
	ctx, span := tracer.StartSpan(context.Background(), CallMeta{Operation: "analyze"})
	if ctx == nil || span == nil {
		t.Fatal("expected non-nil ctx and span")
	}
	tracer.EndSpan(span, false, errors.New("ignored"))
}
