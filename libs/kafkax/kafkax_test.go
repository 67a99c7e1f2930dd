package kafkax

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestEventMetaMessage(t *testing.T) {
	msg := EventMeta{EventID: "evt-1", EventType: "payment.status_changed.v1", AggregateID: "p-1"}.Message(context.Background(), []byte(`{}`))
	if msg.Topic != "payment.status_changed.v1" || string(msg.Key) != "p-1" {
		t.Fatalf("unexpected topic/key: %s %s", msg.Topic, msg.Key)
	}
	if HeaderValue(msg.Headers, HeaderEventID) != "evt-1" || HeaderValue(msg.Headers, HeaderAggregateID) != "p-1" {
		t.Fatalf("unexpected headers: %v", msg.Headers)
	}
	for _, h := range msg.Headers {
		if h.Key == HeaderAggregateType {
			t.Fatal("empty fields must not become headers")
		}
	}
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	if err := ReadyCheck(" , ")(context.Background()); err == nil {
		t.Fatal("expected an error without brokers")
	}
}

func TestEventMetaMessageCarriesTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	msg := EventMeta{EventID: "evt-1", EventType: "payment.created.v1", AggregateID: "p-1"}.Message(ctx, nil)
	if HeaderValue(msg.Headers, "traceparent") == "" {
		t.Fatal("expected a traceparent header")
	}
	h := headers(msg.Headers)
	h.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-00")
	if len(h) != len(msg.Headers) {
		t.Fatalf("re-setting a key must overwrite, got %d headers", len(h))
	}
	extracted := trace.SpanContextFromContext(otel.GetTextMapPropagator().Extract(context.Background(), &h))
	if extracted.TraceID() != traceID {
		t.Fatalf("trace id mismatch: %s", extracted.TraceID())
	}
}
