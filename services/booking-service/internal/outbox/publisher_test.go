package outbox

import (
	"context"
	"testing"

	"github.com/md-rashed-zaman/slotledger/libs/kafkax"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestToMessageCarriesMetadataAndTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	rec := Record{
		ID:            7,
		EventID:       "0b7c3b8e-8c1f-4a56-9d55-12c1a1b7c901",
		AggregateType: "payment",
		AggregateID:   "pay-1",
		EventType:     EventPaymentStatusChanged,
		Payload:       []byte(`{"status":"paid"}`),
		Traceparent:   "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}

	msg := toMessage(context.Background(), rec)
	if msg.Topic != EventPaymentStatusChanged || string(msg.Key) != "pay-1" {
		t.Fatalf("unexpected topic/key: %s %s", msg.Topic, msg.Key)
	}
	if kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID) != rec.EventID ||
		kafkax.HeaderValue(msg.Headers, kafkax.HeaderAggregateType) != "payment" {
		t.Fatalf("unexpected headers: %v", msg.Headers)
	}
	if got := kafkax.HeaderValue(msg.Headers, "traceparent"); got != rec.Traceparent {
		t.Fatalf("expected stored traceparent to be forwarded, got %q", got)
	}
}
