package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
	HeaderAggregateID   = "aggregate_id"
)

// EventMeta identifies a domain event and the record it is about. Consumers
// dedupe on EventID; the message key is the aggregate id so one record's
// events stay on one partition, in order.
type EventMeta struct {
	EventID       string
	EventType     string
	AggregateType string
	AggregateID   string
}

// Message builds the Kafka message for an event. The topic is the event
// type, every non-empty field is also a header, and the span in ctx (if any)
// is attached as W3C trace headers.
func (m EventMeta) Message(ctx context.Context, payload []byte) kafka.Message {
	h := headers{}
	h.Set(HeaderEventID, m.EventID)
	h.Set(HeaderEventType, m.EventType)
	h.Set(HeaderAggregateType, m.AggregateType)
	h.Set(HeaderAggregateID, m.AggregateID)
	otel.GetTextMapPropagator().Inject(ctx, &h)
	return kafka.Message{Topic: m.EventType, Key: []byte(m.AggregateID), Value: payload, Headers: h}
}

func HeaderValue(hs []kafka.Header, key string) string {
	for _, h := range hs {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// headers is a propagation.TextMapCarrier over Kafka headers. Empty values
// are skipped and a repeated key overwrites.
type headers []kafka.Header

func (hs *headers) Get(key string) string { return HeaderValue(*hs, key) }

func (hs *headers) Set(key, value string) {
	if value == "" {
		return
	}
	for i := range *hs {
		if (*hs)[i].Key == key {
			(*hs)[i].Value = []byte(value)
			return
		}
	}
	*hs = append(*hs, kafka.Header{Key: key, Value: []byte(value)})
}

func (hs *headers) Keys() []string {
	keys := make([]string, 0, len(*hs))
	for _, h := range *hs {
		keys = append(keys, h.Key)
	}
	return keys
}
