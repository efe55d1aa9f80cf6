package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
	HeaderTraceID      = "x-trace-id"
)

func EnvelopeHeaders(ev orders.Envelope) []kafka.Header {
	hs := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(ev.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(ev.EventVersion))},
	}
	if ev.TraceID != "" {
		hs = append(hs, kafka.Header{Key: HeaderTraceID, Value: []byte(ev.TraceID)})
	}
	return hs
}

func Header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// DecodeEnvelope parses the message value. A missing event type falls back
// to the header so thin producers can omit it from the body.
func DecodeEnvelope(m kafka.Message) (orders.Envelope, error) {
	var ev orders.Envelope
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return ev, fmt.Errorf("decode envelope: %w", err)
	}
	if ev.EventType == "" {
		ev.EventType = Header(m, HeaderEventType)
	}
	if ev.EventType == "" {
		return ev, fmt.Errorf("decode envelope: missing event type")
	}
	return ev, nil
}

// UnwrapPayload decodes an envelope payload into a concrete type.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
