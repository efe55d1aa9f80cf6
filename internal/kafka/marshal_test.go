package kafka

import (
	"encoding/json"
	"testing"

	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/segmentio/kafka-go"
)

func TestEnvelopeRoundTripThroughMessage(t *testing.T) {
	ev, err := orders.NewEnvelope(orders.EventPaymentSucceeded, "gateway", "o-1",
		orders.PaymentSucceededPayload{OrderID: "o-1", TransactionID: "tx-1"})
	if err != nil {
		t.Fatal(err)
	}
	ev.TraceID = "abc"
	b, _ := json.Marshal(ev)
	m := kafka.Message{Key: orders.PartitionKey("o-1"), Value: b, Headers: EnvelopeHeaders(ev)}

	if got := Header(m, HeaderTraceID); got != "abc" {
		t.Errorf("trace header = %q", got)
	}
	got, err := DecodeEnvelope(m)
	if err != nil {
		t.Fatal(err)
	}
	p, err := UnwrapPayload[orders.PaymentSucceededPayload](got.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if got.EventType != orders.EventPaymentSucceeded || p.TransactionID != "tx-1" || got.CorrelationID != "o-1" {
		t.Fatalf("decoded %+v / %+v", got, p)
	}
}

func TestDecodeEnvelope_HeaderFallback(t *testing.T) {
	m := kafka.Message{
		Value:   []byte(`{"event_id":"e1","payload":{"order_id":"o-2","reason":"declined"}}`),
		Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte(orders.EventPaymentFailed)}},
	}
	ev, err := DecodeEnvelope(m)
	if err != nil || ev.EventType != orders.EventPaymentFailed {
		t.Fatalf("ev=%+v err=%v", ev, err)
	}
	if _, err := DecodeEnvelope(kafka.Message{Value: []byte(`{"event_id":"e1"}`)}); err == nil {
		t.Fatal("missing type accepted")
	}
	if _, err := DecodeEnvelope(kafka.Message{Value: []byte(`{`)}); err == nil {
		t.Fatal("bad json accepted")
	}
}
