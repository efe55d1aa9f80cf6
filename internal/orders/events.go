package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventItemsChanged     = "ItemsChanged"
	EventOrderConfirmed   = "OrderConfirmed"
	EventOrderPaid        = "OrderPaid"
	EventPaymentFailed    = "PaymentFailed"
	EventOrderShipped     = "OrderShipped"
	EventOrderDelivered   = "OrderDelivered"
	EventOrderCancelled   = "OrderCancelled"
	EventOrderDeleted     = "OrderDeleted"
	EventPaymentSucceeded = "PaymentSucceeded" // inbound from the gateway adapter
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload in a v1 envelope correlated to orderID.
func NewEnvelope(eventType, producer, orderID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

// ---- outbound payloads ----

type ItemQty struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
}

type ItemPrice struct {
	VariantID string          `json:"variant_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	ExternalID  string          `json:"external_id,omitempty"`
	UserID      string          `json:"user_id"`
	Items       []ItemPrice     `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type ItemsChangedPayload struct {
	OrderID     string          `json:"order_id"`
	Reserved    []ItemQty       `json:"reserved,omitempty"`
	Released    []ItemQty       `json:"released,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type StatusChangedPayload struct {
	OrderID       string `json:"order_id"`
	From          Status `json:"from"`
	To            Status `json:"to"`
	PaymentStatus string `json:"payment_status"`
	TransactionID string `json:"transaction_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type OrderDeletedPayload struct {
	OrderID  string    `json:"order_id"`
	Released []ItemQty `json:"released,omitempty"`
}

// ---- inbound payloads (payment gateway adapter) ----

type PaymentSucceededPayload struct {
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
}

type PaymentFailedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
	// Cancel asks for the order to be cancelled and its stock released.
	Cancel bool `json:"cancel,omitempty"`
}
