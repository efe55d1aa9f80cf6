// Package payments applies asynchronous payment gateway callbacks to orders.
package payments

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-order-engine/internal/coordinator"
	kafkax "github.com/ariefcatur/go-order-engine/internal/kafka"
	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Orders is the slice of the coordinator the callback handler drives.
type Orders interface {
	MarkAsPaid(ctx context.Context, orderID, transactionID string) (orders.View, error)
	MarkPaymentFailed(ctx context.Context, orderID, reason string) (orders.View, error)
	CancelOrder(ctx context.Context, caller coordinator.Caller, orderID, reason string) (orders.View, error)
}

type Handler struct {
	Orders      Orders
	Redis       redis.Cmdable // nil disables dedup
	ServiceName string
	Log         *zap.Logger
}

// HandleMessage is installed as the consumer handler. Decoding problems and
// business rejections are logged and acknowledged. Infrastructure failures
// and write conflicts are returned; the consumer retries them before it
// commits the offset.
func (h *Handler) HandleMessage(ctx context.Context, m kafkago.Message) error {
	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}
	ev, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		log.Warn("dropping undecodable payment message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	log = log.With(zap.String("event_id", ev.EventID), zap.String("event_type", ev.EventType))

	switch ev.EventType {
	case orders.EventPaymentSucceeded, orders.EventPaymentFailed:
	default:
		return nil
	}

	if h.Redis != nil && ev.EventID != "" {
		first, err := redisx.MarkOnce(ctx, h.Redis, h.ServiceName, ev.EventID)
		if err != nil {
			return err
		}
		if !first {
			log.Debug("duplicate payment event")
			return nil
		}
	}

	err = h.apply(ctx, ev)
	switch {
	case err == nil:
		return nil
	case orders.KindOf(err) != nil && !errors.Is(err, orders.ErrConflict):
		// the order moved on (cancelled, already paid, deleted); retrying cannot help
		log.Warn("payment event rejected", zap.Error(err))
		return nil
	default:
		if h.Redis != nil && ev.EventID != "" {
			if ferr := redisx.Forget(ctx, h.Redis, h.ServiceName, ev.EventID); ferr != nil {
				log.Error("release dedup claim", zap.Error(ferr))
			}
		}
		return err
	}
}

func (h *Handler) apply(ctx context.Context, ev orders.Envelope) error {
	switch ev.EventType {
	case orders.EventPaymentSucceeded:
		p, err := kafkax.UnwrapPayload[orders.PaymentSucceededPayload](ev.Payload)
		if err != nil {
			return orders.InvalidArgument("paymentSucceeded", err.Error())
		}
		_, err = h.Orders.MarkAsPaid(ctx, orderID(p.OrderID, ev), p.TransactionID)
		return err

	case orders.EventPaymentFailed:
		p, err := kafkax.UnwrapPayload[orders.PaymentFailedPayload](ev.Payload)
		if err != nil {
			return orders.InvalidArgument("paymentFailed", err.Error())
		}
		id := orderID(p.OrderID, ev)
		if _, err := h.Orders.MarkPaymentFailed(ctx, id, p.Reason); err != nil {
			return err
		}
		if p.Cancel {
			_, err = h.Orders.CancelOrder(ctx, coordinator.System, id, p.Reason)
			return err
		}
		return nil
	}
	return errors.New("unhandled event type " + ev.EventType)
}

func orderID(fromPayload string, ev orders.Envelope) string {
	if fromPayload != "" {
		return fromPayload
	}
	return ev.CorrelationID
}
