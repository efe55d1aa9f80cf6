// Package coordinator runs the order workflows that touch both the inventory
// ledger and the order aggregate.
//
// Locking: a workflow holds at most the lock of the one order it mutates,
// and while holding it may take the lock of one variant at a time inside the
// ledger. Locks are always taken order-then-variant, never the reverse, and
// never across two orders.
//
// Ordering: stock for an add or increase is reserved before the order is
// committed and released again if the commit fails. Stock for a remove,
// decrease, cancel or delete is released only after the order change is
// committed.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-engine/internal/inventory"
	"github.com/ariefcatur/go-order-engine/internal/keylock"
	"github.com/ariefcatur/go-order-engine/internal/orders"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Caller is the identity supplied by the session layer.
type Caller struct {
	UserID string
	Admin  bool
}

// System acts for the payment gateway and other trusted adapters.
var System = Caller{UserID: "system", Admin: true}

// Publisher receives lifecycle events after a workflow has committed.
type Publisher interface {
	Publish(ctx context.Context, ev orders.Envelope) error
}

type Coordinator struct {
	ledger  inventory.Ledger
	repo    orders.Repository
	pub     Publisher
	locks   *keylock.Locker
	log     *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	service string
}

type Option func(*Coordinator)

func WithLogger(l *zap.Logger) Option { return func(c *Coordinator) { c.log = l } }

func WithPublisher(p Publisher) Option { return func(c *Coordinator) { c.pub = p } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func WithServiceName(name string) Option { return func(c *Coordinator) { c.service = name } }

func WithTracer(t trace.Tracer) Option { return func(c *Coordinator) { c.tracer = t } }

func New(ledger inventory.Ledger, repo orders.Repository, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:  ledger,
		repo:    repo,
		locks:   keylock.New(),
		log:     zap.NewNop(),
		tracer:  otel.Tracer("github.com/ariefcatur/go-order-engine/internal/coordinator"),
		now:     func() time.Time { return time.Now().UTC() },
		service: "order-api",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) start(ctx context.Context, op, orderID string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "coordinator."+op)
	if orderID != "" {
		span.SetAttributes(attribute.String("order.id", orderID))
	}
	return ctx, span
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// fail stamps the attempted operation and the order's current status onto a
// typed error. Untyped errors are persistence failures and stay opaque.
func fail(err error, op string, o *orders.Order) error {
	e, ok := orders.AsError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	cp := *e
	cp.Op = op
	if o != nil && cp.Current == "" {
		cp.Current = o.Status
	}
	return &cp
}

// load reads the order and enforces ownership for non-admin callers.
func (c *Coordinator) load(ctx context.Context, op string, caller Caller, orderID string) (*orders.Order, error) {
	o, err := c.repo.Get(ctx, orderID)
	if err != nil {
		return nil, fail(err, op, nil)
	}
	if !caller.Admin && o.UserID != caller.UserID {
		return nil, &orders.Error{Kind: orders.ErrOwnershipMismatch, Op: op, Resource: "order", ID: orderID, Current: o.Status}
	}
	return o, nil
}

func notModifiable(op string, o *orders.Order) error {
	return &orders.Error{Kind: orders.ErrOrderNotModifiable, Op: op, Resource: "order", ID: o.ID, Current: o.Status}
}

func (c *Coordinator) commit(ctx context.Context, o *orders.Order) error {
	o.UpdatedAt = c.now()
	return c.repo.Save(ctx, o)
}

// rollback returns reservations made earlier in a workflow that did not
// commit.
func (c *Coordinator) rollback(ctx context.Context, op string, reserved []orders.ItemQty) {
	for _, r := range reserved {
		if err := c.ledger.ReleaseStock(ctx, r.VariantID, r.Qty); err != nil {
			c.log.Error("rollback release failed",
				zap.String("op", op), zap.String("variant_id", r.VariantID), zap.Int("qty", r.Qty), zap.Error(err))
		}
	}
}

// release returns stock after a committed order change. The order is
// already durable, so failures are logged rather than surfaced.
func (c *Coordinator) release(ctx context.Context, op, orderID string, lines []orders.ItemQty) {
	for _, r := range lines {
		if r.Qty < 1 {
			continue
		}
		if err := c.ledger.ReleaseStock(ctx, r.VariantID, r.Qty); err != nil {
			c.log.Warn("release after commit failed",
				zap.String("op", op), zap.String("order_id", orderID),
				zap.String("variant_id", r.VariantID), zap.Int("qty", r.Qty), zap.Error(err))
		}
	}
}

func (c *Coordinator) publish(ctx context.Context, eventType, orderID string, payload any) {
	if c.pub == nil {
		return
	}
	ev, err := orders.NewEnvelope(eventType, c.service, orderID, payload)
	if err != nil {
		c.log.Error("build event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ev.TraceID = sc.TraceID().String()
	}
	if err := c.pub.Publish(ctx, ev); err != nil {
		c.log.Warn("publish event failed",
			zap.String("event_type", eventType), zap.String("order_id", orderID), zap.Error(err))
	}
}

func itemQtys(items []orders.OrderItem) []orders.ItemQty {
	out := make([]orders.ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, orders.ItemQty{VariantID: it.VariantID, Qty: it.Quantity})
	}
	return out
}
