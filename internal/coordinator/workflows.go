package coordinator

import (
	"context"
	"errors"
	"strings"

	"github.com/ariefcatur/go-order-engine/internal/orders"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	opCreate        = "createOrder"
	opGet           = "getOrder"
	opList          = "listOrders"
	opAddItem       = "addItem"
	opUpdateItemQty = "updateItemQuantity"
	opRemoveItem    = "removeItem"
	opClearItems    = "clearItems"
	opConfirm       = "confirmOrder"
	opCancel        = "cancelOrder"
	opMarkPaid      = "markAsPaid"
	opPaymentFailed = "markPaymentFailed"
	opMarkShipped   = "markAsShipped"
	opMarkDelivered = "markAsDelivered"
	opUpdateStatus  = "updateStatus"
	opDelete        = "deleteOrder"
	opRecalculate   = "recalculateTotal"
)

type LineInput struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderInput struct {
	ExternalID      string      `json:"external_id,omitempty"`
	ShippingAddress string      `json:"shipping_address"`
	PaymentMethod   string      `json:"payment_method"`
	Items           []LineInput `json:"items"`
}

func validateLine(op string, ln LineInput) error {
	if strings.TrimSpace(ln.VariantID) == "" {
		return orders.InvalidArgument(op, "variant id is required")
	}
	if ln.Quantity < 1 {
		e := orders.InvalidArgument(op, "quantity must be at least 1")
		e.VariantID = ln.VariantID
		return e
	}
	return nil
}

// mergeLines folds repeated variants into one line, keeping first-seen order.
func mergeLines(lines []LineInput) []LineInput {
	out := make([]LineInput, 0, len(lines))
	idx := make(map[string]int, len(lines))
	for _, ln := range lines {
		if i, ok := idx[ln.VariantID]; ok {
			out[i].Quantity += ln.Quantity
			continue
		}
		idx[ln.VariantID] = len(out)
		out = append(out, ln)
	}
	return out
}

// CreateOrder reserves every line and persists a PENDING order. Any failure
// releases the lines reserved so far, so no partial order is ever left.
// A repeated ExternalID for the same user returns the existing order.
func (c *Coordinator) CreateOrder(ctx context.Context, caller Caller, in CreateOrderInput) (v orders.View, err error) {
	ctx, span := c.start(ctx, opCreate, "")
	defer func() { finish(span, err) }()

	if strings.TrimSpace(caller.UserID) == "" {
		return v, orders.InvalidArgument(opCreate, "user id is required")
	}
	if strings.TrimSpace(in.ShippingAddress) == "" {
		return v, orders.InvalidArgument(opCreate, "shipping address is required")
	}
	if strings.TrimSpace(in.PaymentMethod) == "" {
		return v, orders.InvalidArgument(opCreate, "payment method is required")
	}
	for _, ln := range in.Items {
		if err := validateLine(opCreate, ln); err != nil {
			return v, err
		}
	}

	if in.ExternalID != "" {
		unlock := c.locks.Lock("create:" + caller.UserID + ":" + in.ExternalID)
		defer unlock()
		existing, err := c.repo.FindByExternalID(ctx, caller.UserID, in.ExternalID)
		if err == nil {
			span.SetAttributes(attribute.Bool("order.idempotent", true))
			return existing.View(), nil
		}
		if !errors.Is(err, orders.ErrNotFound) {
			return v, fail(err, opCreate, nil)
		}
	}

	o := orders.NewOrder(caller.UserID, in.ShippingAddress, in.PaymentMethod, c.now())
	o.ExternalID = in.ExternalID
	span.SetAttributes(attribute.String("order.id", o.ID))

	var reserved []orders.ItemQty
	for _, ln := range mergeLines(in.Items) {
		if err := c.ledger.ValidateStock(ctx, ln.VariantID, ln.Quantity); err != nil {
			c.rollback(ctx, opCreate, reserved)
			return v, fail(err, opCreate, nil)
		}
		snap, err := c.ledger.ReserveStock(ctx, ln.VariantID, ln.Quantity)
		if err != nil {
			c.rollback(ctx, opCreate, reserved)
			return v, fail(err, opCreate, nil)
		}
		reserved = append(reserved, orders.ItemQty{VariantID: ln.VariantID, Qty: ln.Quantity})
		if _, err := o.AddItem(snap.Snapshot(), ln.Quantity, snap.Price); err != nil {
			c.rollback(ctx, opCreate, reserved)
			return v, fail(err, opCreate, nil)
		}
	}

	if err := c.repo.Save(ctx, o); err != nil {
		c.rollback(ctx, opCreate, reserved)
		return v, fail(err, opCreate, nil)
	}

	prices := make([]orders.ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		prices = append(prices, orders.ItemPrice{VariantID: it.VariantID, Qty: it.Quantity, UnitPrice: it.UnitPrice})
	}
	c.publish(ctx, orders.EventOrderCreated, o.ID, orders.OrderCreatedPayload{
		OrderID: o.ID, ExternalID: o.ExternalID, UserID: o.UserID, Items: prices, TotalAmount: o.TotalAmount,
	})
	c.log.Info("order created",
		zap.String("order_id", o.ID), zap.String("user_id", o.UserID),
		zap.Int("lines", len(o.Items)), zap.String("total", o.TotalAmount.String()))
	return o.View(), nil
}

func (c *Coordinator) GetOrder(ctx context.Context, caller Caller, orderID string) (v orders.View, err error) {
	ctx, span := c.start(ctx, opGet, orderID)
	defer func() { finish(span, err) }()

	o, err := c.load(ctx, opGet, caller, orderID)
	if err != nil {
		return v, err
	}
	return o.View(), nil
}

// ListOrders returns every order for admins and the caller's own otherwise.
func (c *Coordinator) ListOrders(ctx context.Context, caller Caller) (out []orders.Summary, err error) {
	ctx, span := c.start(ctx, opList, "")
	defer func() { finish(span, err) }()

	userID := caller.UserID
	if caller.Admin {
		userID = ""
	}
	list, err := c.repo.List(ctx, userID)
	if err != nil {
		return nil, fail(err, opList, nil)
	}
	out = make([]orders.Summary, 0, len(list))
	for _, o := range list {
		out = append(out, o.Summary())
	}
	return out, nil
}

// AddItem reserves qty of the variant and appends it, merging into an
// existing line for the same variant. A merged line keeps its original price
// snapshot.
func (c *Coordinator) AddItem(ctx context.Context, caller Caller, orderID string, in LineInput) (v orders.View, err error) {
	ctx, span := c.start(ctx, opAddItem, orderID)
	defer func() { finish(span, err) }()

	if err := validateLine(opAddItem, in); err != nil {
		return v, err
	}
	unlock := c.locks.Lock(orderID)
	defer unlock()

	o, err := c.load(ctx, opAddItem, caller, orderID)
	if err != nil {
		return v, err
	}
	if !o.Status.Modifiable() {
		return v, notModifiable(opAddItem, o)
	}

	if err := c.ledger.ValidateStock(ctx, in.VariantID, in.Quantity); err != nil {
		return v, fail(err, opAddItem, o)
	}
	snap, err := c.ledger.ReserveStock(ctx, in.VariantID, in.Quantity)
	if err != nil {
		return v, fail(err, opAddItem, o)
	}
	reserved := []orders.ItemQty{{VariantID: in.VariantID, Qty: in.Quantity}}

	next := o.Clone()
	if existing, ok := next.ItemByVariant(in.VariantID); ok {
		_, err = next.UpdateItemQuantity(existing.ID, existing.Quantity+in.Quantity)
	} else {
		_, err = next.AddItem(snap.Snapshot(), in.Quantity, snap.Price)
	}
	if err == nil {
		err = c.commit(ctx, next)
	}
	if err != nil {
		c.rollback(ctx, opAddItem, reserved)
		return v, fail(err, opAddItem, o)
	}

	c.publish(ctx, orders.EventItemsChanged, orderID, orders.ItemsChangedPayload{
		OrderID: orderID, Reserved: reserved, TotalAmount: next.TotalAmount,
	})
	c.log.Info("item added",
		zap.String("order_id", orderID), zap.String("variant_id", in.VariantID), zap.Int("qty", in.Quantity))
	return next.View(), nil
}

// UpdateItemQuantity moves a line to qty. qty <= 0 removes the line.
func (c *Coordinator) UpdateItemQuantity(ctx context.Context, caller Caller, orderID, itemID string, qty int) (v orders.View, err error) {
	if qty <= 0 {
		return c.RemoveItem(ctx, caller, orderID, itemID)
	}
	ctx, span := c.start(ctx, opUpdateItemQty, orderID)
	defer func() { finish(span, err) }()

	unlock := c.locks.Lock(orderID)
	defer unlock()

	o, err := c.load(ctx, opUpdateItemQty, caller, orderID)
	if err != nil {
		return v, err
	}
	if !o.Status.Modifiable() {
		return v, notModifiable(opUpdateItemQty, o)
	}
	item, ok := o.Item(itemID)
	if !ok {
		return v, &orders.Error{Kind: orders.ErrNotFound, Op: opUpdateItemQty, Resource: "item", ID: itemID, Current: o.Status}
	}

	oldQty := item.Quantity
	if qty > oldQty {
		if err := c.ledger.AdjustStock(ctx, item.VariantID, oldQty, qty); err != nil {
			return v, fail(err, opUpdateItemQty, o)
		}
	}

	next := o.Clone()
	if _, err = next.UpdateItemQuantity(itemID, qty); err == nil {
		err = c.commit(ctx, next)
	}
	if err != nil {
		if qty > oldQty {
			c.rollback(ctx, opUpdateItemQty, []orders.ItemQty{{VariantID: item.VariantID, Qty: qty - oldQty}})
		}
		return v, fail(err, opUpdateItemQty, o)
	}

	payload := orders.ItemsChangedPayload{OrderID: orderID, TotalAmount: next.TotalAmount}
	switch {
	case qty > oldQty:
		payload.Reserved = []orders.ItemQty{{VariantID: item.VariantID, Qty: qty - oldQty}}
	case qty < oldQty:
		if err := c.ledger.AdjustStock(ctx, item.VariantID, oldQty, qty); err != nil {
			c.log.Warn("release after commit failed",
				zap.String("op", opUpdateItemQty), zap.String("order_id", orderID),
				zap.String("variant_id", item.VariantID), zap.Error(err))
		}
		payload.Released = []orders.ItemQty{{VariantID: item.VariantID, Qty: oldQty - qty}}
	}
	c.publish(ctx, orders.EventItemsChanged, orderID, payload)
	c.log.Info("item quantity updated",
		zap.String("order_id", orderID), zap.String("item_id", itemID), zap.Int("old_qty", oldQty), zap.Int("qty", qty))
	return next.View(), nil
}

func (c *Coordinator) RemoveItem(ctx context.Context, caller Caller, orderID, itemID string) (v orders.View, err error) {
	ctx, span := c.start(ctx, opRemoveItem, orderID)
	defer func() { finish(span, err) }()

	unlock := c.locks.Lock(orderID)
	defer unlock()

	o, err := c.load(ctx, opRemoveItem, caller, orderID)
	if err != nil {
		return v, err
	}
	if !o.Status.Modifiable() {
		return v, notModifiable(opRemoveItem, o)
	}

	next := o.Clone()
	removed, err := next.RemoveItem(itemID)
	if err != nil {
		return v, fail(err, opRemoveItem, o)
	}
	if err := c.commit(ctx, next); err != nil {
		return v, fail(err, opRemoveItem, o)
	}

	released := itemQtys([]orders.OrderItem{removed})
	c.release(ctx, opRemoveItem, orderID, released)
	c.publish(ctx, orders.EventItemsChanged, orderID, orders.ItemsChangedPayload{
		OrderID: orderID, Released: released, TotalAmount: next.TotalAmount,
	})
	c.log.Info("item removed",
		zap.String("order_id", orderID), zap.String("item_id", itemID),
		zap.String("variant_id", removed.VariantID), zap.Int("qty", removed.Quantity))
	return next.View(), nil
}

func (c *Coordinator) ClearItems(ctx context.Context, caller Caller, orderID string) (v orders.View, err error) {
	ctx, span := c.start(ctx, opClearItems, orderID)
	defer func() { finish(span, err) }()

	unlock := c.locks.Lock(orderID)
	defer unlock()

	o, err := c.load(ctx, opClearItems, caller, orderID)
	if err != nil {
		return v, err
	}
	if !o.Status.Modifiable() {
		return v, notModifiable(opClearItems, o)
	}

	next := o.Clone()
	released := itemQtys(next.ClearItems())
	if err := c.commit(ctx, next); err != nil {
		return v, fail(err, opClearItems, o)
	}

	c.release(ctx, opClearItems, orderID, released)
	c.publish(ctx, orders.EventItemsChanged, orderID, orders.ItemsChangedPayload{
		OrderID: orderID, Released: released, TotalAmount: next.TotalAmount,
	})
	c.log.Info("items cleared", zap.String("order_id", orderID), zap.Int("lines", len(released)))
	return next.View(), nil
}

// ConfirmOrder moves a PENDING order to CREATED. Stock is already held, so
// only variant availability is re-checked.
func (c *Coordinator) ConfirmOrder(ctx context.Context, caller Caller, orderID string) (v orders.View, err error) {
	ctx, span := c.start(ctx, opConfirm, orderID)
	defer func() { finish(span, err) }()

	unlock := c.locks.Lock(orderID)
	defer unlock()

	o, err := c.load(ctx, opConfirm, caller, orderID)
	if err != nil {
		return v, err
	}
	if o.Status != orders.StatusPending {
		return v, orders.InvalidTransition(opConfirm, o.Status, orders.StatusCreated)
	}
	if len(o.Items) == 0 {
		return v, &orders.Error{Kind: orders.ErrEmptyOrder, Op: opConfirm, Resource: "order", ID: orderID, Current: o.Status}
	}
	for _, it := range o.Items {
		vr, err := c.ledger.GetVariant(ctx, it.VariantID)
		switch {
		case errors.Is(err, orders.ErrNotFound):
			return v, &orders.Error{Kind: orders.ErrVariantUnavailable, Op: opConfirm, Resource: "order", ID: orderID,
				VariantID: it.VariantID, Current: o.Status, Msg: "variant " + it.SKU + " no longer exists"}
		case err != nil:
			return v, fail(err, opConfirm, o)
		case !vr.Active:
			return v, &orders.Error{Kind: orders.ErrVariantUnavailable, Op: opConfirm, Resource: "order", ID: orderID,
				VariantID: it.VariantID, Current: o.Status, Msg: "variant " + vr.SKU + " is no longer available"}
		}
	}

	next := o.Clone()
	if err := next.TransitionTo(opConfirm, orders.StatusCreated); err != nil {
		return v, err
	}
	if err := c.commit(ctx, next); err != nil {
		return v, fail(err, opConfirm, o)
	}
	c.publishStatus(ctx, orders.EventOrderConfirmed, o.Status, next, "")
	c.log.Info("order confirmed", zap.String("order_id", orderID))
	return next.View(), nil
}

// CancelOrder releases every line and moves the order to CANCELLED. The
// reason is stored for audit only.
func (c *Coordinator) CancelOrder(ctx context.Context, caller Caller, orderID, reason string) (v orders.View, err error) {
	ctx, span := c.start(ctx, opCancel, orderID)
	defer func() { finish(span, err) }()

	unlock := c.locks.Lock(orderID)
	defer unlock()

	o, err := c.load(ctx, opCancel, caller, orderID)
	if err != nil {
		return v, err
	}
	next := o.Clone()
	if err := next.TransitionTo(opCancel, orders.StatusCancelled); err != nil {
		return v, err
	}
	next.CancelReason = reason
	if err := c.commit(ctx, next); err != nil {
		return v, fail(err, opCancel, o)
	}

	c.release(ctx, opCancel, orderID, itemQtys(next.Items))
	c.publishStatus(ctx, orders.EventOrderCancelled, o.Status, next, reason)
	c.log.Info("order cancelled",
		zap.String("order_id", orderID), zap.String("from", string(o.Status)), zap.String("reason", reason))
	return next.View(), nil
}

// MarkAsPaid records a successful payment. A PENDING order passes through
// CREATED on its way to PAID so only table edges are taken.
func (c *Coordinator) MarkAsPaid(ctx context.Context, orderID, transactionID string) (v orders.View, err error) {
	ctx, span := c.start(ctx, opMarkPaid, orderID)
	defer func() { finish(span, err) }()

	unlock := c.locks.Lock(orderID)
	defer unlock()

	o, err := c.load(ctx, opMarkPaid, System, orderID)
	if err != nil {
		return v, err
	}
	if o.Status != orders.StatusPending && o.Status != orders.StatusCreated {
		return v, orders.InvalidTransition(opMarkPaid, o.Status, orders.StatusPaid)
	}

	next := o.Clone()
	if next.Status == orders.StatusPending {
		if err := next.TransitionTo(opMarkPaid, orders.StatusCreated); err != nil {
			return v, err
		}
	}
	if err := next.TransitionTo(opMarkPaid, orders.StatusPaid); err != nil {
		return v, err
	}
	next.PaymentStatus = orders.PaymentPaid
	next.TransactionID = transactionID
	if err := c.commit(ctx, next); err != nil {
		return v, fail(err, opMarkPaid, o)
	}

	c.publishStatus(ctx, orders.EventOrderPaid, o.Status, next, "")
	c.log.Info("order paid", zap.String("order_id", orderID), zap.String("transaction_id", transactionID))
	return next.View(), nil
}

// MarkPaymentFailed records a failed payment attempt without changing the
// order status. Only unpaid orders accept it.
func (c *Coordinator) MarkPaymentFailed(ctx context.Context, orderID, reason string) (v orders.View, err error) {
	ctx, span := c.start(ctx, opPaymentFailed, orderID)
	defer func() { finish(span, err) }()

	unlock := c.locks.Lock(orderID)
	defer unlock()

	o, err := c.load(ctx, opPaymentFailed, System, orderID)
	if err != nil {
		return v, err
	}
	if o.Status != orders.StatusPending && o.Status != orders.StatusCreated {
		e := orders.InvalidTransition(opPaymentFailed, o.Status, "")
		e.Resource, e.ID, e.Msg = "order", orderID, "payment can only fail before the order is paid"
		return v, e
	}

	next := o.Clone()
	next.PaymentStatus = orders.PaymentFailed
	if err := c.commit(ctx, next); err != nil {
		return v, fail(err, opPaymentFailed, o)
	}
	c.publishStatus(ctx, orders.EventPaymentFailed, o.Status, next, reason)
	c.log.Info("payment failed", zap.String("order_id", orderID), zap.String("reason", reason))
	return next.View(), nil
}

func (c *Coordinator) MarkAsShipped(ctx context.Context, orderID string) (orders.View, error) {
	return c.advance(ctx, opMarkShipped, orderID, orders.StatusShipped, orders.EventOrderShipped)
}

func (c *Coordinator) MarkAsDelivered(ctx context.Context, orderID string) (orders.View, error) {
	return c.advance(ctx, opMarkDelivered, orderID, orders.StatusDelivered, orders.EventOrderDelivered)
}

// advance performs a plain status transition with no stock side effects.
func (c *Coordinator) advance(ctx context.Context, op, orderID string, to orders.Status, eventType string) (v orders.View, err error) {
	ctx, span := c.start(ctx, op, orderID)
	defer func() { finish(span, err) }()

	unlock := c.locks.Lock(orderID)
	defer unlock()

	o, err := c.load(ctx, op, System, orderID)
	if err != nil {
		return v, err
	}
	next := o.Clone()
	if err := next.TransitionTo(op, to); err != nil {
		return v, err
	}
	if err := c.commit(ctx, next); err != nil {
		return v, fail(err, op, o)
	}
	c.publishStatus(ctx, eventType, o.Status, next, "")
	c.log.Info("order status changed",
		zap.String("order_id", orderID), zap.String("from", string(o.Status)), zap.String("to", string(to)))
	return next.View(), nil
}

// UpdateStatus is the admin entry point. It validates the edge and then runs
// the workflow that owns the target status so its side effects apply.
func (c *Coordinator) UpdateStatus(ctx context.Context, orderID string, target orders.Status, note string) (orders.View, error) {
	if !target.Valid() {
		return orders.View{}, orders.InvalidArgument(opUpdateStatus, "unknown status "+string(target))
	}
	o, err := c.load(ctx, opUpdateStatus, System, orderID)
	if err != nil {
		return orders.View{}, err
	}
	if !orders.CanTransition(o.Status, target) {
		e := orders.InvalidTransition(opUpdateStatus, o.Status, target)
		e.Resource, e.ID = "order", orderID
		return orders.View{}, e
	}
	switch target {
	case orders.StatusCreated:
		return c.ConfirmOrder(ctx, System, orderID)
	case orders.StatusPaid:
		return c.MarkAsPaid(ctx, orderID, note)
	case orders.StatusShipped:
		return c.MarkAsShipped(ctx, orderID)
	case orders.StatusDelivered:
		return c.MarkAsDelivered(ctx, orderID)
	case orders.StatusCancelled:
		return c.CancelOrder(ctx, System, orderID, note)
	}
	return orders.View{}, orders.InvalidTransition(opUpdateStatus, o.Status, target)
}

// DeleteOrder removes a non-terminal order and then releases its stock.
func (c *Coordinator) DeleteOrder(ctx context.Context, caller Caller, orderID string) (err error) {
	ctx, span := c.start(ctx, opDelete, orderID)
	defer func() { finish(span, err) }()

	unlock := c.locks.Lock(orderID)
	defer unlock()

	o, err := c.load(ctx, opDelete, caller, orderID)
	if err != nil {
		return err
	}
	if o.Status.Terminal() {
		return &orders.Error{Kind: orders.ErrOrderNotModifiable, Op: opDelete, Resource: "order", ID: orderID,
			Current: o.Status, Msg: "terminal orders are kept as the permanent record"}
	}
	// Delete before releasing: once the row is gone no other writer can
	// cancel it and release the same stock a second time.
	if err := c.repo.Delete(ctx, o); err != nil {
		return fail(err, opDelete, o)
	}

	released := itemQtys(o.Items)
	c.release(ctx, opDelete, orderID, released)
	c.publish(ctx, orders.EventOrderDeleted, orderID, orders.OrderDeletedPayload{OrderID: orderID, Released: released})
	c.log.Info("order deleted", zap.String("order_id", orderID), zap.String("status", string(o.Status)))
	return nil
}

// RecalculateTotal re-derives the total and persists it only if it drifted.
func (c *Coordinator) RecalculateTotal(ctx context.Context, caller Caller, orderID string) (v orders.View, err error) {
	ctx, span := c.start(ctx, opRecalculate, orderID)
	defer func() { finish(span, err) }()

	unlock := c.locks.Lock(orderID)
	defer unlock()

	o, err := c.load(ctx, opRecalculate, caller, orderID)
	if err != nil {
		return v, err
	}
	before := o.TotalAmount
	if after := o.RecalculateTotal(); !after.Equal(before) {
		if err := c.commit(ctx, o); err != nil {
			return v, fail(err, opRecalculate, o)
		}
		c.log.Warn("order total drift corrected",
			zap.String("order_id", orderID), zap.String("before", before.String()), zap.String("after", after.String()))
	}
	return o.View(), nil
}

func (c *Coordinator) CheckStock(ctx context.Context, variantID string, qty int) (bool, error) {
	return c.ledger.HasStock(ctx, variantID, qty)
}

// IsVariantAvailable reports whether the variant exists, is active and has
// at least one unit.
func (c *Coordinator) IsVariantAvailable(ctx context.Context, variantID string) bool {
	vr, err := c.ledger.GetVariant(ctx, variantID)
	if err != nil {
		return false
	}
	return vr.Active && vr.Stock > 0
}

func (c *Coordinator) publishStatus(ctx context.Context, eventType string, from orders.Status, o *orders.Order, reason string) {
	c.publish(ctx, eventType, o.ID, orders.StatusChangedPayload{
		OrderID:       o.ID,
		From:          from,
		To:            o.Status,
		PaymentStatus: o.PaymentStatus,
		TransactionID: o.TransactionID,
		Reason:        reason,
	})
}
