package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewOrder returns an empty order in PENDING with a zero total.
func NewOrder(userID, shippingAddress, paymentMethod string, now time.Time) *Order {
	return &Order{
		ID:              uuid.NewString(),
		UserID:          userID,
		Items:           []OrderItem{},
		TotalAmount:     decimal.Zero,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		ShippingAddress: shippingAddress,
		PaymentMethod:   paymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy; workflows mutate the clone and only publish it
// once persisted.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = make([]OrderItem, len(o.Items))
	copy(cp.Items, o.Items)
	return &cp
}

func (o *Order) indexOf(itemID string) int {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (o *Order) Item(itemID string) (OrderItem, bool) {
	if i := o.indexOf(itemID); i >= 0 {
		return o.Items[i], true
	}
	return OrderItem{}, false
}

func (o *Order) ItemByVariant(variantID string) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.VariantID == variantID {
			return it, true
		}
	}
	return OrderItem{}, false
}

// AddItem appends a new line. Merging lines for the same variant is the
// caller's decision.
func (o *Order) AddItem(snap ItemSnapshot, qty int, unitPrice decimal.Decimal) (OrderItem, error) {
	if qty < 1 {
		return OrderItem{}, InvalidArgument("addItem", "quantity must be at least 1")
	}
	if unitPrice.IsNegative() {
		return OrderItem{}, InvalidArgument("addItem", "unit price must not be negative")
	}
	it := OrderItem{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		VariantID:   snap.VariantID,
		SKU:         snap.SKU,
		ProductName: snap.ProductName,
		Color:       snap.Color,
		Size:        snap.Size,
		Quantity:    qty,
		UnitPrice:   unitPrice,
	}
	o.Items = append(o.Items, it)
	o.RecalculateTotal()
	return it, nil
}

func (o *Order) RemoveItem(itemID string) (OrderItem, error) {
	i := o.indexOf(itemID)
	if i < 0 {
		return OrderItem{}, &Error{Kind: ErrNotFound, Op: "removeItem", Resource: "item", ID: itemID, Current: o.Status}
	}
	removed := o.Items[i]
	o.Items = append(o.Items[:i], o.Items[i+1:]...)
	o.RecalculateTotal()
	return removed, nil
}

// UpdateItemQuantity sets a line's quantity and returns the previous one.
// A quantity below 1 is rejected; removal is a separate operation.
func (o *Order) UpdateItemQuantity(itemID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, InvalidArgument("updateItemQuantity", "quantity must be positive, remove the item instead")
	}
	i := o.indexOf(itemID)
	if i < 0 {
		return 0, &Error{Kind: ErrNotFound, Op: "updateItemQuantity", Resource: "item", ID: itemID, Current: o.Status}
	}
	old := o.Items[i].Quantity
	o.Items[i].Quantity = qty
	o.RecalculateTotal()
	return old, nil
}

// ClearItems empties the order and returns the removed lines.
func (o *Order) ClearItems() []OrderItem {
	removed := o.Items
	o.Items = []OrderItem{}
	o.TotalAmount = decimal.Zero
	return removed
}

// RecalculateTotal re-derives TotalAmount from the current lines. It is
// idempotent.
func (o *Order) RecalculateTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	o.TotalAmount = total
	return total
}

// TransitionTo moves the order along one edge of the state machine.
func (o *Order) TransitionTo(op string, to Status) error {
	if !CanTransition(o.Status, to) {
		e := InvalidTransition(op, o.Status, to)
		e.Resource, e.ID = "order", o.ID
		return e
	}
	o.Status = to
	return nil
}
