package inventory

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/shopspring/decimal"
)

// Variant is the catalog record of one purchasable SKU. Stock is the only
// field the ledger mutates.
type Variant struct {
	ID          string          `json:"id"`
	SKU         string          `json:"sku"`
	ProductName string          `json:"product_name"`
	Color       string          `json:"color,omitempty"`
	Size        string          `json:"size,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Active      bool            `json:"active"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Snapshot copies the display fields an order line keeps.
func (v Variant) Snapshot() orders.ItemSnapshot {
	return orders.ItemSnapshot{
		VariantID:   v.ID,
		SKU:         v.SKU,
		ProductName: v.ProductName,
		Color:       v.Color,
		Size:        v.Size,
	}
}

// Ledger owns per-variant stock counters.
//
// Every mutating call on one variant is linearizable with every other
// mutating call on that variant; calls on different variants never block
// each other. There is no cross-variant atomicity.
type Ledger interface {
	// HasStock reports stock >= qty. Unknown variants report false.
	HasStock(ctx context.Context, variantID string, qty int) (bool, error)
	// ValidateStock fails with ErrVariantUnavailable or ErrOutOfStock.
	ValidateStock(ctx context.Context, variantID string, qty int) error
	// ReserveStock re-validates and decrements in one step and returns the
	// variant as it was at reservation time (for the price snapshot).
	ReserveStock(ctx context.Context, variantID string, qty int) (Variant, error)
	ReleaseStock(ctx context.Context, variantID string, qty int) error
	AdjustStock(ctx context.Context, variantID string, oldQty, newQty int) error
	GetVariant(ctx context.Context, variantID string) (Variant, error)
}

// Catalog is the management side used for seeding and admin tooling.
type Catalog interface {
	UpsertVariant(ctx context.Context, v Variant) error
	SetActive(ctx context.Context, variantID string, active bool) error
	ListVariants(ctx context.Context) ([]Variant, error)
}

func checkQty(op string, qty int) error {
	if qty < 1 {
		return orders.InvalidArgument(op, "quantity must be at least 1")
	}
	return nil
}

// check applies the reservation gate to a variant snapshot.
func check(op string, v Variant, qty int) error {
	if !v.Active {
		return &orders.Error{Kind: orders.ErrVariantUnavailable, Op: op, Resource: "variant", ID: v.ID, VariantID: v.ID,
			Msg: "variant " + v.SKU + " is not available for purchase"}
	}
	if v.Stock < qty {
		return &orders.Error{Kind: orders.ErrOutOfStock, Op: op, Resource: "variant", ID: v.ID, VariantID: v.ID,
			Requested: qty, Available: v.Stock}
	}
	return nil
}

func variantNotFound(op, variantID string) error {
	e := orders.NotFound("variant", variantID)
	e.Op, e.VariantID = op, variantID
	return e
}

// adjust is the shared delta logic for AdjustStock.
func adjust(ctx context.Context, l Ledger, variantID string, oldQty, newQty int) error {
	switch delta := newQty - oldQty; {
	case delta > 0:
		if err := l.ValidateStock(ctx, variantID, delta); err != nil {
			return err
		}
		_, err := l.ReserveStock(ctx, variantID, delta)
		return err
	case delta < 0:
		return l.ReleaseStock(ctx, variantID, -delta)
	}
	return nil
}
