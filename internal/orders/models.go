package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID              string
	ExternalID      string // client idempotency key, optional
	UserID          string
	Items           []OrderItem // owned; insertion order is display order
	TotalAmount     decimal.Decimal
	Status          Status
	PaymentStatus   string
	TransactionID   string
	ShippingAddress string
	PaymentMethod   string
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	// Version counts committed saves. Zero means never saved. Save succeeds
	// only against the version the order was loaded at.
	Version int64
}

// OrderItem references its variant by id only. The display fields are a
// snapshot taken at reservation time so order history survives catalog edits.
type OrderItem struct {
	ID          string
	OrderID     string
	VariantID   string
	SKU         string
	ProductName string
	Color       string
	Size        string
	Quantity    int
	UnitPrice   decimal.Decimal
}

func (it OrderItem) Subtotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// VariantName is "color / size", falling back to the SKU when both are blank.
func (it OrderItem) VariantName() string {
	name := it.Color
	if it.Size != "" {
		if name != "" {
			name += " / "
		}
		name += it.Size
	}
	if name == "" {
		return it.SKU
	}
	return name
}

// ItemSnapshot is the catalog data copied into a new line.
type ItemSnapshot struct {
	VariantID   string
	SKU         string
	ProductName string
	Color       string
	Size        string
}
