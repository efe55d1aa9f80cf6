package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// View is the read-only projection returned by every workflow.
type View struct {
	ID              string          `json:"id"`
	ExternalID      string          `json:"external_id,omitempty"`
	UserID          string          `json:"user_id"`
	Items           []ItemView      `json:"items"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          Status          `json:"status"`
	ShippingAddress string          `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentStatus   string          `json:"payment_status"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ItemCount       int             `json:"item_count"`
}

type ItemView struct {
	ID          string          `json:"id"`
	VariantID   string          `json:"variant_id"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name"`
	Color       string          `json:"color,omitempty"`
	Size        string          `json:"size,omitempty"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// Summary is the lightweight listing form.
type Summary struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      Status          `json:"status"`
	ItemCount   int             `json:"item_count"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (o *Order) View() View {
	items := make([]ItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemView{
			ID:          it.ID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			VariantName: it.VariantName(),
			Color:       it.Color,
			Size:        it.Size,
			SKU:         it.SKU,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Subtotal:    it.Subtotal(),
		})
	}
	return View{
		ID:              o.ID,
		ExternalID:      o.ExternalID,
		UserID:          o.UserID,
		Items:           items,
		TotalAmount:     o.TotalAmount,
		Status:          o.Status,
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   o.PaymentMethod,
		PaymentStatus:   o.PaymentStatus,
		TransactionID:   o.TransactionID,
		CancelReason:    o.CancelReason,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		ItemCount:       len(o.Items),
	}
}

func (o *Order) Summary() Summary {
	return Summary{
		ID:          o.ID,
		UserID:      o.UserID,
		TotalAmount: o.TotalAmount,
		Status:      o.Status,
		ItemCount:   len(o.Items),
		CreatedAt:   o.CreatedAt,
	}
}
