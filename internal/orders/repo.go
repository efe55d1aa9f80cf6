package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists order aggregates. Get and FindByExternalID return a
// typed NotFound error when nothing matches; everything else is an opaque
// persistence failure.
//
// Save and Delete are conditional on o.Version: they fail with a typed
// Conflict when the stored order moved past the version o was loaded at, so
// writers in different processes cannot overwrite each other. A successful
// Save bumps o.Version.
type Repository interface {
	Get(ctx context.Context, orderID string) (*Order, error)
	FindByExternalID(ctx context.Context, userID, externalID string) (*Order, error)
	Save(ctx context.Context, o *Order) error
	Delete(ctx context.Context, o *Order) error
	// List returns orders newest first; an empty userID lists every order.
	List(ctx context.Context, userID string) ([]*Order, error)
}

type Repo struct{ DB *pgxpool.Pool }

var _ Repository = (*Repo)(nil)

const orderColumns = `id, COALESCE(external_id, ''), user_id, status, payment_status, transaction_id,
	shipping_address, payment_method, cancel_reason, total_amount::text, created_at, updated_at, version`

func (r *Repo) Get(ctx context.Context, orderID string) (*Order, error) {
	o, err := r.queryOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFound("order", orderID)
	}
	return o, err
}

func (r *Repo) FindByExternalID(ctx context.Context, userID, externalID string) (*Order, error) {
	o, err := r.queryOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 AND external_id=$2`, userID, externalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFound("order", externalID)
	}
	return o, err
}

func (r *Repo) queryOne(ctx context.Context, sql string, args ...any) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o     Order
		st    string
		total string
	)
	if err := row.Scan(&o.ID, &o.ExternalID, &o.UserID, &st, &o.PaymentStatus, &o.TransactionID,
		&o.ShippingAddress, &o.PaymentMethod, &o.CancelReason, &total, &o.CreatedAt, &o.UpdatedAt, &o.Version); err != nil {
		return nil, err
	}
	o.Status = Status(st)
	amt, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	o.TotalAmount = amt
	o.Items = []OrderItem{}
	return &o, nil
}

func (r *Repo) loadItems(ctx context.Context, o *Order) error {
	rows, err := r.DB.Query(ctx, `
		SELECT id, variant_id, sku, product_name, color, size, quantity, unit_price::text
		FROM order_items WHERE order_id=$1 ORDER BY position`, o.ID)
	if err != nil {
		return fmt.Errorf("load items of %s: %w", o.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		it := OrderItem{OrderID: o.ID}
		var price string
		if err := rows.Scan(&it.ID, &it.VariantID, &it.SKU, &it.ProductName, &it.Color, &it.Size, &it.Quantity, &price); err != nil {
			return err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("item %s unit price: %w", it.ID, err)
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

// Save inserts a new order or updates the row still at o.Version, and
// replaces its item rows, in one transaction.
func (r *Repo) Save(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ct pgconn.CommandTag
	if o.Version == 0 {
		ct, err = tx.Exec(ctx, `
			INSERT INTO orders(id, external_id, user_id, status, payment_status, transaction_id,
				shipping_address, payment_method, cancel_reason, total_amount, created_at, updated_at, version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::numeric,$11,$12,1)
			ON CONFLICT (id) DO NOTHING`,
			o.ID, nullable(o.ExternalID), o.UserID, string(o.Status), o.PaymentStatus, o.TransactionID,
			o.ShippingAddress, o.PaymentMethod, o.CancelReason, o.TotalAmount.String(), o.CreatedAt, o.UpdatedAt)
	} else {
		ct, err = tx.Exec(ctx, `
			UPDATE orders SET
				status=$2, payment_status=$3, transaction_id=$4, shipping_address=$5,
				payment_method=$6, cancel_reason=$7, total_amount=$8::numeric, updated_at=$9,
				version=version+1
			WHERE id=$1 AND version=$10`,
			o.ID, string(o.Status), o.PaymentStatus, o.TransactionID, o.ShippingAddress,
			o.PaymentMethod, o.CancelReason, o.TotalAmount.String(), o.UpdatedAt, o.Version)
	}
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	if ct.RowsAffected() == 0 {
		return Conflict(o.ID, o.Version)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, o.ID); err != nil {
		return fmt.Errorf("reset items of %s: %w", o.ID, err)
	}
	for i, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, position, variant_id, sku, product_name, color, size, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::numeric)`,
			it.ID, o.ID, i, it.VariantID, it.SKU, it.ProductName, it.Color, it.Size, it.Quantity, it.UnitPrice.String())
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.Version++
	return nil
}

func (r *Repo) Delete(ctx context.Context, o *Order) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE id=$1 AND version=$2`, o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("delete order %s: %w", o.ID, err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, o.ID).Scan(&exists); err != nil {
		return fmt.Errorf("delete order %s: %w", o.ID, err)
	}
	if exists {
		return Conflict(o.ID, o.Version)
	}
	return NotFound("order", o.ID)
}

func (r *Repo) List(ctx context.Context, userID string) ([]*Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders`
	var args []any
	if userID != "" {
		sql += ` WHERE user_id=$1`
		args = append(args, userID)
	}
	sql += ` ORDER BY created_at DESC`

	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range out {
		if err := r.loadItems(ctx, o); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
