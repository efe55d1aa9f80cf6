package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresLedger keeps stock on the product_variants row. Reserve locks the
// row (FOR UPDATE), re-validates and decrements inside one transaction, so
// the check and the write see the same stock. The CHECK (stock >= 0)
// constraint backs the invariant at the storage level.
type PostgresLedger struct{ DB *pgxpool.Pool }

var (
	_ Ledger  = (*PostgresLedger)(nil)
	_ Catalog = (*PostgresLedger)(nil)
)

const variantColumns = `id, sku, product_name, color, size, price::text, stock, active, updated_at`

func scanVariant(row pgx.Row) (Variant, error) {
	var (
		v     Variant
		price string
	)
	if err := row.Scan(&v.ID, &v.SKU, &v.ProductName, &v.Color, &v.Size, &price, &v.Stock, &v.Active, &v.UpdatedAt); err != nil {
		return Variant{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return Variant{}, fmt.Errorf("variant %s price: %w", v.ID, err)
	}
	v.Price = p
	return v, nil
}

func (l *PostgresLedger) get(ctx context.Context, q interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}, op, variantID string, forUpdate bool) (Variant, error) {
	sql := `SELECT ` + variantColumns + ` FROM product_variants WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	v, err := scanVariant(q.QueryRow(ctx, sql, variantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, variantNotFound(op, variantID)
	}
	if err != nil {
		return Variant{}, fmt.Errorf("%s %s: %w", op, variantID, err)
	}
	return v, nil
}

func (l *PostgresLedger) HasStock(ctx context.Context, variantID string, qty int) (bool, error) {
	if err := checkQty("hasStock", qty); err != nil {
		return false, err
	}
	var stock int
	err := l.DB.QueryRow(ctx, `SELECT stock FROM product_variants WHERE id=$1`, variantID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stock >= qty, nil
}

func (l *PostgresLedger) ValidateStock(ctx context.Context, variantID string, qty int) error {
	if err := checkQty("validateStock", qty); err != nil {
		return err
	}
	v, err := l.get(ctx, l.DB, "validateStock", variantID, false)
	if err != nil {
		return err
	}
	return check("validateStock", v, qty)
}

func (l *PostgresLedger) ReserveStock(ctx context.Context, variantID string, qty int) (Variant, error) {
	if err := checkQty("reserveStock", qty); err != nil {
		return Variant{}, err
	}
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Variant{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	v, err := l.get(ctx, tx, "reserveStock", variantID, true)
	if err != nil {
		return Variant{}, err
	}
	if err := check("reserveStock", v, qty); err != nil {
		return Variant{}, err
	}
	ct, err := tx.Exec(ctx, `UPDATE product_variants SET stock = stock - $2, updated_at = now() WHERE id=$1`, variantID, qty)
	if err != nil {
		return Variant{}, fmt.Errorf("reserve %s: %w", variantID, err)
	}
	if ct.RowsAffected() != 1 {
		return Variant{}, variantNotFound("reserveStock", variantID)
	}
	if err := tx.Commit(ctx); err != nil {
		return Variant{}, err
	}
	return v, nil
}

func (l *PostgresLedger) ReleaseStock(ctx context.Context, variantID string, qty int) error {
	if err := checkQty("releaseStock", qty); err != nil {
		return err
	}
	ct, err := l.DB.Exec(ctx, `UPDATE product_variants SET stock = stock + $2, updated_at = now() WHERE id=$1`, variantID, qty)
	if err != nil {
		return fmt.Errorf("release %s: %w", variantID, err)
	}
	if ct.RowsAffected() != 1 {
		return variantNotFound("releaseStock", variantID)
	}
	return nil
}

func (l *PostgresLedger) AdjustStock(ctx context.Context, variantID string, oldQty, newQty int) error {
	return adjust(ctx, l, variantID, oldQty, newQty)
}

func (l *PostgresLedger) GetVariant(ctx context.Context, variantID string) (Variant, error) {
	return l.get(ctx, l.DB, "getVariant", variantID, false)
}

func (l *PostgresLedger) UpsertVariant(ctx context.Context, v Variant) error {
	_, err := l.DB.Exec(ctx, `
		INSERT INTO product_variants(id, sku, product_name, color, size, price, stock, active)
		VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8)
		ON CONFLICT (id) DO UPDATE SET sku=EXCLUDED.sku, product_name=EXCLUDED.product_name,
			color=EXCLUDED.color, size=EXCLUDED.size, price=EXCLUDED.price,
			stock=EXCLUDED.stock, active=EXCLUDED.active, updated_at=now()`,
		v.ID, v.SKU, v.ProductName, v.Color, v.Size, v.Price.String(), v.Stock, v.Active)
	if err != nil {
		return fmt.Errorf("upsert variant %s: %w", v.ID, err)
	}
	return nil
}

func (l *PostgresLedger) SetActive(ctx context.Context, variantID string, active bool) error {
	ct, err := l.DB.Exec(ctx, `UPDATE product_variants SET active=$2, updated_at=now() WHERE id=$1`, variantID, active)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return variantNotFound("setActive", variantID)
	}
	return nil
}

func (l *PostgresLedger) ListVariants(ctx context.Context) ([]Variant, error) {
	rows, err := l.DB.Query(ctx, `SELECT `+variantColumns+` FROM product_variants ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
