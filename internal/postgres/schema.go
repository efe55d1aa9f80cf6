package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS product_variants (
		id           TEXT PRIMARY KEY,
		sku          TEXT NOT NULL UNIQUE,
		product_name TEXT NOT NULL,
		color        TEXT NOT NULL DEFAULT '',
		size         TEXT NOT NULL DEFAULT '',
		price        NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		stock        INTEGER NOT NULL CHECK (stock >= 0),
		active       BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id               TEXT PRIMARY KEY,
		external_id      TEXT,
		user_id          TEXT NOT NULL,
		status           TEXT NOT NULL,
		payment_status   TEXT NOT NULL DEFAULT 'PENDING',
		transaction_id   TEXT NOT NULL DEFAULT '',
		shipping_address TEXT NOT NULL,
		payment_method   TEXT NOT NULL,
		cancel_reason    TEXT NOT NULL DEFAULT '',
		total_amount     NUMERIC(14,2) NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL,
		version          BIGINT NOT NULL DEFAULT 1,
		UNIQUE (user_id, external_id)
	)`,
	`ALTER TABLE orders ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 1`,
	`CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id           TEXT PRIMARY KEY,
		order_id     TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		position     INTEGER NOT NULL,
		variant_id   TEXT NOT NULL,
		sku          TEXT NOT NULL,
		product_name TEXT NOT NULL,
		color        TEXT NOT NULL DEFAULT '',
		size         TEXT NOT NULL DEFAULT '',
		quantity     INTEGER NOT NULL CHECK (quantity > 0),
		unit_price   NUMERIC(12,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS order_items_order_idx ON order_items (order_id, position)`,
}

// Migrate creates the tables the ledger and the order repository use.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}
