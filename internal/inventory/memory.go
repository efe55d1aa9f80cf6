package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

type record struct {
	mu sync.Mutex
	v  Variant
}

// MemoryLedger guards each variant with its own mutex. The map lock is only
// held for lookups, so different variants never contend.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time
}

var (
	_ Ledger  = (*MemoryLedger)(nil)
	_ Catalog = (*MemoryLedger)(nil)
)

func NewMemoryLedger(variants ...Variant) *MemoryLedger {
	l := &MemoryLedger{records: make(map[string]*record), now: time.Now}
	for _, v := range variants {
		_ = l.UpsertVariant(context.Background(), v)
	}
	return l
}

func (l *MemoryLedger) lookup(id string) (*record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.records[id]
	return r, ok
}

func (l *MemoryLedger) HasStock(_ context.Context, variantID string, qty int) (bool, error) {
	if err := checkQty("hasStock", qty); err != nil {
		return false, err
	}
	r, ok := l.lookup(variantID)
	if !ok {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.v.Stock >= qty, nil
}

func (l *MemoryLedger) ValidateStock(_ context.Context, variantID string, qty int) error {
	if err := checkQty("validateStock", qty); err != nil {
		return err
	}
	r, ok := l.lookup(variantID)
	if !ok {
		return variantNotFound("validateStock", variantID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return check("validateStock", r.v, qty)
}

func (l *MemoryLedger) ReserveStock(_ context.Context, variantID string, qty int) (Variant, error) {
	if err := checkQty("reserveStock", qty); err != nil {
		return Variant{}, err
	}
	r, ok := l.lookup(variantID)
	if !ok {
		return Variant{}, variantNotFound("reserveStock", variantID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := check("reserveStock", r.v, qty); err != nil {
		return Variant{}, err
	}
	snap := r.v
	r.v.Stock -= qty
	r.v.UpdatedAt = l.now()
	return snap, nil
}

func (l *MemoryLedger) ReleaseStock(_ context.Context, variantID string, qty int) error {
	if err := checkQty("releaseStock", qty); err != nil {
		return err
	}
	r, ok := l.lookup(variantID)
	if !ok {
		return variantNotFound("releaseStock", variantID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.v.Stock += qty
	r.v.UpdatedAt = l.now()
	return nil
}

func (l *MemoryLedger) AdjustStock(ctx context.Context, variantID string, oldQty, newQty int) error {
	return adjust(ctx, l, variantID, oldQty, newQty)
}

func (l *MemoryLedger) GetVariant(_ context.Context, variantID string) (Variant, error) {
	r, ok := l.lookup(variantID)
	if !ok {
		return Variant{}, variantNotFound("getVariant", variantID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.v, nil
}

func (l *MemoryLedger) UpsertVariant(_ context.Context, v Variant) error {
	if v.ID == "" {
		return orders.InvalidArgument("upsertVariant", "variant id is required")
	}
	if v.Stock < 0 {
		return orders.InvalidArgument("upsertVariant", "stock must not be negative")
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = l.now()
	}
	l.mu.Lock()
	r, ok := l.records[v.ID]
	if !ok {
		l.records[v.ID] = &record{v: v}
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	r.mu.Lock()
	r.v = v
	r.mu.Unlock()
	return nil
}

func (l *MemoryLedger) SetActive(_ context.Context, variantID string, active bool) error {
	r, ok := l.lookup(variantID)
	if !ok {
		return variantNotFound("setActive", variantID)
	}
	r.mu.Lock()
	r.v.Active = active
	r.v.UpdatedAt = l.now()
	r.mu.Unlock()
	return nil
}

func (l *MemoryLedger) ListVariants(_ context.Context) ([]Variant, error) {
	l.mu.RLock()
	recs := make([]*record, 0, len(l.records))
	for _, r := range l.records {
		recs = append(recs, r)
	}
	l.mu.RUnlock()

	out := make([]Variant, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		out = append(out, r.v)
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}
