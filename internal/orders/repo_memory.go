package orders

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo keeps deep copies so callers never share item slices with the
// store.
type MemoryRepo struct {
	mu sync.RWMutex
	m  map[string]*Order
}

var _ Repository = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{m: make(map[string]*Order)}
}

func (r *MemoryRepo) Get(_ context.Context, orderID string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.m[orderID]
	if !ok {
		return nil, NotFound("order", orderID)
	}
	return o.Clone(), nil
}

func (r *MemoryRepo) FindByExternalID(_ context.Context, userID, externalID string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.m {
		if o.UserID == userID && o.ExternalID == externalID && externalID != "" {
			return o.Clone(), nil
		}
	}
	return nil, NotFound("order", externalID)
}

func (r *MemoryRepo) Save(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.m[o.ID]
	if ok != (o.Version > 0) || ok && cur.Version != o.Version {
		return Conflict(o.ID, o.Version)
	}
	o.Version++
	r.m[o.ID] = o.Clone()
	return nil
}

func (r *MemoryRepo) Delete(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.m[o.ID]
	if !ok {
		return NotFound("order", o.ID)
	}
	if cur.Version != o.Version {
		return Conflict(o.ID, o.Version)
	}
	delete(r.m, o.ID)
	return nil
}

func (r *MemoryRepo) List(_ context.Context, userID string) ([]*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Order, 0, len(r.m))
	for _, o := range r.m {
		if userID == "" || o.UserID == userID {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
