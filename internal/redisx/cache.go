package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedRepo writes orders through to redis and serves reads from it. The
// wrapped repository stays the source of truth: any redis failure falls back
// to it, and a failed cache write evicts the key instead of leaving it stale.
//
// Each entry is a hash {v: version, d: JSON order}. Writes go through
// storeScript, which refuses to replace an entry with an older version, so a
// slow read-miss cannot overwrite what a later commit wrote. Deleted orders
// leave a tombstone for the cache TTL so a miss that read the row before the
// delete cannot bring it back.
type CachedRepo struct {
	next orders.Repository
	rdb  redis.Cmdable
	log  *zap.Logger
}

var _ orders.Repository = (*CachedRepo)(nil)

const (
	fieldData = "d"
	fieldGone = "gone"
)

// KEYS[1] order key; ARGV version, JSON, ttl ms.
var storeScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], 'gone') == 1 then
	return 0
end
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'd', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func NewCachedRepo(next orders.Repository, rdb redis.Cmdable, log *zap.Logger) *CachedRepo {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedRepo{next: next, rdb: rdb, log: log}
}

func orderKey(id string) string { return fmt.Sprintf(KeyOrder, id) }

func idemKey(userID, externalID string) string {
	return fmt.Sprintf(KeyIdemOrderCreate, userID, externalID)
}

func (r *CachedRepo) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	vals, err := r.rdb.HMGet(ctx, orderKey(orderID), fieldData, fieldGone).Result()
	switch {
	case err != nil:
		r.log.Warn("order cache read", zap.String("order_id", orderID), zap.Error(err))
	case vals[1] != nil:
		return nil, orders.NotFound("order", orderID)
	case vals[0] != nil:
		if s, ok := vals[0].(string); ok {
			var o orders.Order
			if jerr := json.Unmarshal([]byte(s), &o); jerr == nil {
				return &o, nil
			}
		}
		r.evict(ctx, orderID)
	}

	o, err := r.next.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	r.put(ctx, o)
	return o, nil
}

func (r *CachedRepo) FindByExternalID(ctx context.Context, userID, externalID string) (*orders.Order, error) {
	id, err := r.rdb.Get(ctx, idemKey(userID, externalID)).Result()
	if err == nil {
		if o, gerr := r.Get(ctx, id); gerr == nil {
			return o, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		r.log.Warn("idempotency read", zap.String("external_id", externalID), zap.Error(err))
	}
	return r.next.FindByExternalID(ctx, userID, externalID)
}

func (r *CachedRepo) Save(ctx context.Context, o *orders.Order) error {
	if err := r.next.Save(ctx, o); err != nil {
		// a conflict means the cached copy this save started from is stale
		r.evict(ctx, o.ID)
		return err
	}
	r.put(ctx, o)
	if o.ExternalID != "" {
		if err := r.rdb.Set(ctx, idemKey(o.UserID, o.ExternalID), o.ID, TTLIdempotency).Err(); err != nil {
			r.log.Warn("idempotency write", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	return nil
}

func (r *CachedRepo) Delete(ctx context.Context, o *orders.Order) error {
	if err := r.next.Delete(ctx, o); err != nil {
		if errors.Is(err, orders.ErrConflict) {
			r.evict(ctx, o.ID)
		}
		return err
	}
	key := orderKey(o.ID)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, fieldGone, 1)
		p.PExpire(ctx, key, TTLOrderCache)
		if o.ExternalID != "" {
			p.Del(ctx, idemKey(o.UserID, o.ExternalID))
		}
		return nil
	})
	if err != nil {
		r.log.Warn("order cache tombstone", zap.String("order_id", o.ID), zap.Error(err))
		r.evict(ctx, o.ID)
	}
	return nil
}

func (r *CachedRepo) List(ctx context.Context, userID string) ([]*orders.Order, error) {
	return r.next.List(ctx, userID)
}

// put caches o unless redis already holds the same or a newer version.
func (r *CachedRepo) put(ctx context.Context, o *orders.Order) {
	b, err := json.Marshal(o)
	if err == nil {
		err = storeScript.Run(ctx, r.rdb, []string{orderKey(o.ID)},
			o.Version, string(b), TTLOrderCache.Milliseconds()).Err()
	}
	if err != nil {
		r.log.Warn("order cache write", zap.String("order_id", o.ID), zap.Error(err))
		r.evict(ctx, o.ID)
	}
}

func (r *CachedRepo) evict(ctx context.Context, orderID string) {
	if err := r.rdb.Del(ctx, orderKey(orderID)).Err(); err != nil {
		r.log.Warn("order cache evict", zap.String("order_id", orderID), zap.Error(err))
	}
}
