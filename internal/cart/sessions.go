package cart

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
	"github.com/ariefcatur/go-pickup-orders/internal/redisx"
)

// Sessions stores one cart per client session.
type Sessions interface {
	Load(ctx context.Context, sessionID string) (*Cart, error)
	Save(ctx context.Context, sessionID string, c *Cart) error
	Delete(ctx context.Context, sessionID string) error
}

// RedisSessions keeps each cart in a hash cart:{session} -> product_id:qty
// with a sliding TTL.
type RedisSessions struct {
	Redis *redis.Client
	TTL   time.Duration
}

func NewRedisSessions(rdb *redis.Client) *RedisSessions {
	return &RedisSessions{Redis: rdb, TTL: redisx.TTLCart}
}

func (s *RedisSessions) Load(ctx context.Context, sessionID string) (*Cart, error) {
	m, err := s.Redis.HGetAll(ctx, fmt.Sprintf(redisx.KeyCart, sessionID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	c := New()
	for id, v := range m {
		q, err := strconv.Atoi(v)
		if err != nil || q <= 0 {
			continue
		}
		c.items[id] = q
	}
	return c, nil
}

func (s *RedisSessions) Save(ctx context.Context, sessionID string, c *Cart) error {
	key := fmt.Sprintf(redisx.KeyCart, sessionID)
	_, err := s.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		if c.Empty() {
			return nil
		}
		vals := make(map[string]any, len(c.items))
		for id, q := range c.items {
			vals[id] = q
		}
		p.HSet(ctx, key, vals)
		p.Expire(ctx, key, s.TTL)
		return nil
	})
	return errors.Wrap(err, "save cart")
}

func (s *RedisSessions) Delete(ctx context.Context, sessionID string) error {
	return errors.Wrap(s.Redis.Del(ctx, fmt.Sprintf(redisx.KeyCart, sessionID)).Err(), "delete cart")
}

// MemorySessions is the single-process variant used with the memory store.
type MemorySessions struct {
	mu    sync.Mutex
	carts map[string][]orders.Line
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{carts: map[string][]orders.Line{}}
}

func (s *MemorySessions) Load(_ context.Context, sessionID string) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FromLines(s.carts[sessionID]), nil
}

func (s *MemorySessions) Save(_ context.Context, sessionID string, c *Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Empty() {
		delete(s.carts, sessionID)
		return nil
	}
	s.carts[sessionID] = c.Lines()
	return nil
}

func (s *MemorySessions) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
	return nil
}
