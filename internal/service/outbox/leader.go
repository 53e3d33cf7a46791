package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLeaderKey — ключ блокировки публикации outbox.
	DefaultLeaderKey = "fulfillment:outbox:leader"
	defaultLeaderTTL = 30 * time.Second
)

// Leader разрешает публикацию одному инстансу за раз.
// ok=false означает, что цикл выполняет другой инстанс.
type Leader interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// RedisLeader: Leader поверх redislock.
type RedisLeader struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
}

// NewRedisLeader создаёт блокировку с ключом key и временем жизни ttl.
// TTL должен превышать длительность одного цикла публикации.
func NewRedisLeader(client redis.UniversalClient, key string, ttl time.Duration) *RedisLeader {
	if key == "" {
		key = DefaultLeaderKey
	}
	if ttl <= 0 {
		ttl = defaultLeaderTTL
	}
	return &RedisLeader{
		locker: redislock.New(client),
		key:    key,
		ttl:    ttl,
	}
}

func (l *RedisLeader) Acquire(ctx context.Context) (func(), bool, error) {
	lock, err := l.locker.Obtain(ctx, l.key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain outbox lock: %w", err)
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, true, nil
}

var _ Leader = (*RedisLeader)(nil)
