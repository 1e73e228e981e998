package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLockProvider implements LockProvider using SET NX with an expiry
type RedisLockProvider struct {
	client *redis.Client
	prefix string
}

func NewRedisLockProvider(client *redis.Client) *RedisLockProvider {
	return &RedisLockProvider{client: client, prefix: "ownmailer:schedule_lock:"}
}

func (r *RedisLockProvider) GetLock(ctx context.Context, name string, duration time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+name, "locked", duration).Result()
}

func (r *RedisLockProvider) ReleaseLock(ctx context.Context, name string) error {
	return r.client.Del(ctx, r.prefix+name).Err()
}

// MemoryLockProvider serves a single process, such as one running on an
// in-memory store.
type MemoryLockProvider struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

func NewMemoryLockProvider() *MemoryLockProvider {
	return &MemoryLockProvider{locks: map[string]time.Time{}, now: time.Now}
}

func (m *MemoryLockProvider) GetLock(ctx context.Context, name string, duration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if until, held := m.locks[name]; held && until.After(now) {
		return false, nil
	}
	m.locks[name] = now.Add(duration)
	return true, nil
}

func (m *MemoryLockProvider) ReleaseLock(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, name)
	return nil
}
