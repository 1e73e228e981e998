package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store represents a cache backend
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
	Flush(ctx context.Context) error
}

// Remember returns the cached value for key, or computes it with fn and
// caches it for ttl. Failures of the cache itself fall through to fn.
func Remember(ctx context.Context, s Store, key string, ttl time.Duration, fn func() (string, error)) (string, error) {
	if v, err := s.Get(ctx, key); err == nil {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return "", err
	}
	if err := s.Put(ctx, key, v, ttl); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return v, nil
}
