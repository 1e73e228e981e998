package schedule

import (
	"context"
	"time"
)

// LockProvider hands out named locks shared by every process that runs the
// scheduler.
type LockProvider interface {
	// GetLock reports whether the lock was acquired. It does not wait.
	GetLock(ctx context.Context, name string, duration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
}

// Task is the unit of scheduled work.
type Task func(ctx context.Context) error
