package schedule

import (
	"sync"
)

var (
	globalKernel *Kernel
	mu           sync.Mutex
)

// SetGlobalKernel sets the global kernel instance
func SetGlobalKernel(k *Kernel) {
	mu.Lock()
	defer mu.Unlock()
	globalKernel = k
}

// GetGlobalKernel returns the global kernel, creating one without a lock
// provider if none was set.
func GetGlobalKernel() *Kernel {
	mu.Lock()
	defer mu.Unlock()
	if globalKernel == nil {
		globalKernel = NewKernel(nil)
	}
	return globalKernel
}

// Register adds a task to the global scheduler
func Register(schedule string, task Task, opts ...JobOption) error {
	return GetGlobalKernel().Register(schedule, task, opts...)
}
