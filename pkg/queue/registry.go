package queue

import (
	"fmt"
	"sort"
	"sync"
)

var (
	// registry maps an envelope source to the handler for its jobs
	registry = make(map[string]Handler)
	mu       sync.RWMutex
)

// Register adds the handler for jobs of the given source, replacing any
// previous one.
func Register(source string, handler Handler) {
	mu.Lock()
	defer mu.Unlock()
	registry[source] = handler
}

// GetHandler retrieves the handler for source
func GetHandler(source string) (Handler, error) {
	mu.RLock()
	defer mu.RUnlock()
	if handler, ok := registry[source]; ok {
		return handler, nil
	}
	return nil, fmt.Errorf("no handler registered for source %q", source)
}

// Sources lists the registered sources in order.
func Sources() []string {
	mu.RLock()
	defer mu.RUnlock()
	sources := make([]string, 0, len(registry))
	for s := range registry {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}
