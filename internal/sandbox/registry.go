package sandbox

import (
	"context"
	"fmt"
	"sync"
)

// Key identifies a sandbox by its owning user and session (spec §4.3).
type Key struct {
	User    string
	Session string
}

// Factory builds a Driver for a key; the registry calls it at most once per
// key while the entry does not yet exist.
type Factory func(key Key) (Driver, error)

// entry is a registry-owned sandbox plus its outstanding-acquire count.
type entry struct {
	driver   Driver
	refcount int
}

// Registry dedupes sandboxes across concurrent sessions for the same
// (user, session) key and tears them down when no longer referenced.
// Refcount is the exact number of outstanding Acquire calls not yet paired
// with Release; Acquire/Release are safe to interleave across goroutines.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*entry
	factory Factory
	persist bool
}

// NewRegistry creates an empty registry. persist controls the stop-vs-remove
// policy applied when a sandbox's refcount reaches zero.
func NewRegistry(factory Factory, persist bool) *Registry {
	return &Registry{entries: make(map[Key]*entry), factory: factory, persist: persist}
}

// Acquire finds or creates the sandbox for key, increments its refcount, and
// starts it (outside the registry lock, so a slow container start does not
// block unrelated keys).
func (r *Registry) Acquire(ctx context.Context, key Key) (Driver, error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		driver, err := r.factory(key)
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("create sandbox for %+v: %w", key, err)
		}
		e = &entry{driver: driver}
		r.entries[key] = e
	}
	e.refcount++
	driver := e.driver
	r.mu.Unlock()

	if err := driver.Start(ctx); err != nil {
		r.Release(ctx, key)
		return nil, err
	}
	return driver, nil
}

// Release decrements key's refcount; at zero, the persist policy is applied
// (stop or remove) and, when not persisting, the in-memory entry is purged.
func (r *Registry) Release(ctx context.Context, key Key) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refcount--
	if e.refcount > 0 {
		r.mu.Unlock()
		return
	}
	if r.persist {
		delete(r.entries, key)
		r.mu.Unlock()
		_ = e.driver.Stop(ctx, true)
		return
	}
	delete(r.entries, key)
	r.mu.Unlock()
	_ = e.driver.Stop(ctx, false)
}

// Refcount returns the current outstanding-acquire count for key (0 if absent).
func (r *Registry) Refcount(key Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e.refcount
	}
	return 0
}

// Active returns the number of distinct keys with a live entry.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ShutdownAll stops/removes every live, non-persistent sandbox. Used on
// process exit.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[Key]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		_ = e.driver.Stop(ctx, r.persist)
	}
}
