// Package registry provides process-wide shared access to named Bloom
// filter instances.
//
// Locking discipline: a single structural RWMutex guards the key → entry
// map and is held only for slot lookup, insert, and remove. Per-entry
// content is never mutated field-by-field under that lock — filters are
// built outside any critical section and published wholesale through the
// entry's atomic pointer. Registrations for different keys therefore only
// contend for the brief structural section, and element adds never touch
// the registry lock at all.
package registry

import (
	"fmt"
	"sync"

	"github.com/octobloom/octobloom/internal/bloom/common/clock"
	"github.com/octobloom/octobloom/internal/bloom/domain"
	"github.com/octobloom/octobloom/internal/bloom/filter"
)

// Registry maps composite keys to filter entries. Capacity is fixed at
// construction; exceeding it is a hard registration failure, not a resize.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.Key]*Entry

	capacity       int
	maxFilterBytes uint64
	clk            clock.Clock
}

// Options configures a Registry.
type Options struct {
	// Capacity is the maximum number of live entries.
	Capacity int

	// MaxFilterBytes bounds a single filter's bit buffer. Zero disables
	// the check.
	MaxFilterBytes uint64

	// Clock defaults to the real clock when nil.
	Clock clock.Clock
}

// New constructs an empty registry.
func New(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Registry{
		entries:        make(map[domain.Key]*Entry, opts.Capacity),
		capacity:       opts.Capacity,
		maxFilterBytes: opts.MaxFilterBytes,
		clk:            opts.Clock,
	}
}

// Register creates the entry for key with a freshly constructed filter, or
// replaces the existing entry's filter with new parameters and a reset
// observed count. The new filter is fully built before the registry is
// touched, so concurrent lookups see either the previous filter or the new
// one. A failed registration leaves any previous entry untouched and valid.
func (r *Registry) Register(key domain.Key, expectedCount uint64, fpRate float64) (*Entry, error) {
	p, err := filter.DeriveParams(expectedCount, fpRate)
	if err != nil {
		return nil, err
	}
	if r.maxFilterBytes > 0 && p.ByteLen() > r.maxFilterBytes {
		return nil, fmt.Errorf("%w: filter for %s needs %d bytes, budget is %d",
			domain.ErrAllocationFailure, key, p.ByteLen(), r.maxFilterBytes)
	}
	f, err := filter.New(expectedCount, fpRate)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.Replace(f, 0, r.clk.Now())
		return e, nil
	}
	if len(r.entries) >= r.capacity {
		return nil, fmt.Errorf("%w: %d filters already registered", domain.ErrCapacityExceeded, r.capacity)
	}
	e := newEntry(key, f, r.clk.Now())
	r.entries[key] = e
	return e, nil
}

// Rebuild replaces key's filter with a freshly constructed one sized for
// the given parameters. populate fills the new filter before it is
// published and returns the number of elements it seeded; it runs outside
// every lock, against a filter nothing else can reach yet. A populate
// failure marks the entry invalid so readers fall back to exact checks
// until the next rebuild succeeds.
//
// An insert that lands after populate's scan but before the swap goes to
// the outgoing filter and is missing from the published one until the
// next rebuild picks it up.
func (r *Registry) Rebuild(key domain.Key, expectedCount uint64, fpRate float64, populate func(*filter.Filter) (uint64, error)) error {
	e, ok := r.Entry(key)
	if !ok {
		return fmt.Errorf("%w: no filter registered for %s", domain.ErrUnknownAttribute, key)
	}
	p, err := filter.DeriveParams(expectedCount, fpRate)
	if err != nil {
		return err
	}
	if r.maxFilterBytes > 0 && p.ByteLen() > r.maxFilterBytes {
		return fmt.Errorf("%w: filter for %s needs %d bytes, budget is %d",
			domain.ErrAllocationFailure, key, p.ByteLen(), r.maxFilterBytes)
	}
	f, err := filter.New(expectedCount, fpRate)
	if err != nil {
		return err
	}
	seeded, err := populate(f)
	if err != nil {
		e.Invalidate()
		return err
	}
	e.Replace(f, seeded, r.clk.Now())
	return nil
}

// Lookup returns the current filter for key. The second result is false
// when no entry exists or the entry is marked invalid.
func (r *Registry) Lookup(key domain.Key) (*filter.Filter, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	f := e.Filter()
	if f == nil {
		return nil, false
	}
	return f, true
}

// Entry returns the registry entry for key, valid or not. Integration and
// maintenance layers use it for observed-count updates and rebuilds.
func (r *Registry) Entry(key domain.Key) (*Entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	return e, ok
}

// Unregister removes the entry for key and reports whether it existed.
// Concurrent lookups either complete against the filter they already hold
// or observe the key as absent.
func (r *Registry) Unregister(key domain.Key) bool {
	r.mu.Lock()
	_, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()
	return ok
}

// Range invokes fn for each entry until fn returns false. It iterates over
// a snapshot taken under the read lock, keeping the critical section
// bounded regardless of what fn does.
func (r *Registry) Range(fn func(*Entry) bool) {
	r.mu.RLock()
	snapshot := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		snapshot = append(snapshot, e)
	}
	r.mu.RUnlock()

	for _, e := range snapshot {
		if !fn(e) {
			return
		}
	}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Capacity returns the fixed entry limit.
func (r *Registry) Capacity() int { return r.capacity }
