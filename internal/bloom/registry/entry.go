package registry

import (
	"sync/atomic"
	"time"

	"github.com/octobloom/octobloom/internal/bloom/domain"
	"github.com/octobloom/octobloom/internal/bloom/filter"
)

// Entry owns the current filter for one key plus its bookkeeping.
//
// The filter is held behind an atomic pointer and only ever replaced
// wholesale: writers build the new filter off to the side and publish it
// with a single swap, so a concurrent reader observes either the previous
// filter or the next one, never a torn state. Counters and the validity
// flag are atomics for the same reason. In-flight readers that already
// fetched the old pointer keep using it safely until they drop it.
type Entry struct {
	key          domain.Key
	registeredAt time.Time

	f         atomic.Pointer[filter.Filter]
	observed  atomic.Uint64
	valid     atomic.Bool
	rebuiltAt atomic.Int64 // unix nanos; 0 until the first rebuild
}

func newEntry(key domain.Key, f *filter.Filter, now time.Time) *Entry {
	e := &Entry{key: key, registeredAt: now}
	e.f.Store(f)
	e.valid.Store(true)
	return e
}

// Key returns the entry's composite identity.
func (e *Entry) Key() domain.Key { return e.key }

// Filter returns the current filter, or nil when the entry is invalid
// (rebuild in flight or a prior failure). Callers treat nil as "no filter
// available" and fail open.
func (e *Entry) Filter() *filter.Filter {
	if !e.valid.Load() {
		return nil
	}
	return e.f.Load()
}

// RecordAdd bumps the observed insert count. The surrounding integration
// layer calls this when an insertion logically succeeded for its domain
// object; the filter itself never counts.
func (e *Entry) RecordAdd() { e.observed.Add(1) }

// Observed returns the number of recorded inserts since the last replace.
func (e *Entry) Observed() uint64 { return e.observed.Load() }

// Valid reports whether readers may use the entry's filter.
func (e *Entry) Valid() bool { return e.valid.Load() }

// Invalidate marks the entry unusable. Readers fall back to exact checks
// until a rebuild publishes a fresh filter.
func (e *Entry) Invalidate() { e.valid.Store(false) }

// Replace publishes a fully built filter, resets the observed count to
// seeded (the number of elements the new filter was populated with), and
// revalidates the entry. The swap is the only mutation concurrent readers
// can observe.
func (e *Entry) Replace(f *filter.Filter, seeded uint64, now time.Time) {
	e.f.Store(f)
	e.observed.Store(seeded)
	e.rebuiltAt.Store(now.UnixNano())
	e.valid.Store(true)
}

// Status snapshots the entry for reporting. Counter reads are best-effort.
func (e *Entry) Status() domain.FilterStatus {
	st := domain.FilterStatus{
		Key:           e.key,
		ObservedCount: e.observed.Load(),
		Valid:         e.valid.Load(),
		RegisteredAt:  e.registeredAt,
	}
	if ns := e.rebuiltAt.Load(); ns != 0 {
		st.RebuiltAt = time.Unix(0, ns)
	}
	if f := e.f.Load(); f != nil {
		p := f.Params()
		st.ExpectedCount = p.ExpectedCount
		st.FalsePositiveRate = p.FalsePositiveRate
		st.BitArraySizeBits = p.BitArraySizeBits
		st.NumHashes = p.NumHashes
		st.MemoryBytes = p.ByteLen()
	}
	return st
}
