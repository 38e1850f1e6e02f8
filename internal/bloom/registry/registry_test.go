package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octobloom/octobloom/internal/bloom/common/clock"
	"github.com/octobloom/octobloom/internal/bloom/domain"
	"github.com/octobloom/octobloom/internal/bloom/filter"
)

func testKey(t, c string) domain.Key {
	return domain.Key{Table: t, Column: c}
}

func newTestRegistry(capacity int) *Registry {
	return New(Options{
		Capacity: capacity,
		Clock:    &clock.MockClock{CurrentTime: time.Unix(1700000000, 0)},
	})
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := newTestRegistry(4)
	key := testKey("users", "email")

	e, err := r.Register(key, 1000, 0.01)
	require.NoError(t, err)
	require.NotNil(t, e)

	f, ok := r.Lookup(key)
	require.True(t, ok)
	f.Add([]byte("alice@example.com"))
	assert.True(t, f.MightContain([]byte("alice@example.com")))

	_, ok = r.Lookup(testKey("users", "name"))
	assert.False(t, ok, "unregistered key must be absent")
}

func TestRegistry_RegisterInvalidParams(t *testing.T) {
	r := newTestRegistry(4)
	key := testKey("users", "email")

	_, err := r.Register(key, 0, 0.01)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = r.Register(key, 100, 1.0)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, ok := r.Lookup(key)
	assert.False(t, ok, "failed registration must not create an entry")
}

func TestRegistry_CapacityExceeded(t *testing.T) {
	r := newTestRegistry(2)
	_, err := r.Register(testKey("a", "x"), 10, 0.1)
	require.NoError(t, err)
	_, err = r.Register(testKey("b", "x"), 10, 0.1)
	require.NoError(t, err)

	_, err = r.Register(testKey("c", "x"), 10, 0.1)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	// re-registering an existing key is a replace, not a new slot
	_, err = r.Register(testKey("a", "x"), 20, 0.1)
	assert.NoError(t, err)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_FilterByteBudget(t *testing.T) {
	r := New(Options{Capacity: 4, MaxFilterBytes: 1024})

	_, err := r.Register(testKey("small", "x"), 100, 0.01)
	require.NoError(t, err)

	// ~12 million bits, far past the 1 KiB budget
	_, err = r.Register(testKey("big", "x"), 10_000_000, 0.5)
	assert.ErrorIs(t, err, domain.ErrAllocationFailure)
}

func TestRegistry_ReRegisterReplacesWholesale(t *testing.T) {
	r := newTestRegistry(4)
	key := testKey("users", "email")

	e, err := r.Register(key, 100, 0.01)
	require.NoError(t, err)

	f, _ := r.Lookup(key)
	f.Add([]byte("alice@example.com"))
	e.RecordAdd()
	assert.Equal(t, uint64(1), e.Observed())

	e2, err := r.Register(key, 200, 0.05)
	require.NoError(t, err)
	assert.Same(t, e, e2, "replace must reuse the entry, not duplicate it")
	assert.Equal(t, uint64(0), e.Observed(), "observed count resets on replace")

	fresh, ok := r.Lookup(key)
	require.True(t, ok)
	p := fresh.Params()
	assert.Equal(t, uint64(200), p.ExpectedCount)
	assert.Equal(t, 0.05, p.FalsePositiveRate)
	assert.False(t, fresh.MightContain([]byte("alice@example.com")),
		"replacement filter starts empty")
}

func TestRegistry_InvalidEntryIsAbsent(t *testing.T) {
	r := newTestRegistry(4)
	key := testKey("users", "email")

	e, err := r.Register(key, 100, 0.01)
	require.NoError(t, err)

	e.Invalidate()
	_, ok := r.Lookup(key)
	assert.False(t, ok, "invalid entry must read as no filter available")

	// the entry itself stays reachable for maintenance
	got, ok := r.Entry(key)
	require.True(t, ok)
	assert.False(t, got.Valid())
}

func TestRegistry_Unregister(t *testing.T) {
	r := newTestRegistry(4)
	key := testKey("users", "email")

	_, err := r.Register(key, 100, 0.01)
	require.NoError(t, err)

	assert.True(t, r.Unregister(key))
	assert.False(t, r.Unregister(key), "second unregister reports absence")
	_, ok := r.Lookup(key)
	assert.False(t, ok)
}

func TestRegistry_ConcurrentRegisterSameKey(t *testing.T) {
	r := newTestRegistry(4)
	key := testKey("users", "email")

	const workers = 16
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			_, err := r.Register(key, uint64(100+w), 0.01)
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len(), "concurrent registers must coalesce into one entry")
	f, ok := r.Lookup(key)
	require.True(t, ok)
	p := f.Params()
	assert.GreaterOrEqual(t, p.ExpectedCount, uint64(100))
	assert.Less(t, p.ExpectedCount, uint64(100+workers))
}

func TestRegistry_ConcurrentLookupDuringUnregister(t *testing.T) {
	r := newTestRegistry(4)
	key := testKey("users", "email")

	_, err := r.Register(key, 1000, 0.01)
	require.NoError(t, err)
	f, _ := r.Lookup(key)
	f.Add([]byte("alice@example.com"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if f, ok := r.Lookup(key); ok {
					// a filter handed out by Lookup is always safe to use
					_ = f.MightContain([]byte("alice@example.com"))
				}
			}
		}()
	}

	r.Unregister(key)
	close(stop)
	wg.Wait()

	_, ok := r.Lookup(key)
	assert.False(t, ok)
}

func TestRegistry_RangeSnapshots(t *testing.T) {
	r := newTestRegistry(8)
	for i := 0; i < 5; i++ {
		_, err := r.Register(testKey(fmt.Sprintf("t%d", i), "x"), 10, 0.1)
		require.NoError(t, err)
	}

	seen := 0
	r.Range(func(e *Entry) bool {
		seen++
		// mutating the registry mid-iteration must not deadlock
		r.Unregister(e.Key())
		return true
	})
	assert.Equal(t, 5, seen)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RebuildPopulatesBeforePublish(t *testing.T) {
	r := newTestRegistry(4)
	key := testKey("users", "email")

	_, err := r.Register(key, 100, 0.01)
	require.NoError(t, err)

	err = r.Rebuild(key, 200, 0.01, func(f *filter.Filter) (uint64, error) {
		// the published filter must never be observable half-built, so the
		// lookup here has to return the old, still-empty filter
		live, ok := r.Lookup(key)
		require.True(t, ok)
		assert.NotSame(t, f, live)

		f.Add([]byte("alice@example.com"))
		return 1, nil
	})
	require.NoError(t, err)

	f, ok := r.Lookup(key)
	require.True(t, ok)
	assert.True(t, f.MightContain([]byte("alice@example.com")))
	assert.Equal(t, uint64(200), f.Params().ExpectedCount)

	e, _ := r.Entry(key)
	assert.Equal(t, uint64(1), e.Observed(), "observed resets to the seeded count")
	assert.False(t, e.Status().RebuiltAt.IsZero())
}

func TestRegistry_RebuildFailureInvalidates(t *testing.T) {
	r := newTestRegistry(4)
	key := testKey("users", "email")

	_, err := r.Register(key, 100, 0.01)
	require.NoError(t, err)

	boom := fmt.Errorf("source unavailable")
	err = r.Rebuild(key, 100, 0.01, func(*filter.Filter) (uint64, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok := r.Lookup(key)
	assert.False(t, ok, "failed rebuild must leave the entry invalid")
}

func TestRegistry_RebuildUnknownKey(t *testing.T) {
	r := newTestRegistry(4)
	err := r.Rebuild(testKey("nope", "x"), 100, 0.01, func(*filter.Filter) (uint64, error) {
		return 0, nil
	})
	assert.ErrorIs(t, err, domain.ErrUnknownAttribute)
}

func TestEntry_Status(t *testing.T) {
	r := newTestRegistry(4)
	key := testKey("users", "email")

	e, err := r.Register(key, 1000, 0.01)
	require.NoError(t, err)
	e.RecordAdd()
	e.RecordAdd()

	st := e.Status()
	assert.Equal(t, key, st.Key)
	assert.Equal(t, uint64(1000), st.ExpectedCount)
	assert.Equal(t, 0.01, st.FalsePositiveRate)
	assert.Equal(t, uint64(2), st.ObservedCount)
	assert.True(t, st.Valid)
	assert.GreaterOrEqual(t, st.BitArraySizeBits, uint64(64))
	assert.True(t, st.RebuiltAt.IsZero(), "no rebuild has happened yet")
}
