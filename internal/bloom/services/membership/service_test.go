package membership

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octobloom/octobloom/internal/bloom/common/clock"
	"github.com/octobloom/octobloom/internal/bloom/domain"
	"github.com/octobloom/octobloom/internal/bloom/registry"
	"github.com/octobloom/octobloom/internal/bloom/repos/verdict"
)

// stubStore is an in-memory RecordStore with error injection and a lookup
// counter for asserting short-circuit behavior.
type stubStore struct {
	mu      sync.Mutex
	columns map[domain.Key]map[string]int
	scanErr error
	lookups int
}

func newStubStore() *stubStore {
	return &stubStore{columns: make(map[domain.Key]map[string]int)}
}

func (s *stubStore) addColumn(key domain.Key, values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := make(map[string]int)
	for _, v := range values {
		col[v]++
	}
	s.columns[key] = col
}

func (s *stubStore) CreateColumn(key domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.columns[key]; !ok {
		s.columns[key] = make(map[string]int)
	}
	return nil
}

func (s *stubStore) HasColumn(key domain.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.columns[key]
	return ok, nil
}

func (s *stubStore) HasValue(key domain.Key, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	col, ok := s.columns[key]
	if !ok {
		return false, domain.ErrUnknownAttribute
	}
	return col[string(value)] > 0, nil
}

func (s *stubStore) PutValue(key domain.Key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.columns[key]
	if !ok {
		return domain.ErrUnknownAttribute
	}
	col[string(value)]++
	return nil
}

func (s *stubStore) DeleteValue(key domain.Key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.columns[key]
	if !ok {
		return domain.ErrUnknownAttribute
	}
	if col[string(value)] > 0 {
		col[string(value)]--
	}
	return nil
}

func (s *stubStore) ScanColumn(key domain.Key, visit func(value []byte) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanErr != nil {
		return s.scanErr
	}
	col, ok := s.columns[key]
	if !ok {
		return domain.ErrUnknownAttribute
	}
	for v, n := range col {
		if n > 0 && !visit([]byte(v)) {
			return nil
		}
	}
	return nil
}

func (s *stubStore) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func newTestService(t *testing.T, store RecordStore) *Service {
	t.Helper()
	vc, err := verdict.New(64)
	require.NoError(t, err)
	return New(Options{
		Registry: registry.New(registry.Options{
			Capacity: 8,
			Clock:    &clock.MockClock{CurrentTime: time.Unix(1700000000, 0)},
		}),
		Store:    store,
		Verdicts: vc,
	})
}

func TestService_InitWarmsFromStore(t *testing.T) {
	store := newStubStore()
	key := domain.Key{Table: "users", Column: "email"}
	store.addColumn(key, "alice@example.com", "bob@example.com")

	svc := newTestService(t, store)
	require.NoError(t, svc.Init("users", "email", 1000, 0.01))

	// pre-existing rows must be visible without any store consult
	maybe, err := svc.MightContain("users", "email", []byte("alice@example.com"))
	require.NoError(t, err)
	assert.True(t, maybe)

	st, err := svc.Status("users", "email")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.ObservedCount, "warm-up seeds the observed count")
	assert.True(t, st.Valid)
}

func TestService_InitValidation(t *testing.T) {
	store := newStubStore()
	store.addColumn(domain.Key{Table: "users", Column: "email"})
	svc := newTestService(t, store)

	assert.ErrorIs(t, svc.Init("users", "email", 0, 0.01), domain.ErrInvalidParameter)
	assert.ErrorIs(t, svc.Init("users", "email", 100, 1.5), domain.ErrInvalidParameter)
	assert.ErrorIs(t, svc.Init("", "email", 100, 0.01), domain.ErrInvalidParameter)
	assert.ErrorIs(t, svc.Init("users", "missing", 100, 0.01), domain.ErrUnknownAttribute)
}

func TestService_MightContainFailsOpen(t *testing.T) {
	svc := newTestService(t, newStubStore())

	maybe, err := svc.MightContain("users", "email", []byte("anything"))
	require.NoError(t, err)
	assert.True(t, maybe, "no registered filter must answer true")
}

func TestService_ExistsShortCircuitsOnNegative(t *testing.T) {
	store := newStubStore()
	key := domain.Key{Table: "users", Column: "email"}
	store.addColumn(key, "alice@example.com")

	svc := newTestService(t, store)
	require.NoError(t, svc.Init("users", "email", 1000, 0.01))
	before := store.lookupCount()

	exists, err := svc.Exists("users", "email", []byte("alice@example.com"))
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, before+1, store.lookupCount(), "positive answer verifies against the store")

	// a definitive filter negative never reaches the store; probe until the
	// filter answers false (with fp=0.01 this is nearly every probe)
	checked := store.lookupCount()
	negatives := 0
	for i := 0; i < 50 && negatives == 0; i++ {
		probe := []byte{byte(i), 'p', 'r', 'o', 'b', 'e'}
		maybe, err := svc.MightContain("users", "email", probe)
		require.NoError(t, err)
		if !maybe {
			negatives++
			exists, err := svc.Exists("users", "email", probe)
			require.NoError(t, err)
			assert.False(t, exists)
		}
	}
	require.NotZero(t, negatives, "expected at least one definitive negative")
	assert.Equal(t, checked, store.lookupCount(), "negative answers must not consult the store")
}

func TestService_ExistsUsesVerdictCache(t *testing.T) {
	store := newStubStore()
	key := domain.Key{Table: "users", Column: "email"}
	store.addColumn(key, "alice@example.com")

	svc := newTestService(t, store)
	require.NoError(t, svc.Init("users", "email", 1000, 0.01))

	before := store.lookupCount()
	for i := 0; i < 5; i++ {
		exists, err := svc.Exists("users", "email", []byte("alice@example.com"))
		require.NoError(t, err)
		assert.True(t, exists)
	}
	assert.Equal(t, before+1, store.lookupCount(), "repeat probes must hit the verdict cache")
}

func TestService_RecordInsert(t *testing.T) {
	store := newStubStore()
	key := domain.Key{Table: "users", Column: "email"}
	store.addColumn(key)

	svc := newTestService(t, store)
	require.NoError(t, svc.Init("users", "email", 1000, 0.01))

	// cache a negative verdict first, then insert the value
	exists, err := svc.Exists("users", "email", []byte("carol@example.com"))
	require.NoError(t, err)
	_ = exists // may be false from the filter or from the store

	require.NoError(t, svc.RecordInsert("users", "email", []byte("carol@example.com")))

	maybe, err := svc.MightContain("users", "email", []byte("carol@example.com"))
	require.NoError(t, err)
	assert.True(t, maybe, "inserted value must never be a false negative")

	exists, err = svc.Exists("users", "email", []byte("carol@example.com"))
	require.NoError(t, err)
	assert.True(t, exists, "stale negative verdict must be invalidated by the insert")

	st, err := svc.Status("users", "email")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.ObservedCount)
}

func TestService_RecordUpdate(t *testing.T) {
	store := newStubStore()
	key := domain.Key{Table: "users", Column: "email"}
	store.addColumn(key, "old@example.com")

	svc := newTestService(t, store)
	require.NoError(t, svc.Init("users", "email", 1000, 0.01))

	require.NoError(t, svc.RecordUpdate("users", "email", []byte("old@example.com"), []byte("new@example.com")))

	maybe, err := svc.MightContain("users", "email", []byte("new@example.com"))
	require.NoError(t, err)
	assert.True(t, maybe)

	// the old value stays "maybe" in the filter (removal unsupported) but
	// the verified answer comes from the store and must be false
	exists, err := svc.Exists("users", "email", []byte("old@example.com"))
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = svc.Exists("users", "email", []byte("new@example.com"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestService_RecordDelete(t *testing.T) {
	store := newStubStore()
	key := domain.Key{Table: "users", Column: "email"}
	store.addColumn(key, "alice@example.com")

	svc := newTestService(t, store)
	require.NoError(t, svc.Init("users", "email", 1000, 0.01))

	// prime the verdict cache with a positive answer
	exists, err := svc.Exists("users", "email", []byte("alice@example.com"))
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, svc.RecordDelete("users", "email", []byte("alice@example.com")))

	exists, err = svc.Exists("users", "email", []byte("alice@example.com"))
	require.NoError(t, err)
	assert.False(t, exists, "stale positive verdict must be invalidated by the delete")
}

func TestService_RebuildResyncsWithStore(t *testing.T) {
	store := newStubStore()
	key := domain.Key{Table: "users", Column: "email"}
	store.addColumn(key, "a@example.com", "b@example.com", "c@example.com")

	svc := newTestService(t, store)
	require.NoError(t, svc.Init("users", "email", 1000, 0.01))
	require.NoError(t, svc.RecordDelete("users", "email", []byte("c@example.com")))

	require.NoError(t, svc.Rebuild("users", "email"))

	st, err := svc.Status("users", "email")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.ObservedCount, "rebuild seeds observed from the store")
	assert.True(t, st.Valid)

	for _, v := range []string{"a@example.com", "b@example.com"} {
		maybe, err := svc.MightContain("users", "email", []byte(v))
		require.NoError(t, err)
		assert.True(t, maybe)
	}
}

func TestService_RebuildFailureInvalidatesAndFailsOpen(t *testing.T) {
	store := newStubStore()
	key := domain.Key{Table: "users", Column: "email"}
	store.addColumn(key, "alice@example.com")

	svc := newTestService(t, store)
	require.NoError(t, svc.Init("users", "email", 1000, 0.01))

	store.scanErr = errors.New("source unavailable")
	err := svc.RebuildWithParams(key, 2000, 0.01)
	require.Error(t, err)

	// invalid entry reads as "no filter": both checks fail open to the store
	maybe, err := svc.MightContain("users", "email", []byte("never-added"))
	require.NoError(t, err)
	assert.True(t, maybe)

	st, err := svc.Status("users", "email")
	require.NoError(t, err)
	assert.False(t, st.Valid)
}

func TestService_Disable(t *testing.T) {
	store := newStubStore()
	key := domain.Key{Table: "users", Column: "email"}
	store.addColumn(key, "alice@example.com")

	svc := newTestService(t, store)
	require.NoError(t, svc.Init("users", "email", 1000, 0.01))
	require.NoError(t, svc.Disable("users", "email"))

	maybe, err := svc.MightContain("users", "email", []byte("anything"))
	require.NoError(t, err)
	assert.True(t, maybe, "disabled filter fails open")

	assert.ErrorIs(t, svc.Disable("users", "email"), domain.ErrUnknownAttribute)
	_, err = svc.Status("users", "email")
	assert.ErrorIs(t, err, domain.ErrUnknownAttribute)
}

func TestService_StatusAll(t *testing.T) {
	store := newStubStore()
	store.addColumn(domain.Key{Table: "users", Column: "email"})
	store.addColumn(domain.Key{Table: "orders", Column: "sku"})

	svc := newTestService(t, store)
	require.NoError(t, svc.Init("users", "email", 100, 0.01))
	require.NoError(t, svc.Init("orders", "sku", 200, 0.05))

	all := svc.StatusAll()
	require.Len(t, all, 2)
	keys := map[string]bool{}
	for _, st := range all {
		keys[st.Key.String()] = true
	}
	assert.True(t, keys["users.email"])
	assert.True(t, keys["orders.sku"])
}
