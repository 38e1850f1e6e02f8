// Package membership is the integration surface around the filter
// registry: registration, probabilistic and verified membership checks,
// and the row-mutation hooks that keep filters in sync with the system of
// record.
package membership

import (
	"fmt"

	"github.com/octobloom/octobloom/internal/bloom/common/log"
	"github.com/octobloom/octobloom/internal/bloom/domain"
	"github.com/octobloom/octobloom/internal/bloom/filter"
	"github.com/octobloom/octobloom/internal/bloom/metrics"
	"github.com/octobloom/octobloom/internal/bloom/registry"
	"github.com/octobloom/octobloom/internal/bloom/repos/verdict"
)

type Service struct {
	registry *registry.Registry
	store    RecordStore
	verdicts VerdictCache
	logger   log.Logger
}

type Options struct {
	Registry *registry.Registry
	Store    RecordStore
	Verdicts VerdictCache // nil disables verdict caching
	Logger   log.Logger   // nil discards logs
}

func New(opts Options) *Service {
	if opts.Verdicts == nil {
		opts.Verdicts = verdict.Disabled{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NoopLogger{}
	}
	return &Service{
		registry: opts.Registry,
		store:    opts.Store,
		verdicts: opts.Verdicts,
		logger:   opts.Logger,
	}
}

// Init registers (or re-registers) a filter for table.column and warms it
// from the system of record so membership answers cover pre-existing rows.
// Parameters are validated before the registry is touched.
func (s *Service) Init(table, column string, expectedCount uint64, fpRate float64) error {
	key, err := domain.NewKey(table, column)
	if err != nil {
		return err
	}
	if _, err := filter.DeriveParams(expectedCount, fpRate); err != nil {
		return err
	}
	ok, err := s.store.HasColumn(key)
	if err != nil {
		return fmt.Errorf("checking column %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: column %s does not exist", domain.ErrUnknownAttribute, key)
	}

	if _, err := s.registry.Register(key, expectedCount, fpRate); err != nil {
		return err
	}
	metrics.RegisteredFilters.Set(float64(s.registry.Len()))

	if err := s.rebuild(key, expectedCount, fpRate, "init"); err != nil {
		return fmt.Errorf("warming filter for %s: %w", key, err)
	}

	s.logger.Info(map[string]any{
		"key":      key.String(),
		"expected": expectedCount,
		"fp_rate":  fpRate,
	}, "bloom filter registered")
	return nil
}

// CreateColumn declares a (table, column) attribute in the system of
// record so rows and a filter can be attached to it later. Creating an
// existing column is a no-op.
func (s *Service) CreateColumn(table, column string) error {
	key, err := domain.NewKey(table, column)
	if err != nil {
		return err
	}
	return s.store.CreateColumn(key)
}

// MightContain answers the probabilistic membership question. Absence of a
// registered filter, an invalid entry, or a degenerate filter all fail
// open to true: "no filter" never silently means "definitely absent".
func (s *Service) MightContain(table, column string, value []byte) (bool, error) {
	key, err := domain.NewKey(table, column)
	if err != nil {
		return true, err
	}
	f, ok := s.registry.Lookup(key)
	if !ok {
		metrics.MembershipChecks.WithLabelValues("fail_open").Inc()
		return true, nil
	}
	if f.Params().BitArraySizeBits == 0 {
		metrics.MembershipChecks.WithLabelValues("fail_open").Inc()
		return true, nil
	}
	if f.MightContain(value) {
		metrics.MembershipChecks.WithLabelValues("maybe").Inc()
		return true, nil
	}
	metrics.MembershipChecks.WithLabelValues("negative").Inc()
	return false, nil
}

// Exists answers the verified membership question. A negative filter
// answer short-circuits without consulting the system of record; positive
// answers are verified against the verdict cache and then the store.
func (s *Service) Exists(table, column string, value []byte) (bool, error) {
	maybe, err := s.MightContain(table, column, value)
	if err != nil {
		return false, err
	}
	if !maybe {
		return false, nil
	}

	key, _ := domain.NewKey(table, column)
	ck := verdict.CacheKey(key, value)
	if exists, ok := s.verdicts.Get(ck); ok {
		metrics.VerdictCacheHits.Inc()
		return exists, nil
	}

	metrics.StoreLookups.Inc()
	exists, err := s.store.HasValue(key, value)
	if err != nil {
		return false, fmt.Errorf("verifying %s: %w", key, err)
	}
	s.verdicts.Put(ck, exists)
	return exists, nil
}

// RecordInsert is the row-insert hook: the value lands in the system of
// record and, when a filter is registered, in the filter.
func (s *Service) RecordInsert(table, column string, value []byte) error {
	key, err := domain.NewKey(table, column)
	if err != nil {
		return err
	}
	if err := s.store.PutValue(key, value); err != nil {
		return err
	}
	s.addToFilter(key, value)
	s.verdicts.Remove(verdict.CacheKey(key, value))
	return nil
}

// RecordUpdate is the row-update hook. The new value is added; removal of
// the old value is not supported by a plain Bloom filter, so the filter
// keeps answering "maybe" for it until the next rebuild. The store itself
// is updated exactly.
func (s *Service) RecordUpdate(table, column string, oldValue, newValue []byte) error {
	key, err := domain.NewKey(table, column)
	if err != nil {
		return err
	}
	if err := s.store.DeleteValue(key, oldValue); err != nil {
		return err
	}
	if err := s.store.PutValue(key, newValue); err != nil {
		return err
	}

	if f, ok := s.registry.Lookup(key); ok {
		if err := f.Remove(oldValue); err != nil {
			s.logger.Warn(map[string]any{
				"key":   key.String(),
				"error": err.Error(),
			}, "old value retained in filter until rebuild")
		}
	}
	s.addToFilter(key, newValue)
	s.verdicts.Remove(verdict.CacheKey(key, oldValue))
	s.verdicts.Remove(verdict.CacheKey(key, newValue))
	return nil
}

// RecordDelete is the row-delete hook. Only the store and the verdict
// cache change; the filter is left alone for the same reason as updates.
func (s *Service) RecordDelete(table, column string, value []byte) error {
	key, err := domain.NewKey(table, column)
	if err != nil {
		return err
	}
	if err := s.store.DeleteValue(key, value); err != nil {
		return err
	}
	s.verdicts.Remove(verdict.CacheKey(key, value))
	return nil
}

// Rebuild resynchronizes the filter with the system of record using its
// current parameters.
func (s *Service) Rebuild(table, column string) error {
	key, err := domain.NewKey(table, column)
	if err != nil {
		return err
	}
	e, ok := s.registry.Entry(key)
	if !ok {
		return fmt.Errorf("%w: no filter registered for %s", domain.ErrUnknownAttribute, key)
	}
	st := e.Status()
	return s.rebuild(key, st.ExpectedCount, st.FalsePositiveRate, "manual")
}

// RebuildWithParams rebuilds key's filter sized for new parameters,
// repopulated from the system of record. Maintenance uses this to resize
// drifted filters and revive invalid ones.
func (s *Service) RebuildWithParams(key domain.Key, expectedCount uint64, fpRate float64) error {
	reason := "invalid"
	if e, ok := s.registry.Entry(key); ok && e.Valid() {
		reason = "drift"
	}
	return s.rebuild(key, expectedCount, fpRate, reason)
}

// Disable unregisters the filter. Membership checks fail open afterwards.
func (s *Service) Disable(table, column string) error {
	key, err := domain.NewKey(table, column)
	if err != nil {
		return err
	}
	if !s.registry.Unregister(key) {
		return fmt.Errorf("%w: no filter registered for %s", domain.ErrUnknownAttribute, key)
	}
	metrics.RegisteredFilters.Set(float64(s.registry.Len()))
	s.verdicts.Purge()
	s.logger.Info(map[string]any{"key": key.String()}, "bloom filter unregistered")
	return nil
}

// Status snapshots one registered filter.
func (s *Service) Status(table, column string) (domain.FilterStatus, error) {
	key, err := domain.NewKey(table, column)
	if err != nil {
		return domain.FilterStatus{}, err
	}
	e, ok := s.registry.Entry(key)
	if !ok {
		return domain.FilterStatus{}, fmt.Errorf("%w: no filter registered for %s", domain.ErrUnknownAttribute, key)
	}
	return e.Status(), nil
}

// StatusAll snapshots every registered filter.
func (s *Service) StatusAll() []domain.FilterStatus {
	var out []domain.FilterStatus
	s.registry.Range(func(e *registry.Entry) bool {
		out = append(out, e.Status())
		return true
	})
	return out
}

func (s *Service) addToFilter(key domain.Key, value []byte) {
	e, ok := s.registry.Entry(key)
	if !ok {
		return
	}
	f := e.Filter()
	if f == nil {
		// invalid entries catch up on the next rebuild
		return
	}
	f.Add(value)
	e.RecordAdd()
	metrics.FilterAdds.Inc()
}

func (s *Service) rebuild(key domain.Key, expectedCount uint64, fpRate float64, reason string) error {
	err := s.registry.Rebuild(key, expectedCount, fpRate, func(f *filter.Filter) (uint64, error) {
		var seeded uint64
		scanErr := s.store.ScanColumn(key, func(value []byte) bool {
			f.Add(value)
			seeded++
			return true
		})
		return seeded, scanErr
	})
	if err != nil {
		metrics.RebuildFailures.Inc()
		s.logger.Error(map[string]any{
			"key":    key.String(),
			"reason": reason,
			"error":  err.Error(),
		}, "filter rebuild failed")
		return err
	}
	metrics.Rebuilds.WithLabelValues(reason).Inc()
	s.verdicts.Purge()
	s.logger.Debug(map[string]any{
		"key":      key.String(),
		"reason":   reason,
		"expected": expectedCount,
	}, "filter rebuilt")
	return nil
}
