// Package records is the system of record backing the probabilistic layer:
// a bbolt store of the distinct values present per (table, column). The
// membership service consults it for verified existence checks, and
// maintenance rebuilds filters from it.
package records

import (
	"encoding/binary"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/octobloom/octobloom/internal/bloom/domain"
)

var (
	bucketTables = []byte("tables")
	bucketMeta   = []byte("meta")
	keyUpdated   = []byte("updated")
)

// Store is a bbolt-backed value index. Values live as keys in nested
// buckets tables/<table>/<column>, each mapped to an occurrence count so
// duplicate rows survive deletion of a single one.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database at path and ensures root buckets.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTables); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CreateColumn makes (table, column) known to the store. Idempotent.
func (s *Store) CreateColumn(key domain.Key) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		tb, err := tx.Bucket(bucketTables).CreateBucketIfNotExists([]byte(key.Table))
		if err != nil {
			return err
		}
		_, err = tb.CreateBucketIfNotExists([]byte(key.Column))
		return err
	})
}

// HasColumn reports whether (table, column) exists in the store.
func (s *Store) HasColumn(key domain.Key) (bool, error) {
	var present bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		present = columnBucket(tx, key) != nil
		return nil
	})
	return present, err
}

// PutValue records one occurrence of value in the column. The column must
// already exist.
func (s *Store) PutValue(key domain.Key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		cb := columnBucket(tx, key)
		if cb == nil {
			return fmt.Errorf("%w: %s", domain.ErrUnknownAttribute, key)
		}
		n := decodeCount(cb.Get(value))
		if err := cb.Put(value, encodeCount(n+1)); err != nil {
			return err
		}
		return touchMeta(tx)
	})
}

// DeleteValue removes one occurrence of value; the value disappears from
// the column once its count reaches zero. Deleting an absent value is a
// no-op.
func (s *Store) DeleteValue(key domain.Key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		cb := columnBucket(tx, key)
		if cb == nil {
			return fmt.Errorf("%w: %s", domain.ErrUnknownAttribute, key)
		}
		n := decodeCount(cb.Get(value))
		switch {
		case n == 0:
			return nil
		case n == 1:
			if err := cb.Delete(value); err != nil {
				return err
			}
		default:
			if err := cb.Put(value, encodeCount(n-1)); err != nil {
				return err
			}
		}
		return touchMeta(tx)
	})
}

// HasValue is the exact-existence check behind the probabilistic layer.
func (s *Store) HasValue(key domain.Key, value []byte) (bool, error) {
	var present bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		cb := columnBucket(tx, key)
		if cb == nil {
			return fmt.Errorf("%w: %s", domain.ErrUnknownAttribute, key)
		}
		present = cb.Get(value) != nil
		return nil
	})
	return present, err
}

// ScanColumn visits every distinct value in the column. Returning false
// from visit stops the scan. This is the rebuild source for filters.
func (s *Store) ScanColumn(key domain.Key, visit func(value []byte) bool) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		cb := columnBucket(tx, key)
		if cb == nil {
			return fmt.Errorf("%w: %s", domain.ErrUnknownAttribute, key)
		}
		c := cb.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			cp := make([]byte, len(k))
			copy(cp, k)
			if !visit(cp) {
				return nil
			}
		}
		return nil
	})
}

// CountColumn returns the number of distinct values in the column.
func (s *Store) CountColumn(key domain.Key) (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		cb := columnBucket(tx, key)
		if cb == nil {
			return fmt.Errorf("%w: %s", domain.ErrUnknownAttribute, key)
		}
		n = uint64(cb.Stats().KeyN)
		return nil
	})
	return n, err
}

// Stats reports store-wide counts in a cheap read-only transaction.
type Stats struct {
	Columns     uint64
	Values      uint64
	UpdatedUnix int64
}

func (s *Store) Stats() Stats {
	var st Stats
	_ = s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketTables)
		_ = root.ForEachBucket(func(table []byte) error {
			tb := root.Bucket(table)
			return tb.ForEachBucket(func(column []byte) error {
				st.Columns++
				st.Values += uint64(tb.Bucket(column).Stats().KeyN)
				return nil
			})
		})
		if v := tx.Bucket(bucketMeta).Get(keyUpdated); len(v) == 8 {
			st.UpdatedUnix = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return st
}

func columnBucket(tx *bbolt.Tx, key domain.Key) *bbolt.Bucket {
	tb := tx.Bucket(bucketTables).Bucket([]byte(key.Table))
	if tb == nil {
		return nil
	}
	return tb.Bucket([]byte(key.Column))
}

func touchMeta(tx *bbolt.Tx) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(time.Now().Unix()))
	return tx.Bucket(bucketMeta).Put(keyUpdated, buf)
}

func encodeCount(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func decodeCount(v []byte) uint64 {
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}
