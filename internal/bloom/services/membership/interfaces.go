package membership

import "github.com/octobloom/octobloom/internal/bloom/domain"

// RecordStore is what the service needs from the system of record. The
// bbolt implementation lives in repos/records.
type RecordStore interface {
	CreateColumn(key domain.Key) error
	HasColumn(key domain.Key) (bool, error)
	HasValue(key domain.Key, value []byte) (bool, error)
	PutValue(key domain.Key, value []byte) error
	DeleteValue(key domain.Key, value []byte) error
	ScanColumn(key domain.Key, visit func(value []byte) bool) error
}

// VerdictCache caches verified-existence answers keyed by
// table/column/value. The LRU implementation lives in repos/verdict.
type VerdictCache interface {
	Get(key string) (exists, ok bool)
	Put(key string, exists bool)
	Remove(key string)
	Purge()
}
