package domain

import "time"

// FilterStatus is a point-in-time snapshot of one registered filter.
// Counter fields are best-effort reads and may lag concurrent writers.
type FilterStatus struct {
	Key               Key
	ExpectedCount     uint64
	FalsePositiveRate float64
	BitArraySizeBits  uint64
	NumHashes         uint32
	ObservedCount     uint64
	MemoryBytes       uint64
	Valid             bool
	RegisteredAt      time.Time
	RebuiltAt         time.Time // zero until the first rebuild
}
