package filter

import (
	"fmt"

	"github.com/octobloom/octobloom/internal/bloom/domain"
)

// Filter is a plain (non-counting) Bloom filter: an approximate-membership
// set over byte strings with a fixed, pre-declared memory budget.
//
// Add and MightContain are safe for concurrent use with each other. Clear
// mutates the shared buffer in place and must not run concurrently with
// Add; owners that replace a live filter build a new one and publish it
// wholesale rather than clearing in place.
type Filter struct {
	params Params
	bits   *BitVector
}

// New constructs a zeroed filter sized for the given design targets.
func New(expectedCount uint64, fpRate float64) (*Filter, error) {
	p, err := DeriveParams(expectedCount, fpRate)
	if err != nil {
		return nil, err
	}
	return &Filter{params: p, bits: NewBitVector(p.BitArraySizeBits)}, nil
}

// Add inserts data into the filter. Adding the same bytes twice is a no-op
// after the first call. Empty input is a valid element.
func (f *Filter) Add(data []byte) {
	h1, h2 := doubleHash(data)
	for i := uint32(0); i < f.params.NumHashes; i++ {
		f.bits.Set((h1 + uint64(i)*h2) % f.params.BitArraySizeBits)
	}
}

// MightContain reports whether data may have been added. A false result is
// definitive: the element was never added. A true result may be a false
// positive, bounded in expectation by the configured rate while the number
// of distinct added elements stays within the expected count.
func (f *Filter) MightContain(data []byte) bool {
	h1, h2 := doubleHash(data)
	for i := uint32(0); i < f.params.NumHashes; i++ {
		if !f.bits.Test((h1 + uint64(i)*h2) % f.params.BitArraySizeBits) {
			return false
		}
	}
	return true
}

// Remove always fails: clearing shared bit positions would introduce false
// negatives for other elements. Removal needs a counting variant, which
// this filter is not.
func (f *Filter) Remove(data []byte) error {
	return fmt.Errorf("%w: remove requires a counting bloom filter", domain.ErrUnsupportedOperation)
}

// Clear zeroes the bit buffer. Parameters are untouched. The caller must
// guarantee no concurrent Add is in flight.
func (f *Filter) Clear() {
	f.bits.Clear()
}

// Params returns the filter's design targets and derived sizing.
func (f *Filter) Params() Params { return f.params }

// MemoryBytes reports the size of the bit buffer in bytes.
func (f *Filter) MemoryBytes() uint64 { return f.params.ByteLen() }
