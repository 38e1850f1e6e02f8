package filter

import (
	"fmt"
	"sync/atomic"

	"github.com/octobloom/octobloom/internal/bloom/domain"
)

// BitVector is a fixed-size bit array packed into 64-bit words.
//
// Set and Test are safe for concurrent use from any number of goroutines:
// setting a bit is an atomic OR, which is idempotent and commutative, so
// writers never need exclusive access. Clear and the byte-import path do
// require exclusivity with respect to concurrent Sets; callers that need
// both swap in a fresh vector instead of clearing a shared one.
type BitVector struct {
	nbits uint64
	words []uint64
}

// NewBitVector allocates a zeroed vector with nbits addressable positions.
func NewBitVector(nbits uint64) *BitVector {
	return &BitVector{
		nbits: nbits,
		words: make([]uint64, (nbits+63)/64),
	}
}

// NewBitVectorFromBytes reconstructs a vector from its byte-packed form.
// buf must hold at least ceil(nbits/8) bytes.
func NewBitVectorFromBytes(nbits uint64, buf []byte) (*BitVector, error) {
	byteLen := (nbits + 7) / 8
	if uint64(len(buf)) < byteLen {
		return nil, fmt.Errorf("%w: bit buffer needs %d bytes, have %d", domain.ErrFormat, byteLen, len(buf))
	}
	v := NewBitVector(nbits)
	for i := uint64(0); i < byteLen; i++ {
		v.words[i/8] |= uint64(buf[i]) << ((i % 8) * 8)
	}
	return v, nil
}

// Len returns the number of addressable bit positions.
func (v *BitVector) Len() uint64 { return v.nbits }

// Set turns on bit i. Safe for concurrent use.
func (v *BitVector) Set(i uint64) {
	atomic.OrUint64(&v.words[i/64], uint64(1)<<(i%64))
}

// Test reports whether bit i is set. Safe for concurrent use.
func (v *BitVector) Test(i uint64) bool {
	return atomic.LoadUint64(&v.words[i/64])&(uint64(1)<<(i%64)) != 0
}

// Clear zeroes every word. Must not run concurrently with Set.
func (v *BitVector) Clear() {
	for i := range v.words {
		atomic.StoreUint64(&v.words[i], 0)
	}
}

// Bytes renders the little-endian byte-packed form, exactly ceil(nbits/8)
// bytes. Concurrent Sets may or may not be visible in the snapshot.
func (v *BitVector) Bytes() []byte {
	out := make([]byte, (v.nbits+7)/8)
	for i := range out {
		w := atomic.LoadUint64(&v.words[i/8])
		out[i] = byte(w >> ((uint(i) % 8) * 8))
	}
	return out
}
