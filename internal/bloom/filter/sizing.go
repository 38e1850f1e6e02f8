package filter

import (
	"fmt"
	"math"

	"github.com/octobloom/octobloom/internal/bloom/domain"
)

const (
	// minBits keeps tiny expected counts from degenerating into a filter
	// with almost no addressable positions.
	minBits = 64

	// maxHashes bounds per-operation cost for extreme false-positive targets.
	maxHashes = 50
)

// Params holds a filter's design targets together with the values derived
// from them. Derived once at construction and immutable afterwards.
type Params struct {
	ExpectedCount     uint64
	FalsePositiveRate float64
	BitArraySizeBits  uint64
	NumHashes         uint32
}

// DeriveParams computes the optimal bit-array size and hash count for the
// given design targets using the standard formulas:
//
//	m = ceil(-(n * ln p) / (ln 2)^2)
//	k = round((m / n) * ln 2)
//
// m is clamped to at least minBits and k to [1, maxHashes].
func DeriveParams(expectedCount uint64, fpRate float64) (Params, error) {
	if expectedCount == 0 {
		return Params{}, fmt.Errorf("%w: expected count must be greater than zero", domain.ErrInvalidParameter)
	}
	if !(fpRate > 0 && fpRate < 1) {
		return Params{}, fmt.Errorf("%w: false positive rate must be between 0 and 1, got %v", domain.ErrInvalidParameter, fpRate)
	}

	n := float64(expectedCount)
	mBits := uint64(math.Ceil(-(n * math.Log(fpRate)) / (math.Ln2 * math.Ln2)))
	k := uint32(math.Round((float64(mBits) / n) * math.Ln2))

	if mBits < minBits {
		mBits = minBits
	}
	if k < 1 {
		k = 1
	}
	if k > maxHashes {
		k = maxHashes
	}

	return Params{
		ExpectedCount:     expectedCount,
		FalsePositiveRate: fpRate,
		BitArraySizeBits:  mBits,
		NumHashes:         k,
	}, nil
}

// ByteLen is the length of the byte-packed bit buffer.
func (p Params) ByteLen() uint64 {
	return (p.BitArraySizeBits + 7) / 8
}
