package filter

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/octobloom/octobloom/internal/bloom/domain"
)

// Binary layout, little-endian, fixed-width header followed by the bit
// buffer:
//
//	[0..8)   expected count
//	[8..16)  bit array size in bits
//	[16..24) false positive rate (IEEE-754 double bit pattern)
//	[24..28) hash count
//	[28..)   bit buffer, ceil(bits/8) bytes
const headerLen = 28

// MarshalBinary renders the filter in its persisted/transmitted form.
func (f *Filter) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerLen+f.params.ByteLen())
	binary.LittleEndian.PutUint64(buf[0:8], f.params.ExpectedCount)
	binary.LittleEndian.PutUint64(buf[8:16], f.params.BitArraySizeBits)
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(f.params.FalsePositiveRate))
	binary.LittleEndian.PutUint32(buf[24:28], f.params.NumHashes)
	copy(buf[headerLen:], f.bits.Bytes())
	return buf, nil
}

// UnmarshalBinary reconstructs a filter from its serialized form. The
// stored parameters are preserved verbatim rather than re-derived, so the
// result answers membership identically to the filter that produced buf.
// Truncated or internally inconsistent buffers are rejected with
// domain.ErrFormat.
func UnmarshalBinary(buf []byte) (*Filter, error) {
	if len(buf) < headerLen {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", domain.ErrFormat, headerLen, len(buf))
	}

	p := Params{
		ExpectedCount:     binary.LittleEndian.Uint64(buf[0:8]),
		BitArraySizeBits:  binary.LittleEndian.Uint64(buf[8:16]),
		FalsePositiveRate: math.Float64frombits(binary.LittleEndian.Uint64(buf[16:24])),
		NumHashes:         binary.LittleEndian.Uint32(buf[24:28]),
	}

	if p.ExpectedCount == 0 || p.BitArraySizeBits == 0 {
		return nil, fmt.Errorf("%w: zero expected count or bit array size", domain.ErrFormat)
	}
	if p.NumHashes < 1 || p.NumHashes > maxHashes {
		return nil, fmt.Errorf("%w: hash count %d outside [1, %d]", domain.ErrFormat, p.NumHashes, maxHashes)
	}
	if !(p.FalsePositiveRate > 0 && p.FalsePositiveRate < 1) {
		return nil, fmt.Errorf("%w: false positive rate %v outside (0, 1)", domain.ErrFormat, p.FalsePositiveRate)
	}
	// Guard ByteLen's ceil-division: a bit count this large would wrap the
	// +7 and make a zero-length buffer look consistent.
	if p.BitArraySizeBits > math.MaxUint64-7 {
		return nil, fmt.Errorf("%w: bit array size %d too large", domain.ErrFormat, p.BitArraySizeBits)
	}
	if want := headerLen + p.ByteLen(); uint64(len(buf)) < want {
		return nil, fmt.Errorf("%w: declared length %d exceeds buffer %d", domain.ErrFormat, want, len(buf))
	}

	bits, err := NewBitVectorFromBytes(p.BitArraySizeBits, buf[headerLen:])
	if err != nil {
		return nil, err
	}
	return &Filter{params: p, bits: bits}, nil
}
