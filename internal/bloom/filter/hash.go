package filter

import "github.com/cespare/xxhash/v2"

const (
	djb2Seed = 5381
	fnvSeed  = 0x9e3779b97f4a7c15
	fnvPrime = 0x100000001b3
)

// doubleHash derives the two independent 64-bit hashes that seed position
// generation: position i is (h1 + i*h2) mod m. The two functions use
// unrelated algorithms and seeds so bit positions stay uncorrelated.
// Empty input yields the fixed pair (0, 1) so empty-key membership tests
// are well-defined.
func doubleHash(data []byte) (h1, h2 uint64) {
	return hashPrimary(data), hashSecondary(data)
}

func hashPrimary(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	if h := xxhash.Sum64(data); h != 0 {
		return h
	}
	// xxhash collapsed to zero, which doubles as the empty-input sentinel.
	// Fall back to DJB2 so the value stays distinguishable.
	return djb2(data)
}

func djb2(data []byte) uint64 {
	h := uint64(djb2Seed)
	for _, b := range data {
		h = h*33 + uint64(b)
	}
	return h
}

// hashSecondary is an FNV-1a variant with a distinct seed, folding the high
// 32 bits back in after every byte.
func hashSecondary(data []byte) uint64 {
	if len(data) == 0 {
		return 1
	}
	h := uint64(fnvSeed)
	for _, b := range data {
		h ^= uint64(b)
		h *= fnvPrime
		h ^= h >> 32
	}
	return h
}
