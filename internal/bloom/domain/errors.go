package domain

import "errors"

// Sentinel error kinds shared across the module. Callers wrap these with
// fmt.Errorf("%w: ...") and match with errors.Is.
var (
	// ErrInvalidParameter reports a zero expected count, an out-of-range
	// false-positive rate, or an empty key part.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnknownAttribute reports a key whose column does not exist in the
	// system of record.
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrCapacityExceeded reports that the registry is full.
	ErrCapacityExceeded = errors.New("registry capacity exceeded")

	// ErrAllocationFailure reports a filter whose derived bit buffer would
	// exceed the configured per-filter memory budget.
	ErrAllocationFailure = errors.New("filter allocation failure")

	// ErrFormat reports a serialized filter that is truncated or internally
	// inconsistent.
	ErrFormat = errors.New("malformed filter encoding")

	// ErrUnsupportedOperation reports an operation a plain (non-counting)
	// Bloom filter cannot honor, such as element removal.
	ErrUnsupportedOperation = errors.New("unsupported operation")
)
