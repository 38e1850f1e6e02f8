package domain

import "fmt"

// Key identifies one tracked column: the owning table plus the attribute
// within it. Keys are comparable and used directly as registry map keys.
type Key struct {
	Table  string
	Column string
}

// NewKey validates and constructs a Key. Both parts must be non-empty.
func NewKey(table, column string) (Key, error) {
	if table == "" || column == "" {
		return Key{}, fmt.Errorf("%w: table and column must be non-empty", ErrInvalidParameter)
	}
	return Key{Table: table, Column: column}, nil
}

// String renders the key in table.column form for logs and metrics labels.
func (k Key) String() string {
	return k.Table + "." + k.Column
}
