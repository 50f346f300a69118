package board

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

var (
	ErrColumnNotFound = errors.New("column not found")
	ErrInvalidColumns = errors.New("invalid column order")
)

// MoveColumn moves a column to index, clamped to the column count, and
// renumbers every column so the indices stay dense.
func MoveColumn(columns []Column, id string, index int) ([]Column, error) {
	out := slices.Clone(columns)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	i := slices.IndexFunc(out, func(c Column) bool { return c.ID == id })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, id)
	}
	moved := out[i]
	out = slices.Delete(out, i, i+1)
	index = min(max(index, 0), len(out))
	out = slices.Insert(out, index, moved)
	for k := range out {
		out[k].Index = k
	}
	return out, nil
}

// ValidateColumns checks that ids are unique and indices are a permutation
// of [0..N-1].
func ValidateColumns(columns []Column) error {
	ids := make(map[string]struct{}, len(columns))
	seen := make([]bool, len(columns))
	for _, c := range columns {
		if _, dup := ids[c.ID]; dup {
			return fmt.Errorf("%w: duplicate column %s", ErrInvalidColumns, c.ID)
		}
		ids[c.ID] = struct{}{}
		if c.Index < 0 || c.Index >= len(columns) || seen[c.Index] {
			return fmt.Errorf("%w: column %s has index %d", ErrInvalidColumns, c.ID, c.Index)
		}
		seen[c.Index] = true
	}
	return nil
}
