package board

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

var (
	ErrNoteNotFound     = errors.New("note not found")
	ErrNestedStack      = errors.New("cannot stack onto a note that is itself stacked")
	ErrSelfStack        = errors.New("cannot stack a note onto itself")
	ErrStackColumn      = errors.New("stacked note must share its parent's column")
	ErrNotStacked       = errors.New("note is not stacked")
	ErrInvalidPositions = errors.New("invalid note positions")
)

// groupOf returns the notes sharing (column, stack), ordered by rank, leaving
// out any note whose id is in skip.
func groupOf(notes []Note, column, stack string, skip ...string) []Note {
	out := make([]Note, 0)
	for _, n := range notes {
		if n.Position.Column != column || n.Position.Stack != stack || slices.Contains(skip, n.ID) {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position.Rank < out[j].Position.Rank })
	return out
}

// fit finds k consecutive ranks for notes inserted before others[idx],
// preferring to start at preferred. If they do not fit there but the gap
// between the neighbours is wide enough, they end right below others[idx],
// lower than preferred. Only when the gap is too small are the notes from idx
// onwards pushed up and returned in shifts.
func fit(others []Note, idx, preferred, k int) (start int, shifts map[string]int) {
	lo := -1
	if idx > 0 {
		lo = others[idx-1].Position.Rank
	}
	start = max(preferred, lo+1)
	if idx >= len(others) {
		return start, nil
	}
	hi := others[idx].Position.Rank
	if start+k-1 < hi {
		return start, nil
	}
	if hi-k > lo {
		return hi - k, nil
	}
	shifts = make(map[string]int)
	next := start + k
	for _, n := range others[idx:] {
		rank := n.Position.Rank
		if rank < next {
			rank = next
			shifts[n.ID] = rank
		}
		next = rank + 1
	}
	return start, shifts
}

func noteAt(notes []Note, id string) int {
	return slices.IndexFunc(notes, func(n Note) bool { return n.ID == id })
}

func applyShifts(notes []Note, shifts map[string]int) {
	for i := range notes {
		if rank, ok := shifts[notes[i].ID]; ok {
			notes[i].Position.Rank = rank
		}
	}
}

// Place moves a note into the (column, stack) group, before the first other
// member whose rank is at least rank. It takes rank itself when that is free
// of the next member; otherwise it takes the highest free rank below that
// member, which may be lower than rank, and only shifts the following members
// up when no rank between the neighbours is free. The input slice is not
// modified.
//
// An empty column with a non-empty stack takes the parent's column. When a
// stack parent is moved into another stack its children come along and sit
// directly after it; when it only changes column the children follow it.
func Place(notes []Note, id, column, stack string, rank int) ([]Note, error) {
	out := slices.Clone(notes)
	i := noteAt(out, id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	if stack != "" {
		if stack == id {
			return nil, ErrSelfStack
		}
		p := noteAt(out, stack)
		if p < 0 {
			return nil, fmt.Errorf("%w: stack parent %s", ErrNoteNotFound, stack)
		}
		parent := out[p]
		if parent.Stacked() {
			return nil, ErrNestedStack
		}
		if column == "" {
			column = parent.Position.Column
		} else if column != parent.Position.Column {
			return nil, ErrStackColumn
		}
	}
	if column == "" {
		column = out[i].Position.Column
	}

	children := groupOf(out, out[i].Position.Column, id)
	unit := []string{id}
	if stack != "" {
		for _, c := range children {
			unit = append(unit, c.ID)
		}
	}

	others := groupOf(out, column, stack, unit...)
	idx := sort.Search(len(others), func(k int) bool { return others[k].Position.Rank >= rank })
	start, shifts := fit(others, idx, rank, len(unit))
	applyShifts(out, shifts)

	for k, uid := range unit {
		j := noteAt(out, uid)
		out[j].Position = Position{Column: column, Stack: stack, Rank: start + k}
	}
	if stack == "" {
		for _, c := range children {
			j := noteAt(out, c.ID)
			out[j].Position.Column = column
		}
	}
	return out, nil
}

// Unstack takes a note out of its stack and puts it immediately before its
// former parent, preferring rank max(parentRank-1, 0).
func Unstack(notes []Note, id string) ([]Note, error) {
	out := slices.Clone(notes)
	i := noteAt(out, id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	n := out[i]
	if !n.Stacked() {
		return nil, ErrNotStacked
	}
	p := noteAt(out, n.Position.Stack)
	if p < 0 {
		return nil, fmt.Errorf("%w: stack parent %s", ErrNoteNotFound, n.Position.Stack)
	}
	parent := out[p]

	others := groupOf(out, parent.Position.Column, "", id)
	idx := slices.IndexFunc(others, func(o Note) bool { return o.ID == parent.ID })
	start, shifts := fit(others, idx, max(parent.Position.Rank-1, 0), 1)
	applyShifts(out, shifts)
	out[i].Position = Position{Column: parent.Position.Column, Rank: start}
	return out, nil
}

// ValidateNotes checks the positional invariants: unique ids, stacks one
// level deep, stacked notes in their parent's column, and distinct
// non-negative ranks within each (column, stack) group.
func ValidateNotes(notes []Note) error {
	byID := make(map[string]Note, len(notes))
	for _, n := range notes {
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("%w: duplicate note %s", ErrInvalidPositions, n.ID)
		}
		byID[n.ID] = n
	}
	type group struct{ column, stack string }
	ranks := make(map[group]map[int]string)
	for _, n := range notes {
		if n.Position.Rank < 0 {
			return fmt.Errorf("%w: note %s has negative rank", ErrInvalidPositions, n.ID)
		}
		if n.Stacked() {
			parent, ok := byID[n.Position.Stack]
			if !ok {
				return fmt.Errorf("%w: note %s stacked onto missing %s", ErrInvalidPositions, n.ID, n.Position.Stack)
			}
			if parent.Stacked() {
				return fmt.Errorf("%w: note %s is in a nested stack", ErrInvalidPositions, n.ID)
			}
			if parent.Position.Column != n.Position.Column {
				return fmt.Errorf("%w: note %s is not in its parent's column", ErrInvalidPositions, n.ID)
			}
		}
		g := group{n.Position.Column, n.Position.Stack}
		if ranks[g] == nil {
			ranks[g] = make(map[int]string)
		}
		if other, taken := ranks[g][n.Position.Rank]; taken {
			return fmt.Errorf("%w: notes %s and %s share rank %d", ErrInvalidPositions, other, n.ID, n.Position.Rank)
		}
		ranks[g][n.Position.Rank] = n.ID
	}
	return nil
}
