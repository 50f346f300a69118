package board

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func note(id, column, stack string, rank int) Note {
	return Note{ID: id, Author: "u1", Text: id, Position: Position{Column: column, Stack: stack, Rank: rank}}
}

func ids(notes []Note) []string {
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.ID)
	}
	return out
}

func find(t *testing.T, notes []Note, id string) Note {
	t.Helper()
	i := noteAt(notes, id)
	require.GreaterOrEqual(t, i, 0, "note %s missing", id)
	return notes[i]
}

func TestPlaceMoveToFront(t *testing.T) {
	notes := []Note{note("a", "x", "", 1), note("b", "x", "", 2), note("c", "x", "", 3)}

	out, err := Place(notes, "c", "x", "", 0)
	require.NoError(t, err)

	group := groupOf(out, "x", "")
	assert.Equal(t, []string{"c", "a", "b"}, ids(group))
	assert.Equal(t, 0, find(t, out, "c").Position.Rank)
	assert.Equal(t, 1, find(t, out, "a").Position.Rank)
	assert.Equal(t, 2, find(t, out, "b").Position.Rank)
	// input untouched
	assert.Equal(t, 3, notes[2].Position.Rank)
}

func TestPlaceIntoOccupiedRankShiftsFollowers(t *testing.T) {
	notes := []Note{note("a", "x", "", 0), note("b", "x", "", 1), note("c", "x", "", 2)}

	out, err := Place(notes, "c", "x", "", 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c", "b"}, ids(groupOf(out, "x", "")))
	assert.Equal(t, 1, find(t, out, "c").Position.Rank)
	assert.Equal(t, 2, find(t, out, "b").Position.Rank)
}

func TestPlaceUsesGapWithoutShifting(t *testing.T) {
	notes := []Note{note("a", "x", "", 0), note("b", "x", "", 10), note("c", "y", "", 0)}

	out, err := Place(notes, "c", "x", "", 10)
	require.NoError(t, err)

	assert.Equal(t, 9, find(t, out, "c").Position.Rank)
	assert.Equal(t, 10, find(t, out, "b").Position.Rank)
	assert.Equal(t, "x", find(t, out, "c").Position.Column)
}

func TestPlaceRejectsNestedStack(t *testing.T) {
	notes := []Note{note("a", "x", "", 0), note("b", "x", "a", 0), note("c", "x", "", 1)}

	_, err := Place(notes, "c", "", "b", 0)
	assert.ErrorIs(t, err, ErrNestedStack)

	_, err = Place(notes, "c", "", "c", 0)
	assert.ErrorIs(t, err, ErrSelfStack)

	_, err = Place(notes, "c", "y", "a", 0)
	assert.ErrorIs(t, err, ErrStackColumn)

	_, err = Place(notes, "missing", "x", "", 0)
	assert.ErrorIs(t, err, ErrNoteNotFound)
}

func TestPlaceStackCarriesChildren(t *testing.T) {
	notes := []Note{
		note("a", "x", "", 0),
		note("a1", "x", "a", 0),
		note("a2", "x", "a", 1),
		note("b", "y", "", 0),
	}

	out, err := Place(notes, "a", "", "b", 0)
	require.NoError(t, err)
	require.NoError(t, ValidateNotes(out))

	assert.Equal(t, []string{"a", "a1", "a2"}, ids(groupOf(out, "y", "b")))
	for _, id := range []string{"a", "a1", "a2"} {
		assert.Equal(t, "y", find(t, out, id).Position.Column)
	}
}

func TestPlaceColumnChangeCarriesChildren(t *testing.T) {
	notes := []Note{note("a", "x", "", 0), note("a1", "x", "a", 0)}

	out, err := Place(notes, "a", "y", "", 0)
	require.NoError(t, err)

	assert.Equal(t, Position{Column: "y", Stack: "a", Rank: 0}, find(t, out, "a1").Position)
	require.NoError(t, ValidateNotes(out))
}

func TestUnstack(t *testing.T) {
	t.Run("takes rank below parent when free", func(t *testing.T) {
		notes := []Note{note("p", "x", "", 5), note("s", "x", "p", 0)}

		out, err := Unstack(notes, "s")
		require.NoError(t, err)

		assert.Equal(t, Position{Column: "x", Rank: 4}, find(t, out, "s").Position)
		assert.Equal(t, 5, find(t, out, "p").Position.Rank)
	})

	t.Run("stays directly before parent when rank is taken", func(t *testing.T) {
		notes := []Note{note("q", "x", "", 4), note("p", "x", "", 5), note("s", "x", "p", 0)}

		out, err := Unstack(notes, "s")
		require.NoError(t, err)

		assert.Equal(t, []string{"q", "s", "p"}, ids(groupOf(out, "x", "")))
		require.NoError(t, ValidateNotes(out))
	})

	t.Run("parent at rank zero", func(t *testing.T) {
		notes := []Note{note("p", "x", "", 0), note("s", "x", "p", 0)}

		out, err := Unstack(notes, "s")
		require.NoError(t, err)

		assert.Equal(t, []string{"s", "p"}, ids(groupOf(out, "x", "")))
		assert.Equal(t, 0, find(t, out, "s").Position.Rank)
	})

	t.Run("not stacked", func(t *testing.T) {
		_, err := Unstack([]Note{note("p", "x", "", 0)}, "p")
		assert.ErrorIs(t, err, ErrNotStacked)
	})
}

func TestValidateNotes(t *testing.T) {
	cases := map[string][]Note{
		"duplicate rank":  {note("a", "x", "", 1), note("b", "x", "", 1)},
		"nested stack":    {note("a", "x", "", 0), note("b", "x", "a", 0), note("c", "x", "b", 0)},
		"column mismatch": {note("a", "x", "", 0), note("b", "y", "a", 0)},
		"missing parent":  {note("b", "x", "a", 0)},
		"negative rank":   {note("a", "x", "", -1)},
		"duplicate id":    {note("a", "x", "", 0), note("a", "y", "", 0)},
	}
	for name, notes := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateNotes(notes), ErrInvalidPositions)
		})
	}
	assert.NoError(t, ValidateNotes([]Note{note("a", "x", "", 1), note("b", "x", "", 7), note("c", "x", "a", 1)}))
}

func TestRandomPlacementsKeepInvariants(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	columns := []string{"x", "y", "z"}
	var notes []Note
	for i := 0; i < 12; i++ {
		notes = append(notes, note(fmt.Sprintf("n%d", i), columns[i%3], "", i))
	}
	require.NoError(t, ValidateNotes(notes))

	for step := 0; step < 2000; step++ {
		target := notes[rnd.Intn(len(notes))].ID
		var next []Note
		var err error
		switch rnd.Intn(4) {
		case 0:
			stack := notes[rnd.Intn(len(notes))].ID
			next, err = Place(notes, target, "", stack, rnd.Intn(6))
		case 1:
			next, err = Unstack(notes, target)
		default:
			next, err = Place(notes, target, columns[rnd.Intn(3)], "", rnd.Intn(15))
		}
		if err != nil {
			continue
		}
		require.NoError(t, ValidateNotes(next), "step %d", step)
		require.Len(t, next, len(notes))
		notes = next
	}
}

func TestMoveColumn(t *testing.T) {
	columns := []Column{{ID: "a", Index: 0}, {ID: "b", Index: 1}, {ID: "c", Index: 2}}

	out, err := MoveColumn(columns, "c", 0)
	require.NoError(t, err)
	require.NoError(t, ValidateColumns(out))
	assert.Equal(t, []Column{{ID: "c", Index: 0}, {ID: "a", Index: 1}, {ID: "b", Index: 2}}, out)

	out, err = MoveColumn(columns, "a", 99)
	require.NoError(t, err)
	assert.Equal(t, "a", out[2].ID)
	assert.Equal(t, 2, out[2].Index)

	_, err = MoveColumn(columns, "nope", 0)
	assert.ErrorIs(t, err, ErrColumnNotFound)

	assert.ErrorIs(t, ValidateColumns([]Column{{ID: "a", Index: 0}, {ID: "b", Index: 2}}), ErrInvalidColumns)
}
