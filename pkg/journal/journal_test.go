package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/boardsync/pkg/board"
)

func seededStore(t *testing.T) *board.Store {
	t.Helper()
	store := board.NewStore("u1")
	store.Replace("INIT", &board.State{
		Board:   board.Board{ID: "b1", Name: "Retro"},
		Columns: []board.Column{{ID: "c1"}},
	})
	return store
}

func TestJournalRecordsEveryTurn(t *testing.T) {
	j, err := New("u1")
	require.NoError(t, err)
	store := seededStore(t)
	store.Subscribe(j.Listener())

	_, err = j.Latest()
	assert.ErrorIs(t, err, ErrNoState)

	for _, id := range []string{"n1", "n2"} {
		require.NoError(t, store.Update("add note", func(st *board.State) error {
			_, err := st.AddNote(id, "u1", "c1", id)
			return err
		}))
	}
	// refused turns are not journaled
	assert.Error(t, store.Update("add note", func(st *board.State) error {
		_, err := st.AddNote("n3", "u1", "missing", "x")
		return err
	}))

	turns, err := j.Turns()
	require.NoError(t, err)
	assert.Equal(t, int64(2), turns)

	latest, err := j.Latest()
	require.NoError(t, err)
	assert.Len(t, latest.Notes, 2)
	assert.Equal(t, "u1", latest.Self)

	entries, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "seed", entries[0].Label)
	assert.Equal(t, "add note", entries[2].Label)
	assert.Equal(t, int64(2), entries[2].Turn)
	assert.Equal(t, 2, entries[2].Notes)
	assert.Equal(t, []string{entries[1].Hash}, entries[2].Parents)
}

func TestSaveAndLoad(t *testing.T) {
	j, err := New("u1")
	require.NoError(t, err)
	require.NoError(t, j.Record("INIT", &board.State{Board: board.Board{ID: "b1"}}))

	loaded, err := Load(j.Save())
	require.NoError(t, err)
	st, err := loaded.Latest()
	require.NoError(t, err)
	assert.Equal(t, "b1", st.Board.ID)

	_, err = Load([]byte("not a doc"))
	assert.Error(t, err)
}

func TestArchive(t *testing.T) {
	a, err := OpenArchive(filepath.Join(t.TempDir(), "journals.sqlite3"))
	require.NoError(t, err)
	defer a.Close()
	ctx := context.Background()

	_, err = a.Get(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotArchived)

	j, err := New("u1")
	require.NoError(t, err)
	require.NoError(t, j.Record("INIT", &board.State{Board: board.Board{ID: "b1"}}))

	changed, err := a.Put(ctx, "b1", j)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = a.Put(ctx, "b1", j)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, j.Record("NOTES_UPDATED", &board.State{Board: board.Board{ID: "b1"}, Notes: []board.Note{{ID: "n1"}}}))
	changed, err = a.Put(ctx, "b1", j)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := a.Get(ctx, "b1")
	require.NoError(t, err)
	turns, err := got.Turns()
	require.NoError(t, err)
	assert.Equal(t, int64(2), turns)

	ids, err := a.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, ids)
}

func TestBackupContinuouslyStoresOnExit(t *testing.T) {
	a, err := OpenArchive(filepath.Join(t.TempDir(), "journals.sqlite3"))
	require.NoError(t, err)
	defer a.Close()
	j, err := New("u1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.BackupContinuously(ctx, time.Hour, "b1", j)
	}()
	require.NoError(t, j.Record("INIT", &board.State{Board: board.Board{ID: "b1"}}))
	cancel()
	<-done

	got, err := a.Get(context.Background(), "b1")
	require.NoError(t, err)
	st, err := got.Latest()
	require.NoError(t, err)
	assert.Equal(t, "b1", st.Board.ID)
}
