package viz

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-graphviz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/boardsync/pkg/board"
	"github.com/astromechza/boardsync/pkg/journal"
)

func TestLabel(t *testing.T) {
	e := journal.Entry{Hash: "0123456789abcdef", Actor: "7531", Seq: 3, Label: "add note", Turn: 2, Notes: 5}
	assert.Equal(t, "01234567 7531@3\nadd note\nturn 2, 5 notes", Label(e))
}

func TestRenderRejectsDanglingParent(t *testing.T) {
	var buff bytes.Buffer
	err := Render([]journal.Entry{{Hash: "b", Parents: []string{"a"}}}, graphviz.SVG, &buff)
	assert.Error(t, err)
}

func TestRenderJournal(t *testing.T) {
	j, err := journal.New("u1")
	require.NoError(t, err)
	require.NoError(t, j.Record("INIT", &board.State{Board: board.Board{ID: "b1"}}))
	require.NoError(t, j.Record("add note", &board.State{Notes: []board.Note{{ID: "n1"}}}))

	out := filepath.Join(t.TempDir(), "journal.svg")
	require.NoError(t, RenderToFile(j, out))
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<svg")
	assert.Contains(t, string(raw), "add note")
}
