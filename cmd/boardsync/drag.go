package main

import (
	"log/slog"
	"math/rand"

	"github.com/astromechza/boardsync/pkg/board"
	"github.com/astromechza/boardsync/pkg/collision"
	"github.com/astromechza/boardsync/pkg/dispatch"
)

// Scripted drags lay the board out as a grid: one lane per column and one
// row per rank.
const (
	laneWidth  = 240.0
	laneHeight = 4000.0
	noteWidth  = 200.0
	noteHeight = 100.0
	rowGap     = 20.0
	dragSteps  = 8
)

type dragLayout struct {
	rects      map[string]collision.Rect
	candidates []collision.Droppable
}

func layoutFor(st *board.State, dragged string) dragLayout {
	l := dragLayout{rects: make(map[string]collision.Rect)}
	for i, col := range st.SortedColumns() {
		x := float64(i) * laneWidth
		l.candidates = append(l.candidates, collision.Droppable{
			ID:   col.ID,
			Kind: collision.KindColumn,
			Rect: collision.Rect{X: x, Width: laneWidth, Height: laneHeight},
		})
		for row, n := range st.NotesIn(col.ID, "") {
			r := collision.Rect{X: x + (laneWidth-noteWidth)/2, Y: float64(row) * (noteHeight + rowGap), Width: noteWidth, Height: noteHeight}
			l.rects[n.ID] = r
			if n.ID != dragged {
				l.candidates = append(l.candidates, collision.Droppable{ID: n.ID, Kind: collision.KindNote, Rect: r})
			}
		}
	}
	return l
}

// dragNote moves a note towards a random other note in small steps and drops
// it on whatever the resolver picks at the end.
func dragNote(resolver *collision.Resolver, store *board.Store, d *dispatch.Dispatcher, id string) {
	var l dragLayout
	store.View(func(st *board.State) { l = layoutFor(st, id) })
	from, ok := l.rects[id]
	if !ok {
		return
	}
	var targets []string
	for _, c := range l.candidates {
		if c.Kind == collision.KindNote {
			targets = append(targets, c.ID)
		}
	}
	if len(targets) == 0 {
		return
	}
	to := l.rects[targets[rand.Intn(len(targets))]]

	resolver.Start()
	defer resolver.End()
	var hits []collision.Collision
	for step := 1; step <= dragSteps; step++ {
		f := float64(step) / dragSteps
		active := collision.Rect{
			X:      from.X + (to.X-from.X)*f,
			Y:      from.Y + (to.Y-from.Y)*f,
			Width:  from.Width,
			Height: from.Height,
		}
		hits = resolver.Resolve(active, l.candidates)
	}
	if len(hits) == 0 {
		slog.Debug("dropped on nothing", "note", id)
		return
	}

	var err error
	switch top := hits[0]; top.Kind {
	case collision.KindNote:
		err = d.StackNote(id, top.ID)
		slog.Info("dropped note", "note", id, "onto", top.ID, "ratio", top.Ratio)
	case collision.KindColumn:
		rank := 0
		store.View(func(st *board.State) { rank = len(st.NotesIn(top.ID, "")) })
		err = d.MoveNote(id, top.ID, "", rank)
		slog.Info("dropped note", "note", id, "column", top.ID, "ratio", top.Ratio)
	}
	if err != nil {
		slog.Warn("drop refused", "note", id, "err", err)
	}
}
