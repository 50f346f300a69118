// Package journal records every turn of a board session in an automerge
// document, so a session can be saved, inspected and replayed afterwards.
package journal

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/boardsync/pkg/board"
)

const (
	statePath = "state"
	turnsPath = "turns"
)

var ErrNoState = errors.New("no state recorded")

// Journal is safe for concurrent use.
type Journal struct {
	mu  sync.Mutex
	doc *automerge.Doc
	log *slog.Logger
}

// New starts an empty journal written by actor.
func New(actor string) (*Journal, error) {
	doc := automerge.New()
	if actor != "" {
		if err := doc.SetActorID(hex.EncodeToString([]byte(actor))); err != nil {
			return nil, fmt.Errorf("failed to set actor: %w", err)
		}
	}
	if err := doc.Path(turnsPath).Set(automerge.NewCounter(0)); err != nil {
		return nil, fmt.Errorf("failed to seed journal: %w", err)
	}
	if _, err := doc.Commit("seed"); err != nil {
		return nil, fmt.Errorf("failed to seed journal: %w", err)
	}
	return &Journal{doc: doc, log: slog.Default()}, nil
}

// Load reads a journal written by Save.
func Load(raw []byte) (*Journal, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	return &Journal{doc: doc, log: slog.Default()}, nil
}

// Record commits one turn. The label becomes the change message.
func (j *Journal) Record(label string, st *board.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.doc.Path(statePath).Set(string(raw)); err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}
	if err := j.doc.Path(turnsPath).Counter().Inc(1); err != nil {
		return fmt.Errorf("failed to increment turns: %w", err)
	}
	if _, err := j.doc.Commit(label); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Listener records every turn of a store. Failures are logged.
func (j *Journal) Listener() board.Listener {
	return func(label string, st *board.State) {
		if err := j.Record(label, st); err != nil {
			j.log.Error("failed to journal turn", "label", label, "err", err)
		}
	}
}

func (j *Journal) Save() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.doc.Save()
}

// Fork returns an independent copy of the underlying document.
func (j *Journal) Fork() (*automerge.Doc, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.doc.Fork()
}

// Turns is the number of recorded turns.
func (j *Journal) Turns() (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.doc.Path(turnsPath).Counter().Get()
}

// Latest returns the most recently recorded state.
func (j *Journal) Latest() (*board.State, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return StateOf(j.doc)
}

// StateOf decodes the state held by doc.
func StateOf(doc *automerge.Doc) (*board.State, error) {
	v, err := doc.Path(statePath).Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	raw, ok := v.Interface().(string)
	if !ok {
		return nil, ErrNoState
	}
	var st board.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &st, nil
}

// Entry describes one recorded change.
type Entry struct {
	Hash    string
	Parents []string
	Actor   string
	Seq     uint64
	Label   string
	Time    time.Time
	Turn    int64
	Notes   int
}

// Entries lists every change with the state it left behind.
func (j *Journal) Entries() ([]Entry, error) {
	doc, err := j.Fork()
	if err != nil {
		return nil, fmt.Errorf("failed to fork: %w", err)
	}
	return EntriesOf(doc)
}

func EntriesOf(doc *automerge.Doc) ([]Entry, error) {
	changes, err := doc.Changes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate changes: %w", err)
	}
	out := make([]Entry, 0, len(changes))
	for _, change := range changes {
		docAt, err := doc.Fork(change.Hash())
		if err != nil {
			return nil, fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		e := Entry{
			Hash:  change.Hash().String(),
			Actor: change.ActorID(),
			Seq:   change.ActorSeq(),
			Label: change.Message(),
			Time:  change.Timestamp(),
		}
		for _, dep := range change.Dependencies() {
			e.Parents = append(e.Parents, dep.String())
		}
		e.Turn, _ = docAt.Path(turnsPath).Counter().Get()
		if st, err := StateOf(docAt); err == nil {
			e.Notes = len(st.Notes)
		}
		out = append(out, e)
	}
	return out, nil
}
