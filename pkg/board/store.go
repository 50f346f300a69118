package board

import (
	"slices"
	"sync"
)

// Listener observes the tree after every applied turn. It receives a copy and
// must not call back into the Store.
type Listener func(label string, state *State)

// Store owns the Shared State Tree. Every turn runs under one lock and is
// applied to a copy that replaces the current tree only if it succeeds.
type Store struct {
	mu        sync.Mutex
	state     *State
	listeners map[int]Listener
	order     []int
	nextID    int
}

func NewStore(self string) *Store {
	return &Store{
		state:     &State{Self: self},
		listeners: make(map[int]Listener),
	}
}

// Snapshot returns a copy of the current tree.
func (s *Store) Snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// View runs fn against the current tree without copying it. fn must not
// retain or modify the state.
func (s *Store) View(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// Update applies fn as one turn. When fn fails the tree is left untouched.
func (s *Store) Update(label string, fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.Clone()
	if err := fn(next); err != nil {
		return err
	}
	s.state = next
	s.notifyLocked(label)
	return nil
}

// Replace swaps in a whole new tree. The local user is carried over.
func (s *Store) Replace(label string, state *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := state.Clone()
	next.Self = s.state.Self
	s.state = next
	s.notifyLocked(label)
}

// Subscribe registers a listener and returns a func that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.order = append(s.order, id)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
		s.order = slices.DeleteFunc(s.order, func(o int) bool { return o == id })
	}
}

func (s *Store) notifyLocked(label string) {
	for _, id := range s.order {
		if l, ok := s.listeners[id]; ok {
			l(label, s.state.Clone())
		}
	}
}
