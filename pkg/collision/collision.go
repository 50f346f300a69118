// Package collision picks drop targets while a note is being dragged.
package collision

import (
	"sort"
	"sync"
)

// DefaultThreshold is the overlap a competing note needs before it takes over
// from the current target.
const DefaultThreshold = 0.3

type Rect struct {
	X, Y, Width, Height float64
}

func (r Rect) area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

func (r Rect) intersect(o Rect) float64 {
	w := min(r.X+r.Width, o.X+o.Width) - max(r.X, o.X)
	h := min(r.Y+r.Height, o.Y+o.Height) - max(r.Y, o.Y)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Ratio is the intersection over union of two rectangles, in [0, 1].
func Ratio(a, b Rect) float64 {
	inter := a.intersect(b)
	if inter == 0 {
		return 0
	}
	union := a.area() + b.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

type Kind int

const (
	KindNote Kind = iota
	KindColumn
)

type Droppable struct {
	ID   string
	Kind Kind
	Rect Rect
}

type Collision struct {
	ID    string
	Kind  Kind
	Ratio float64
}

// Resolver ranks drop targets on every tick and remembers the note that was
// last confirmed as the target, so that hovering between two notes does not
// flip the target back and forth.
type Resolver struct {
	threshold float64

	mu        sync.Mutex
	confirmed string
}

func NewResolver(threshold float64) *Resolver {
	if threshold < 0 {
		threshold = 0
	}
	return &Resolver{threshold: threshold}
}

// Start resets the confirmed target at the beginning of a drag.
func (r *Resolver) Start() {
	r.reset()
}

// End resets the confirmed target once the drag is dropped or cancelled.
func (r *Resolver) End() {
	r.reset()
}

func (r *Resolver) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = ""
}

// Confirmed returns the note currently held as the target, if any.
func (r *Resolver) Confirmed() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.confirmed, r.confirmed != ""
}

// Resolve returns the candidates that overlap active, most overlapping first.
// A confirmed note stays first until another note overlaps it by more than
// the threshold and more than the confirmed note does; that note then becomes
// the target.
func (r *Resolver) Resolve(active Rect, candidates []Droppable) []Collision {
	out := make([]Collision, 0, len(candidates))
	for _, c := range candidates {
		if ratio := Ratio(active, c.Rect); ratio > 0 {
			out = append(out, Collision{ID: c.ID, Kind: c.Kind, Ratio: ratio})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ratio > out[j].Ratio })

	r.mu.Lock()
	defer r.mu.Unlock()

	held, top := -1, -1
	for i, c := range out {
		if c.Kind != KindNote {
			continue
		}
		if top < 0 {
			top = i
		}
		if c.ID == r.confirmed {
			held = i
		}
	}

	switch {
	case held >= 0 && (held == top || out[top].Ratio <= r.threshold):
		if held > 0 {
			kept := out[held]
			copy(out[1:held+1], out[:held])
			out[0] = kept
		}
	case top >= 0:
		r.confirmed = out[top].ID
	default:
		r.confirmed = ""
	}
	return out
}
