package dispatch

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/astromechza/boardsync/pkg/api"
)

type Severity int

const (
	// SeverityInvalid means the action was refused before anything changed.
	SeverityInvalid Severity = iota
	// SeverityTransport means the local change stands but the request failed.
	SeverityTransport
)

func (s Severity) String() string {
	switch s {
	case SeverityInvalid:
		return "invalid"
	case SeverityTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Notification is a dismissible message for the user. Retry is set only for
// transport failures and sends the identical request again.
type Notification struct {
	Severity Severity
	Action   string
	Err      error
	Retry    func()
}

type Notifier interface {
	Notify(Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to a logger and never retries.
type LogNotifier struct {
	Log *slog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("action failed", "action", n.Action, "severity", n.Severity.String(), "err", n.Err, "retryable", n.Retry != nil)
}

// PendingOp is a request that failed and has not been confirmed since.
type PendingOp struct {
	Action   string
	Request  api.Request
	Err      error
	FailedAt time.Time
}

// pendingKey identifies one kind of change to one entity. A success for a
// different action on the same entity leaves the failure in place.
type pendingKey struct {
	action string
	entity string
}

// PendingLog tracks failed requests by action and entity id until the same
// action later succeeds or a full snapshot supersedes them.
type PendingLog struct {
	mu  sync.Mutex
	ops map[pendingKey]PendingOp
}

func newPendingLog() *PendingLog {
	return &PendingLog{ops: make(map[pendingKey]PendingOp)}
}

func (p *PendingLog) record(op PendingOp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops[pendingKey{op.Action, op.Request.Entity}] = op
}

func (p *PendingLog) resolve(action, entity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ops, pendingKey{action, entity})
}

// forget drops every failure for an entity that no longer exists.
func (p *PendingLog) forget(entity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.ops {
		if k.entity == entity {
			delete(p.ops, k)
		}
	}
}

// Clear forgets every pending failure.
func (p *PendingLog) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = make(map[pendingKey]PendingOp)
}

// List returns the pending failures ordered by entity id, then action.
func (p *PendingLog) List() []PendingOp {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingOp, 0, len(p.ops))
	for _, op := range p.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Request.Entity != out[j].Request.Entity {
			return out[i].Request.Entity < out[j].Request.Entity
		}
		return out[i].Action < out[j].Action
	})
	return out
}
