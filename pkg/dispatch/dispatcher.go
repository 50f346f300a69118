package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/astromechza/boardsync/pkg/api"
	"github.com/astromechza/boardsync/pkg/board"
)

var (
	ErrSharedNoteDeletion = errors.New("cannot delete the shared note outside of moderation")
	ErrVotingAlreadyOpen  = errors.New("a voting is already open")
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "boardsync_dispatch_requests_total",
	Help: "Optimistic actions by action and result",
}, []string{"action", "result"})

// Executor runs a request off the caller's turn.
type Executor func(func())

// Dispatcher applies user actions to the store straight away and then sends
// the matching request. Failed requests are never rolled back locally.
type Dispatcher struct {
	boardID   string
	self      string
	store     *board.Store
	transport api.Transport
	notifier  Notifier
	exec      Executor
	ctx       context.Context
	timeout   time.Duration
	log       *slog.Logger
	pending   *PendingLog
	now       func() time.Time
	newID     func() string
}

type Option func(*Dispatcher)

func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

func WithExecutor(e Executor) Option {
	return func(d *Dispatcher) { d.exec = e }
}

// WithContext sets the parent context of every request.
func WithContext(ctx context.Context) Option {
	return func(d *Dispatcher) { d.ctx = ctx }
}

func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithIDs(newID func() string) Option {
	return func(d *Dispatcher) { d.newID = newID }
}

func New(boardID, self string, store *board.Store, transport api.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		boardID:   boardID,
		self:      self,
		store:     store,
		transport: transport,
		notifier:  LogNotifier{},
		exec:      func(f func()) { go f() },
		ctx:       context.Background(),
		timeout:   10 * time.Second,
		log:       slog.Default(),
		pending:   newPendingLog(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Pending exposes the requests that failed and were not confirmed since.
func (d *Dispatcher) Pending() *PendingLog {
	return d.pending
}

// Reconciled is called once a full snapshot has replaced the tree; any
// divergence from failed requests is gone with it.
func (d *Dispatcher) Reconciled() {
	d.pending.Clear()
}

// dispatch runs mutate as one turn, builds the request from the mutated tree
// and sends it. live reports whether the request still refers to something
// in the tree once it completes; nil means always.
func (d *Dispatcher) dispatch(action string, mutate func(*board.State) error, build func(*board.State) api.Request, live func(*board.State) bool) error {
	var req api.Request
	err := d.store.Update(action, func(st *board.State) error {
		if err := mutate(st); err != nil {
			return err
		}
		req = build(st)
		return nil
	})
	if err != nil {
		return d.refuse(action, err)
	}
	d.send(action, req, live)
	return nil
}

func (d *Dispatcher) refuse(action string, err error) error {
	requestsTotal.WithLabelValues(action, "refused").Inc()
	d.notifier.Notify(Notification{Severity: SeverityInvalid, Action: action, Err: err})
	return fmt.Errorf("failed to %s: %w", action, err)
}

func (d *Dispatcher) send(action string, req api.Request, live func(*board.State) bool) {
	d.exec(func() {
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		defer cancel()
		err := d.transport.Do(ctx, req)
		d.complete(action, req, live, err)
	})
}

func (d *Dispatcher) complete(action string, req api.Request, live func(*board.State) bool, err error) {
	if live != nil {
		stale := false
		d.store.View(func(st *board.State) { stale = !live(st) })
		if stale {
			requestsTotal.WithLabelValues(action, "stale").Inc()
			d.log.Debug("ignoring result for entity that is gone", "action", action, "entity", req.Entity, "err", err)
			d.pending.forget(req.Entity)
			return
		}
	}
	if err == nil {
		requestsTotal.WithLabelValues(action, "ok").Inc()
		d.pending.resolve(action, req.Entity)
		return
	}
	requestsTotal.WithLabelValues(action, "failed").Inc()
	d.log.Warn("request failed", "action", action, "entity", req.Entity, "err", err)
	d.pending.record(PendingOp{Action: action, Request: req, Err: err, FailedAt: d.now()})
	d.notifier.Notify(Notification{
		Severity: SeverityTransport,
		Action:   action,
		Err:      err,
		Retry:    func() { d.send(action, req, live) },
	})
}

func noteExists(id string) func(*board.State) bool {
	return func(st *board.State) bool {
		_, ok := st.Note(id)
		return ok
	}
}

func participantExists(id string) func(*board.State) bool {
	return func(st *board.State) bool {
		_, ok := st.Participant(id)
		return ok
	}
}

func movedNote(boardID, id string) func(*board.State) api.Request {
	return func(st *board.State) api.Request {
		n, _ := st.Note(id)
		return api.MoveNote(boardID, id, n.Position)
	}
}

// AddNote creates a note at the end of column and returns its id.
func (d *Dispatcher) AddNote(column, text string) (string, error) {
	id := d.newID()
	err := d.dispatch("add note",
		func(st *board.State) error {
			_, err := st.AddNote(id, d.self, column, text)
			return err
		},
		func(*board.State) api.Request { return api.CreateNote(d.boardID, id, column, text) },
		noteExists(id))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (d *Dispatcher) EditNote(id, text string) error {
	return d.dispatch("edit note",
		func(st *board.State) error { return st.EditNote(id, text) },
		func(*board.State) api.Request { return api.EditNoteText(d.boardID, id, text) },
		noteExists(id))
}

// MoveNote places a note at (column, stack, rank). An empty stack moves it
// out of any stack.
func (d *Dispatcher) MoveNote(id, column, stack string, rank int) error {
	return d.dispatch("move note",
		func(st *board.State) error { return st.MoveNote(id, column, stack, rank) },
		movedNote(d.boardID, id),
		noteExists(id))
}

func (d *Dispatcher) StackNote(id, onto string) error {
	return d.dispatch("stack note",
		func(st *board.State) error { return st.StackNote(id, onto) },
		movedNote(d.boardID, id),
		noteExists(id))
}

// UnstackNote puts a note back into its column right before its former parent.
func (d *Dispatcher) UnstackNote(id string) error {
	return d.dispatch("unstack note",
		func(st *board.State) error { return st.UnstackNote(id) },
		movedNote(d.boardID, id),
		noteExists(id))
}

// DeleteNote refuses to delete the shared note unless a moderation is running.
func (d *Dispatcher) DeleteNote(id string, deleteStack bool) error {
	return d.dispatch("delete note",
		func(st *board.State) error {
			if st.Board.SharedNote == id && !st.Board.ModerationActive() {
				return ErrSharedNoteDeletion
			}
			return st.DeleteNote(id, deleteStack)
		},
		func(*board.State) api.Request { return api.DeleteNote(d.boardID, id, deleteStack) },
		nil)
}

func (d *Dispatcher) EditColumn(id string, patch board.ColumnPatch) error {
	return d.dispatch("edit column",
		func(st *board.State) error { return st.EditColumn(id, patch) },
		func(*board.State) api.Request { return api.EditColumn(d.boardID, id, patch) },
		func(st *board.State) bool {
			_, ok := st.Column(id)
			return ok
		})
}

func (d *Dispatcher) EditBoard(patch board.BoardPatch) error {
	return d.dispatch("edit board",
		func(st *board.State) error {
			st.PatchBoard(patch)
			return nil
		},
		func(*board.State) api.Request { return api.EditBoard(d.boardID, patch) },
		nil)
}

func (d *Dispatcher) SetTimer(duration time.Duration) error {
	if duration <= 0 {
		return d.refuse("set timer", fmt.Errorf("timer duration must be positive, got %s", duration))
	}
	return d.dispatch("set timer",
		func(st *board.State) error {
			start := d.now()
			st.SetTimer(start, start.Add(duration))
			return nil
		},
		func(*board.State) api.Request { return api.SetTimer(d.boardID, duration) },
		nil)
}

func (d *Dispatcher) CancelTimer() error {
	return d.dispatch("cancel timer",
		func(st *board.State) error {
			st.CancelTimer()
			return nil
		},
		func(*board.State) api.Request { return api.CancelTimer(d.boardID) },
		nil)
}

func (d *Dispatcher) ShareNote(id string) error {
	return d.dispatch("share note",
		func(st *board.State) error { return st.ShareNote(id) },
		func(*board.State) api.Request { return api.ShareNote(d.boardID, id) },
		noteExists(id))
}

func (d *Dispatcher) StopSharing() error {
	return d.dispatch("stop sharing",
		func(st *board.State) error { return st.ShareNote("") },
		func(*board.State) api.Request { return api.ShareNote(d.boardID, "") },
		nil)
}

func (d *Dispatcher) EditParticipant(userID string, patch board.ParticipantPatch) error {
	return d.dispatch("edit participant",
		func(st *board.State) error { return st.PatchParticipant(userID, patch) },
		func(*board.State) api.Request { return api.EditParticipant(d.boardID, userID, patch) },
		participantExists(userID))
}

func (d *Dispatcher) ChangeRole(userID string, role board.Role) error {
	return d.dispatch("change role",
		func(st *board.State) error { return st.SetRole(userID, role) },
		func(*board.State) api.Request { return api.ChangeRole(d.boardID, userID, role) },
		participantExists(userID))
}

func (d *Dispatcher) EditSelf(name, avatar string) error {
	return d.dispatch("edit self",
		func(st *board.State) error { return st.SetProfile(d.self, name, avatar) },
		func(*board.State) api.Request { return api.EditSelf(d.self, name, avatar) },
		nil)
}

func (d *Dispatcher) AcceptRequests(userIDs ...string) error {
	return d.answerRequests("accept requests", userIDs, board.RequestAccepted)
}

func (d *Dispatcher) RejectRequests(userIDs ...string) error {
	return d.answerRequests("reject requests", userIDs, board.RequestRejected)
}

func (d *Dispatcher) answerRequests(action string, userIDs []string, status board.RequestStatus) error {
	return d.dispatch(action,
		func(st *board.State) error {
			st.SetRequestStatus(userIDs, status)
			return nil
		},
		func(*board.State) api.Request { return api.AnswerRequests(d.boardID, userIDs, status) },
		nil)
}

// CreateVoting opens a new voting with the given rules and returns its id.
func (d *Dispatcher) CreateVoting(rules board.Voting) (string, error) {
	rules.ID = d.newID()
	rules.Status = board.VotingOpen
	rules.VoteResults = nil
	err := d.dispatch("create voting",
		func(st *board.State) error {
			if _, open := st.OpenVoting(); open {
				return ErrVotingAlreadyOpen
			}
			st.UpsertVoting(rules)
			return nil
		},
		func(*board.State) api.Request { return api.CreateVoting(d.boardID, rules) },
		nil)
	if err != nil {
		return "", err
	}
	return rules.ID, nil
}

func (d *Dispatcher) CloseVoting() error {
	return d.finishVoting("close voting", board.VotingClosed)
}

func (d *Dispatcher) AbortVoting() error {
	return d.finishVoting("abort voting", board.VotingAborted)
}

func (d *Dispatcher) finishVoting(action string, status board.VotingStatus) error {
	var id string
	return d.dispatch(action,
		func(st *board.State) error {
			v, ok := st.OpenVoting()
			if !ok {
				return board.ErrVotingClosed
			}
			id = v.ID
			v.Status = status
			st.UpsertVoting(v)
			if status == board.VotingAborted {
				st.DropVotes(v.ID)
			}
			return nil
		},
		func(*board.State) api.Request { return api.SetVotingStatus(d.boardID, id, status) },
		nil)
}

func (d *Dispatcher) AddVote(note string) error {
	return d.dispatch("add vote",
		func(st *board.State) error {
			_, err := st.AddVote(note, d.self)
			return err
		},
		func(*board.State) api.Request { return api.AddVote(d.boardID, note) },
		noteExists(note))
}

func (d *Dispatcher) RemoveVote(note string) error {
	return d.dispatch("remove vote",
		func(st *board.State) error { return st.RemoveVote(note, d.self) },
		func(*board.State) api.Request { return api.RemoveVote(d.boardID, note) },
		noteExists(note))
}

func (d *Dispatcher) AddReaction(note, reactionType string) (string, error) {
	r := board.Reaction{ID: d.newID(), Note: note, User: d.self, ReactionType: reactionType}
	err := d.dispatch("add reaction",
		func(st *board.State) error { return st.AddReaction(r) },
		func(*board.State) api.Request { return api.AddReaction(d.boardID, r) },
		noteExists(note))
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (d *Dispatcher) RemoveReaction(id string) error {
	return d.dispatch("remove reaction",
		func(st *board.State) error {
			st.RemoveReaction(id)
			return nil
		},
		func(*board.State) api.Request { return api.RemoveReaction(d.boardID, id) },
		nil)
}
