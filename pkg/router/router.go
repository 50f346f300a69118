package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/astromechza/boardsync/pkg/board"
	"github.com/astromechza/boardsync/pkg/protocol"
)

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "boardsync_router_messages_total",
	Help: "Inbound board messages by type and result",
}, []string{"type", "result"})

// Router applies server messages to the store one at a time, in the order it
// is given them.
type Router struct {
	store      *board.Store
	log        *slog.Logger
	onLeave    func()
	onSnapshot func()
}

var _ protocol.Handler = (*Router)(nil)

type Option func(*Router)

// WithLeaveHook is called when the server reports the board as deleted.
func WithLeaveHook(fn func()) Option {
	return func(r *Router) { r.onLeave = fn }
}

// WithSnapshotHook is called after every applied INIT.
func WithSnapshotHook(fn func()) Option {
	return func(r *Router) { r.onSnapshot = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

func New(store *board.Store, opts ...Option) *Router {
	r := &Router{store: store, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Process decodes and routes one raw frame. Frames that fail to decode are
// logged and dropped.
func (r *Router) Process(raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		messagesTotal.WithLabelValues("unknown", "malformed").Inc()
		r.log.Warn("dropping malformed message", "err", err)
		return
	}
	r.Route(msg)
}

func (r *Router) Route(msg protocol.Message) {
	msg.Accept(r)
}

func (r *Router) apply(msgType string, fn func(*board.State) error) bool {
	if err := r.store.Update(msgType, fn); err != nil {
		messagesTotal.WithLabelValues(msgType, "rejected").Inc()
		r.log.Warn("rejected message", "type", msgType, "err", err)
		return false
	}
	messagesTotal.WithLabelValues(msgType, "applied").Inc()
	return true
}

func (r *Router) HandleInit(m protocol.Init) {
	st := m.State().Clone()
	if err := validate(st.Columns, st.Notes); err != nil {
		messagesTotal.WithLabelValues(m.Type(), "rejected").Inc()
		r.log.Warn("rejected snapshot", "board", m.Board.ID, "err", err)
		return
	}
	sortColumns(st.Columns)
	r.store.Replace(m.Type(), st)
	messagesTotal.WithLabelValues(m.Type(), "applied").Inc()
	r.log.Info("applied snapshot", "board", m.Board.ID, "columns", len(st.Columns), "notes", len(st.Notes))
	if r.onSnapshot != nil {
		r.onSnapshot()
	}
}

func (r *Router) HandleBoardUpdated(m protocol.BoardUpdated) {
	r.apply(m.Type(), func(st *board.State) error {
		merged := st.Board
		if err := json.Unmarshal(m.Fields, &merged); err != nil {
			return fmt.Errorf("failed to merge board: %w", err)
		}
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(m.Fields, &keys); err != nil {
			return fmt.Errorf("failed to merge board: %w", err)
		}
		if raw, ok := keys["sharedNote"]; ok && bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			merged.SharedNote = ""
		}
		if st.Board.ID != "" && merged.ID != st.Board.ID {
			return fmt.Errorf("board id changed from %s to %s", st.Board.ID, merged.ID)
		}
		st.Board = merged
		return nil
	})
}

func (r *Router) HandleBoardTimerUpdated(m protocol.BoardTimerUpdated) {
	r.apply(m.Type(), func(st *board.State) error {
		st.Board.TimerStart = m.Board.TimerStart
		st.Board.TimerEnd = m.Board.TimerEnd
		return nil
	})
}

func (r *Router) HandleBoardDeleted(m protocol.BoardDeleted) {
	messagesTotal.WithLabelValues(m.Type(), "applied").Inc()
	r.log.Info("board deleted, leaving")
	if r.onLeave != nil {
		r.onLeave()
	}
}

func (r *Router) HandleColumnsUpdated(m protocol.ColumnsUpdated) {
	r.apply(m.Type(), func(st *board.State) error {
		if err := board.ValidateColumns(m.Columns); err != nil {
			return err
		}
		st.Columns = append([]board.Column(nil), m.Columns...)
		sortColumns(st.Columns)
		return nil
	})
}

func (r *Router) HandleNotesUpdated(m protocol.NotesUpdated) {
	r.apply(m.Type(), func(st *board.State) error {
		if err := board.ValidateNotes(m.Notes); err != nil {
			return err
		}
		st.Notes = append([]board.Note(nil), m.Notes...)
		return nil
	})
}

func (r *Router) HandleParticipantCreated(m protocol.ParticipantCreated) {
	r.apply(m.Type(), func(st *board.State) error {
		st.UpsertParticipant(m.Participant)
		return nil
	})
}

func (r *Router) HandleParticipantUpdated(m protocol.ParticipantUpdated) {
	r.apply(m.Type(), func(st *board.State) error {
		st.UpsertParticipant(m.Participant)
		return nil
	})
}

func (r *Router) HandleParticipantsUpdated(m protocol.ParticipantsUpdated) {
	r.apply(m.Type(), func(st *board.State) error {
		st.Participants = append([]board.Participant(nil), m.Participants...)
		return nil
	})
}

func (r *Router) HandleVotingCreated(m protocol.VotingCreated) {
	r.apply(m.Type(), func(st *board.State) error {
		st.UpsertVoting(m.Voting)
		return nil
	})
}

// HandleVotingUpdated treats the notes of a closed voting as the final tally
// and drops the local votes of any voting that is no longer open.
func (r *Router) HandleVotingUpdated(m protocol.VotingUpdated) {
	r.apply(m.Type(), func(st *board.State) error {
		if m.Voting.Status == board.VotingClosed && m.Notes != nil {
			if err := board.ValidateNotes(m.Notes); err != nil {
				return err
			}
			st.Notes = append([]board.Note(nil), m.Notes...)
		}
		st.UpsertVoting(m.Voting)
		if m.Voting.Status != board.VotingOpen {
			st.DropVotes(m.Voting.ID)
		}
		return nil
	})
}

func (r *Router) HandleVotesUpdated(m protocol.VotesUpdated) {
	r.apply(m.Type(), func(st *board.State) error {
		st.Votes = append([]board.Vote(nil), m.Votes...)
		return nil
	})
}

func (r *Router) HandleRequestCreated(m protocol.RequestCreated) {
	r.apply(m.Type(), func(st *board.State) error {
		st.UpsertRequest(m.Request)
		return nil
	})
}

func (r *Router) HandleRequestUpdated(m protocol.RequestUpdated) {
	r.apply(m.Type(), func(st *board.State) error {
		st.UpsertRequest(m.Request)
		return nil
	})
}

func (r *Router) HandleReactionAdded(m protocol.ReactionAdded) {
	r.apply(m.Type(), func(st *board.State) error {
		return st.AddReaction(m.Reaction)
	})
}

func (r *Router) HandleReactionDeleted(m protocol.ReactionDeleted) {
	r.apply(m.Type(), func(st *board.State) error {
		st.RemoveReaction(m.ID)
		return nil
	})
}

func validate(columns []board.Column, notes []board.Note) error {
	if err := board.ValidateColumns(columns); err != nil {
		return err
	}
	return board.ValidateNotes(notes)
}

func sortColumns(columns []board.Column) {
	sort.SliceStable(columns, func(i, j int) bool { return columns[i].Index < columns[j].Index })
}
