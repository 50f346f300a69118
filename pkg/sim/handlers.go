package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"

	"github.com/astromechza/boardsync/pkg/api"
	"github.com/astromechza/boardsync/pkg/board"
	"github.com/astromechza/boardsync/pkg/protocol"
)

var (
	errForbidden  = errors.New("not allowed")
	errBadRequest = errors.New("bad request")
)

// access is who may call a route.
type access int

const (
	anyParticipant access = iota
	moderatorOnly
	ownerOnly
)

// change is what a handler did to the board: the messages to broadcast and
// any frames for pending join requests.
type change struct {
	messages []protocol.Message
	answered map[string]board.RequestStatus
}

func (c *change) add(msgs ...protocol.Message) {
	c.messages = append(c.messages, msgs...)
}

type mutation func(r *room, st *board.State, user string, c *change) error

// mutate applies fn to a copy of the board under the lock. The copy replaces
// the board only if fn succeeds, after which its messages are broadcast.
func (s *Server) mutate(writer http.ResponseWriter, request *http.Request, who access, status int, fn mutation) {
	boardID := mux.Vars(request)["board"]
	user := userOf(request)

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[boardID]
	if !ok {
		http.Error(writer, "board not found", http.StatusNotFound)
		return
	}
	p, ok := r.state.Participant(user)
	switch {
	case !ok:
		http.Error(writer, "not a participant", http.StatusForbidden)
		return
	case who == moderatorOnly && !p.Role.IsModerator(), who == ownerOnly && p.Role != board.RoleOwner:
		http.Error(writer, "insufficient role", http.StatusForbidden)
		return
	}

	next := r.state.Clone()
	c := &change{}
	if err := fn(r, next, user, c); err != nil {
		http.Error(writer, err.Error(), statusOf(err))
		return
	}
	r.state = next
	s.broadcastLocked(r, c.messages...)
	for u, st := range c.answered {
		for _, w := range r.waiting[u] {
			w.enqueue(sessionFrame(st))
			w.close()
		}
		delete(r.waiting, u)
	}
	writer.WriteHeader(status)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, board.ErrNoteNotFound), errors.Is(err, board.ErrColumnNotFound),
		errors.Is(err, board.ErrParticipantAbsent), errors.Is(err, board.ErrVotingNotFound),
		errors.Is(err, board.ErrVoteNotFound):
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(request *http.Request, v any) error {
	if err := json.NewDecoder(request.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func notesChanged(st *board.State) protocol.Message {
	return protocol.NotesUpdated{Notes: slices.Clone(st.Notes)}
}

func boardChanged(st *board.State) (protocol.Message, error) {
	fields, err := boardFields(st.Board)
	if err != nil {
		return nil, fmt.Errorf("failed to encode board: %w", err)
	}
	return protocol.BoardUpdated{Fields: fields}, nil
}

func lockedFor(st *board.State, user string) bool {
	p, _ := st.Participant(user)
	return st.Board.IsLocked && !p.Role.IsModerator()
}

func (s *Server) join(writer http.ResponseWriter, request *http.Request) {
	boardID := mux.Vars(request)["board"]
	user := userOf(request)
	if user == "" {
		http.Error(writer, "missing "+api.UserHeader, http.StatusBadRequest)
		return
	}
	var body protocol.JoinRequestBody
	if err := decode(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[boardID]
	if !ok {
		http.Error(writer, "board not found", http.StatusNotFound)
		return
	}
	respond := func(status protocol.JoinStatus) {
		s.log.Info("join", "board", boardID, "user", user, "status", status)
		writeJSON(writer, http.StatusOK, protocol.JoinResponse{Status: status})
	}
	if _, member := r.state.Participant(user); member {
		respond(protocol.JoinAccepted)
		return
	}

	switch r.state.Board.AccessPolicy {
	case board.AccessByPassphrase:
		if body.Passphrase != r.passphrase {
			respond(protocol.JoinWrongPassphrase)
			return
		}
	case board.AccessByInvite:
		i := slices.IndexFunc(r.state.Requests, func(o board.JoinRequest) bool { return o.User.ID == user })
		if i >= 0 {
			if r.state.Requests[i].Status == board.RequestRejected {
				respond(protocol.JoinRejected)
			} else {
				respond(protocol.JoinPending)
			}
			return
		}
		req := board.JoinRequest{User: s.userLocked(user), Status: board.RequestPending}
		r.state.UpsertRequest(req)
		s.broadcastLocked(r, protocol.RequestCreated{Request: req})
		respond(protocol.JoinPending)
		return
	}

	p := board.Participant{User: s.userLocked(user), Role: board.RoleParticipant, SeesSharedNote: true}
	r.state.UpsertParticipant(p)
	s.broadcastLocked(r, protocol.ParticipantCreated{Participant: p})
	respond(protocol.JoinAccepted)
}

func (s *Server) answerRequests(writer http.ResponseWriter, request *http.Request) {
	var body api.RequestsBody
	if err := decode(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Status != board.RequestAccepted && body.Status != board.RequestRejected {
		http.Error(writer, "status must be ACCEPTED or REJECTED", http.StatusBadRequest)
		return
	}
	s.mutate(writer, request, moderatorOnly, http.StatusNoContent, func(r *room, st *board.State, _ string, c *change) error {
		st.SetRequestStatus(body.Users, body.Status)
		c.answered = make(map[string]board.RequestStatus)
		for _, req := range st.Requests {
			if !slices.Contains(body.Users, req.User.ID) {
				continue
			}
			c.add(protocol.RequestUpdated{Request: req})
			c.answered[req.User.ID] = req.Status
			if req.Status == board.RequestAccepted {
				p := board.Participant{User: req.User, Role: board.RoleParticipant, SeesSharedNote: true}
				st.UpsertParticipant(p)
				c.add(protocol.ParticipantCreated{Participant: p})
			}
		}
		return nil
	})
}

func (s *Server) createNote(writer http.ResponseWriter, request *http.Request) {
	var body api.CreateNoteBody
	if err := decode(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.mutate(writer, request, anyParticipant, http.StatusCreated, func(_ *room, st *board.State, user string, c *change) error {
		if lockedFor(st, user) {
			return fmt.Errorf("%w: board is locked", errForbidden)
		}
		if body.ID == "" {
			return fmt.Errorf("%w: note id is required", errBadRequest)
		}
		if _, err := st.AddNote(body.ID, user, body.Column, body.Text); err != nil {
			return err
		}
		c.add(notesChanged(st))
		return nil
	})
}

func (s *Server) editNote(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["note"]
	var body api.EditNoteBody
	if err := decode(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.mutate(writer, request, anyParticipant, http.StatusNoContent, func(_ *room, st *board.State, user string, c *change) error {
		if lockedFor(st, user) {
			return fmt.Errorf("%w: board is locked", errForbidden)
		}
		if body.Text != nil {
			if err := st.EditNote(id, *body.Text); err != nil {
				return err
			}
		}
		if body.Position != nil {
			pos := body.Position
			if err := st.MoveNote(id, pos.Column, pos.Stack, pos.Rank); err != nil {
				return err
			}
		}
		c.add(notesChanged(st))
		return nil
	})
}

func (s *Server) deleteNote(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["note"]
	var body api.DeleteNoteBody
	if err := decode(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.mutate(writer, request, anyParticipant, http.StatusNoContent, func(_ *room, st *board.State, user string, c *change) error {
		if lockedFor(st, user) {
			return fmt.Errorf("%w: board is locked", errForbidden)
		}
		if st.Board.SharedNote == id && !st.Board.ModerationActive() {
			return errors.New("cannot delete the shared note outside of moderation")
		}
		shared := st.Board.SharedNote
		votes := len(st.Votes)
		reactions := slices.Clone(st.Reactions)
		if err := st.DeleteNote(id, body.DeleteStack); err != nil {
			return err
		}
		c.add(notesChanged(st))
		if len(st.Votes) != votes {
			c.add(protocol.VotesUpdated{Votes: slices.Clone(st.Votes)})
		}
		for _, re := range reactions {
			if !slices.ContainsFunc(st.Reactions, func(o board.Reaction) bool { return o.ID == re.ID }) {
				c.add(protocol.ReactionDeleted{ID: re.ID})
			}
		}
		if st.Board.SharedNote != shared {
			m, err := boardChanged(st)
			if err != nil {
				return err
			}
			c.add(m)
		}
		return nil
	})
}

func (s *Server) editColumn(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["column"]
	var patch board.ColumnPatch
	if err := decode(request, &patch); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.mutate(writer, request, moderatorOnly, http.StatusNoContent, func(_ *room, st *board.State, _ string, c *change) error {
		if err := st.EditColumn(id, patch); err != nil {
			return err
		}
		c.add(protocol.ColumnsUpdated{Columns: slices.Clone(st.Columns)})
		return nil
	})
}

func (s *Server) editBoard(writer http.ResponseWriter, request *http.Request) {
	var patch board.BoardPatch
	if err := decode(request, &patch); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.mutate(writer, request, moderatorOnly, http.StatusNoContent, func(r *room, st *board.State, _ string, c *change) error {
		st.PatchBoard(patch)
		if patch.Passphrase != nil {
			r.passphrase = *patch.Passphrase
		}
		m, err := boardChanged(st)
		if err != nil {
			return err
		}
		c.add(m)
		return nil
	})
}

func (s *Server) deleteBoard(writer http.ResponseWriter, request *http.Request) {
	boardID := mux.Vars(request)["board"]
	s.mutate(writer, request, ownerOnly, http.StatusNoContent, func(_ *room, _ *board.State, _ string, c *change) error {
		c.add(protocol.BoardDeleted{})
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[boardID]
	if !ok {
		return
	}
	if p, _ := r.state.Participant(userOf(request)); p.Role != board.RoleOwner {
		return
	}
	for c := range r.clients {
		c.close()
	}
	delete(s.rooms, boardID)
	s.log.Info("deleted board", "board", boardID)
}

func (s *Server) setTimer(writer http.ResponseWriter, request *http.Request) {
	var body api.TimerBody
	if err := decode(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.mutate(writer, request, moderatorOnly, http.StatusNoContent, func(_ *room, st *board.State, _ string, c *change) error {
		if body.Minutes <= 0 {
			return fmt.Errorf("%w: minutes must be positive", errBadRequest)
		}
		now := time.Now().UTC()
		st.SetTimer(now, now.Add(time.Duration(body.Minutes)*time.Minute))
		c.add(protocol.BoardTimerUpdated{Board: st.Board})
		return nil
	})
}

func (s *Server) cancelTimer(writer http.ResponseWriter, request *http.Request) {
	s.mutate(writer, request, moderatorOnly, http.StatusNoContent, func(_ *room, st *board.State, _ string, c *change) error {
		st.CancelTimer()
		c.add(protocol.BoardTimerUpdated{Board: st.Board})
		return nil
	})
}

func (s *Server) shareNote(writer http.ResponseWriter, request *http.Request) {
	var body api.SharedNoteBody
	if err := decode(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.mutate(writer, request, moderatorOnly, http.StatusNoContent, func(_ *room, st *board.State, _ string, c *change) error {
		id := ""
		if body.SharedNote != nil {
			id = *body.SharedNote
		}
		if err := st.ShareNote(id); err != nil {
			return err
		}
		m, err := boardChanged(st)
		if err != nil {
			return err
		}
		c.add(m)
		return nil
	})
}

func (s *Server) editParticipant(writer http.ResponseWriter, request *http.Request) {
	target := mux.Vars(request)["user"]
	var patch board.ParticipantPatch
	if err := decode(request, &patch); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.mutate(writer, request, anyParticipant, http.StatusNoContent, func(_ *room, st *board.State, user string, c *change) error {
		me, _ := st.Participant(user)
		if target != user && !me.Role.IsModerator() {
			return fmt.Errorf("%w: only moderators edit other participants", errForbidden)
		}
		if err := st.PatchParticipant(target, patch); err != nil {
			return err
		}
		p, _ := st.Participant(target)
		c.add(protocol.ParticipantUpdated{Participant: p})
		return nil
	})
}

func (s *Server) changeRole(writer http.ResponseWriter, request *http.Request) {
	target := mux.Vars(request)["user"]
	var body api.RoleBody
	if err := decode(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.mutate(writer, request, moderatorOnly, http.StatusNoContent, func(_ *room, st *board.State, _ string, c *change) error {
		if body.Role == board.RoleOwner {
			return fmt.Errorf("%w: ownership cannot be granted", errForbidden)
		}
		if p, ok := st.Participant(target); ok && p.Role == board.RoleOwner {
			return fmt.Errorf("%w: the owner keeps their role", errForbidden)
		}
		if err := st.SetRole(target, body.Role); err != nil {
			return err
		}
		p, _ := st.Participant(target)
		c.add(protocol.ParticipantUpdated{Participant: p})
		return nil
	})
}

// editSelf changes the caller's profile on every board they take part in.
func (s *Server) editSelf(writer http.ResponseWriter, request *http.Request) {
	user := userOf(request)
	var body api.ProfileBody
	if err := decode(request, &body); err != nil || user == "" || body.Name == "" {
		http.Error(writer, "name and user are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(user)
	u.Name = body.Name
	if body.Avatar != "" {
		u.Avatar = body.Avatar
	}
	s.users[user] = u
	for _, r := range s.rooms {
		if err := r.state.SetProfile(user, u.Name, u.Avatar); err != nil {
			continue
		}
		p, _ := r.state.Participant(user)
		s.broadcastLocked(r, protocol.ParticipantUpdated{Participant: p})
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Server) createVoting(writer http.ResponseWriter, request *http.Request) {
	var body api.VotingBody
	if err := decode(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.mutate(writer, request, moderatorOnly, http.StatusCreated, func(_ *room, st *board.State, _ string, c *change) error {
		if body.ID == "" || body.VoteLimit <= 0 {
			return fmt.Errorf("%w: voting needs an id and a positive vote limit", errBadRequest)
		}
		if _, open := st.OpenVoting(); open {
			return errors.New("a voting is already open")
		}
		v := board.Voting{
			ID:                 body.ID,
			VoteLimit:          body.VoteLimit,
			AllowMultipleVotes: body.AllowMultipleVotes,
			ShowVotesOfOthers:  body.ShowVotesOfOthers,
			IsAnonymous:        body.IsAnonymous,
			Status:             board.VotingOpen,
		}
		st.UpsertVoting(v)
		c.add(protocol.VotingCreated{Voting: v})
		return nil
	})
}

func (s *Server) setVotingStatus(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["voting"]
	var body api.VotingStatusBody
	if err := decode(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.mutate(writer, request, moderatorOnly, http.StatusNoContent, func(_ *room, st *board.State, _ string, c *change) error {
		v, ok := st.Voting(id)
		if !ok {
			return fmt.Errorf("%w: %s", board.ErrVotingNotFound, id)
		}
		if v.Status != board.VotingOpen {
			return board.ErrVotingClosed
		}
		switch body.Status {
		case board.VotingClosed:
			v.VoteResults = tally(st.Votes, v)
			v.Status = board.VotingClosed
			st.UpsertVoting(v)
			st.DropVotes(v.ID)
			c.add(protocol.VotingUpdated{Voting: v, Notes: slices.Clone(st.Notes)})
		case board.VotingAborted:
			v.Status = board.VotingAborted
			st.UpsertVoting(v)
			st.DropVotes(v.ID)
			c.add(protocol.VotingUpdated{Voting: v})
		default:
			return fmt.Errorf("%w: status must be CLOSED or ABORTED", errBadRequest)
		}
		c.add(protocol.VotesUpdated{Votes: slices.Clone(st.Votes)})
		return nil
	})
}

func tally(votes []board.Vote, v board.Voting) *board.VoteResults {
	out := &board.VoteResults{VotesPerNote: make(map[string]board.NoteVotes)}
	for _, vote := range votes {
		if vote.Voting != v.ID {
			continue
		}
		nv := out.VotesPerNote[vote.Note]
		nv.Total++
		if !v.IsAnonymous && vote.User != "" && !slices.Contains(nv.Users, vote.User) {
			nv.Users = append(nv.Users, vote.User)
		}
		out.VotesPerNote[vote.Note] = nv
		out.Total++
	}
	return out
}

func (s *Server) addVote(writer http.ResponseWriter, request *http.Request) {
	s.vote(writer, request, true)
}

func (s *Server) removeVote(writer http.ResponseWriter, request *http.Request) {
	s.vote(writer, request, false)
}

func (s *Server) vote(writer http.ResponseWriter, request *http.Request, add bool) {
	var body api.VoteBody
	if err := decode(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	status := http.StatusNoContent
	if add {
		status = http.StatusCreated
	}
	s.mutate(writer, request, anyParticipant, status, func(_ *room, st *board.State, user string, c *change) error {
		var err error
		if add {
			_, err = st.AddVote(body.Note, user)
		} else {
			err = st.RemoveVote(body.Note, user)
		}
		if err != nil {
			return err
		}
		c.add(protocol.VotesUpdated{Votes: slices.Clone(st.Votes)})
		return nil
	})
}

func (s *Server) addReaction(writer http.ResponseWriter, request *http.Request) {
	var body api.ReactionBody
	if err := decode(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.mutate(writer, request, anyParticipant, http.StatusCreated, func(_ *room, st *board.State, user string, c *change) error {
		if body.ID == "" || body.ReactionType == "" {
			return fmt.Errorf("%w: reaction needs an id and a type", errBadRequest)
		}
		r := board.Reaction{ID: body.ID, Note: body.Note, User: user, ReactionType: body.ReactionType}
		if err := st.AddReaction(r); err != nil {
			return err
		}
		c.add(protocol.ReactionAdded{Reaction: r})
		return nil
	})
}

func (s *Server) removeReaction(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["reaction"]
	s.mutate(writer, request, anyParticipant, http.StatusNoContent, func(_ *room, st *board.State, user string, c *change) error {
		i := slices.IndexFunc(st.Reactions, func(r board.Reaction) bool { return r.ID == id })
		if i < 0 {
			return nil
		}
		if st.Reactions[i].User != user {
			return fmt.Errorf("%w: reaction belongs to someone else", errForbidden)
		}
		st.RemoveReaction(id)
		c.add(protocol.ReactionDeleted{ID: id})
		return nil
	})
}
