// Package sim is an in-memory board server. It speaks the same REST and
// websocket protocol as a real board server and is used for local runs and
// integration tests. Nothing is persisted.
package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/boardsync/pkg/api"
	"github.com/astromechza/boardsync/pkg/board"
	"github.com/astromechza/boardsync/pkg/protocol"
)

var ErrBoardExists = errors.New("board already exists")

// sendBuffer is how many frames may queue for a slow client before it is dropped.
const sendBuffer = 64

type room struct {
	state      *board.State
	passphrase string
	clients    map[*client]struct{}
	waiting    map[string][]*client
}

type Server struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room
	users map[string]board.User
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func New(opts ...Option) *Server {
	s := &Server{
		log: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		rooms: make(map[string]*room),
		users: make(map[string]board.User),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateBoard seeds a board. The owner becomes its first participant.
func (s *Server) CreateBoard(b board.Board, columns []board.Column, owner board.User, passphrase string) error {
	if err := board.ValidateColumns(columns); err != nil {
		return fmt.Errorf("failed to create board: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[b.ID]; ok {
		return fmt.Errorf("%w: %s", ErrBoardExists, b.ID)
	}
	st := &board.State{Board: b, Columns: append([]board.Column(nil), columns...)}
	st.UpsertParticipant(board.Participant{User: owner, Role: board.RoleOwner})
	s.users[owner.ID] = owner
	s.rooms[b.ID] = &room{
		state:      st,
		passphrase: passphrase,
		clients:    make(map[*client]struct{}),
		waiting:    make(map[string][]*client),
	}
	s.log.Info("created board", "board", b.ID, "policy", b.AccessPolicy, "owner", owner.ID)
	return nil
}

// Snapshot returns a copy of a board's state.
func (s *Server) Snapshot(boardID string) (*board.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[boardID]
	if !ok {
		return nil, false
	}
	return r.state.Clone(), true
}

// Handler returns the routes with request logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			s.log.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodPut).Path("/user").HandlerFunc(s.editSelf)

	r.Methods(http.MethodGet).Path("/boards/{board}").HandlerFunc(s.openChannel)
	r.Methods(http.MethodPut).Path("/boards/{board}").HandlerFunc(s.editBoard)
	r.Methods(http.MethodDelete).Path("/boards/{board}").HandlerFunc(s.deleteBoard)

	b := r.PathPrefix("/boards/{board}").Subrouter()
	b.Methods(http.MethodPost).Path("/join").HandlerFunc(s.join)
	b.Methods(http.MethodGet).Path("/requests/{user}").HandlerFunc(s.followRequest)
	b.Methods(http.MethodPut).Path("/requests").HandlerFunc(s.answerRequests)
	b.Methods(http.MethodPost).Path("/notes").HandlerFunc(s.createNote)
	b.Methods(http.MethodPut).Path("/notes/{note}").HandlerFunc(s.editNote)
	b.Methods(http.MethodDelete).Path("/notes/{note}").HandlerFunc(s.deleteNote)
	b.Methods(http.MethodPut).Path("/columns/{column}").HandlerFunc(s.editColumn)
	b.Methods(http.MethodPost).Path("/timer").HandlerFunc(s.setTimer)
	b.Methods(http.MethodDelete).Path("/timer").HandlerFunc(s.cancelTimer)
	b.Methods(http.MethodPut).Path("/shared").HandlerFunc(s.shareNote)
	b.Methods(http.MethodPut).Path("/participants/{user}").HandlerFunc(s.editParticipant)
	b.Methods(http.MethodPut).Path("/participants/{user}/role").HandlerFunc(s.changeRole)
	b.Methods(http.MethodPost).Path("/votings").HandlerFunc(s.createVoting)
	b.Methods(http.MethodPut).Path("/votings/{voting}").HandlerFunc(s.setVotingStatus)
	b.Methods(http.MethodPost).Path("/votes").HandlerFunc(s.addVote)
	b.Methods(http.MethodDelete).Path("/votes").HandlerFunc(s.removeVote)
	b.Methods(http.MethodPost).Path("/reactions").HandlerFunc(s.addReaction)
	b.Methods(http.MethodDelete).Path("/reactions/{reaction}").HandlerFunc(s.removeReaction)
	return r
}

// Close drops every connected client.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		for c := range r.clients {
			c.close()
		}
		for _, cs := range r.waiting {
			for _, c := range cs {
				c.close()
			}
		}
	}
}

func userOf(request *http.Request) string {
	return request.Header.Get(api.UserHeader)
}

func (s *Server) userLocked(id string) board.User {
	if u, ok := s.users[id]; ok {
		return u
	}
	return board.User{ID: id, Name: id}
}

// broadcastLocked sends messages to every client of the room in order.
func (s *Server) broadcastLocked(r *room, msgs ...protocol.Message) {
	for _, m := range msgs {
		raw, err := protocol.Encode(m)
		if err != nil {
			s.log.Error("failed to encode message", "type", m.Type(), "err", err)
			continue
		}
		for c := range r.clients {
			if !c.enqueue(raw) {
				s.log.Warn("dropping slow client", "board", r.state.Board.ID, "user", c.user)
				delete(r.clients, c)
				c.close()
			}
		}
	}
}

func boardFields(b board.Board) (json.RawMessage, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if b.SharedNote == "" {
		fields["sharedNote"] = json.RawMessage("null")
	}
	return json.Marshal(fields)
}

func initOf(st *board.State) protocol.Init {
	st = st.Clone()
	return protocol.Init{
		Board:        st.Board,
		Columns:      st.Columns,
		Participants: st.Participants,
		Notes:        st.Notes,
		Votes:        st.Votes,
		Votings:      st.Votings,
		Requests:     st.Requests,
		Reactions:    st.Reactions,
	}
}

func writeJSON(writer http.ResponseWriter, status int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}
