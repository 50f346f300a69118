package sim

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/boardsync/pkg/board"
	"github.com/astromechza/boardsync/pkg/protocol"
)

// client is one upgraded connection. Frames are written by a single
// goroutine fed through send.
type client struct {
	user string
	conn *websocket.Conn
	send chan []byte

	once sync.Once
	quit chan struct{}
}

func newClient(user string, conn *websocket.Conn) *client {
	return &client{user: user, conn: conn, send: make(chan []byte, sendBuffer), quit: make(chan struct{})}
}

func (c *client) enqueue(raw []byte) bool {
	select {
	case <-c.quit:
		return true
	default:
	}
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.quit) })
}

func (c *client) writeLoop(log *slog.Logger) {
	defer c.conn.Close()
	for {
		select {
		case raw := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				log.Error("failed to write message", "user", c.user, "err", err)
				return
			}
		case <-c.quit:
			c.flush(log)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

// flush writes whatever is still queued so that a final frame reaches the
// peer before the close frame.
func (c *client) flush(log *slog.Logger) {
	for {
		select {
		case raw := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				log.Error("failed to write message", "user", c.user, "err", err)
				return
			}
		default:
			return
		}
	}
}

// readLoop drains the connection until the peer goes away.
func (c *client) readLoop() {
	defer c.close()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) openChannel(writer http.ResponseWriter, request *http.Request) {
	boardID := mux.Vars(request)["board"]
	user := userOf(request)

	s.mu.Lock()
	r, ok := s.rooms[boardID]
	if !ok {
		s.mu.Unlock()
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	if _, member := r.state.Participant(user); !member {
		s.mu.Unlock()
		writer.WriteHeader(http.StatusForbidden)
		return
	}
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.log.Error("failed to upgrade", "err", err)
		return
	}
	c := newClient(user, conn)

	s.mu.Lock()
	if r, ok = s.rooms[boardID]; !ok {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	if raw, err := protocol.Encode(initOf(r.state)); err != nil {
		s.log.Error("failed to encode snapshot", "err", err)
	} else {
		c.enqueue(raw)
	}
	r.clients[c] = struct{}{}
	s.setConnectedLocked(r, user, true)
	s.mu.Unlock()

	go c.writeLoop(s.log)
	c.readLoop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[boardID]; ok {
		delete(r.clients, c)
		if !s.connectedLocked(r, user) {
			s.setConnectedLocked(r, user, false)
		}
	}
}

func (s *Server) connectedLocked(r *room, user string) bool {
	for c := range r.clients {
		if c.user == user {
			return true
		}
	}
	return false
}

func (s *Server) setConnectedLocked(r *room, user string, connected bool) {
	p, ok := r.state.Participant(user)
	if !ok || p.Connected == connected {
		return
	}
	p.Connected = connected
	r.state.UpsertParticipant(p)
	s.broadcastLocked(r, protocol.ParticipantUpdated{Participant: p})
}

// followRequest holds a pending join request open until it is answered.
func (s *Server) followRequest(writer http.ResponseWriter, request *http.Request) {
	vars := mux.Vars(request)
	boardID, user := vars["board"], vars["user"]

	s.mu.Lock()
	r, ok := s.rooms[boardID]
	s.mu.Unlock()
	if !ok {
		writer.WriteHeader(http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.log.Error("failed to upgrade", "err", err)
		return
	}
	c := newClient(user, conn)

	s.mu.Lock()
	status := board.RequestPending
	for _, req := range r.state.Requests {
		if req.User.ID == user {
			status = req.Status
		}
	}
	if status == board.RequestPending {
		r.waiting[user] = append(r.waiting[user], c)
	} else {
		c.enqueue(sessionFrame(status))
		c.close()
	}
	s.mu.Unlock()

	go c.writeLoop(s.log)
	c.readLoop()
}

func sessionFrame(status board.RequestStatus) []byte {
	t := protocol.TypeSessionRejected
	if status == board.RequestAccepted {
		t = protocol.TypeSessionAccepted
	}
	return []byte(`{"type":"` + t + `"}`)
}
