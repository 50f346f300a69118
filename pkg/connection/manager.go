// Package connection owns the push channel between a client and a board.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/astromechza/boardsync/pkg/api"
	"github.com/astromechza/boardsync/pkg/protocol"
)

// Manager opens at most one board channel at a time. It never reconnects on
// its own; callers decide when to open again.
type Manager struct {
	baseUrl *url.URL
	dialer  *websocket.Dialer
	header  http.Header
	log     *slog.Logger

	mu      sync.Mutex
	current *Channel
}

type Option func(*Manager)

func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func NewManager(baseUrl *url.URL, user string, opts ...Option) *Manager {
	header := http.Header{}
	header.Set(api.UserHeader, user)
	m := &Manager{
		baseUrl: baseUrl,
		dialer:  websocket.DefaultDialer,
		header:  header,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Open closes any channel that is still open and dials the board.
func (m *Manager) Open(ctx context.Context, boardID string, deliver func(protocol.Message)) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		if err := m.current.Close(); err != nil {
			m.log.Warn("failed to close previous channel", "board", m.current.Board(), "err", err)
		}
		m.current = nil
	}

	conn, err := m.dial(ctx, "boards", boardID)
	if err != nil {
		return nil, err
	}
	ch := newChannel(boardID, conn, m.log)
	go ch.readLoop(deliver)
	m.current = ch
	m.log.Info("opened channel", "board", boardID)
	return ch, nil
}

// Close closes the open channel, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	err := m.current.Close()
	m.current = nil
	return err
}

func (m *Manager) dial(ctx context.Context, parts ...string) (*websocket.Conn, error) {
	u := websocketUrl(m.baseUrl.JoinPath(parts...))
	conn, resp, err := m.dialer.DialContext(ctx, u.String(), m.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: status %d: %w", u.Path, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", u.Path, err)
	}
	return conn, nil
}

func websocketUrl(u *url.URL) *url.URL {
	out := *u
	switch u.Scheme {
	case "https":
		out.Scheme = "wss"
	case "http", "":
		out.Scheme = "ws"
	}
	return &out
}
