package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/astromechza/boardsync/pkg/protocol"
)

var framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "boardsync_connection_frames_total",
	Help: "Frames read from board channels by result",
}, []string{"result"})

// closeGrace bounds how long Close waits for the server to answer the close frame.
const closeGrace = time.Second

// Channel is one open push connection for a board. Messages are handed to
// the deliver func on a single goroutine in the order they arrive.
type Channel struct {
	board string
	conn  *websocket.Conn
	log   *slog.Logger

	done      chan struct{}
	err       error
	closing   chan struct{}
	closeOnce sync.Once
}

func newChannel(board string, conn *websocket.Conn, log *slog.Logger) *Channel {
	return &Channel{
		board:   board,
		conn:    conn,
		log:     log.With("board", board),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
}

func (c *Channel) Board() string {
	return c.board
}

// Done is closed once the read loop has stopped.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns why the channel stopped. It is nil until Done is closed, and
// nil after a normal close from either side.
func (c *Channel) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Channel) readLoop(deliver func(protocol.Message)) {
	defer close(c.done)
	defer c.conn.Close()
	for {
		msg, err := c.readMessage()
		if err != nil {
			if c.isClosing() || normalClose(err) {
				c.log.Info("channel closed")
				return
			}
			c.err = err
			c.log.Error("channel failed", "err", err)
			return
		}
		if msg != nil {
			deliver(msg)
		}
	}
}

func normalClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway)
}

// readMessage returns nil without an error for frames that are skipped.
func (c *Channel) readMessage() (protocol.Message, error) {
	mt, p, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	switch mt {
	case websocket.TextMessage, websocket.BinaryMessage:
		msg, err := protocol.Decode(p)
		if err != nil {
			framesTotal.WithLabelValues("malformed").Inc()
			c.log.Warn("skipping malformed frame", "err", err, "size", len(p))
			return nil, nil
		}
		framesTotal.WithLabelValues("ok").Inc()
		return msg, nil
	default:
		return nil, nil
	}
}

func (c *Channel) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// Close sends a normal close frame and waits briefly for the read loop to end.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		werr := c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeGrace))
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			err = fmt.Errorf("failed to send close frame: %w", werr)
		}
		select {
		case <-c.done:
		case <-time.After(closeGrace):
			_ = c.conn.Close()
			<-c.done
		}
	})
	return err
}
