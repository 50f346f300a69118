// Package session ties admission, the board channel and the router together
// for one board.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/astromechza/boardsync/pkg/board"
	"github.com/astromechza/boardsync/pkg/connection"
	"github.com/astromechza/boardsync/pkg/protocol"
	"github.com/astromechza/boardsync/pkg/router"
)

var (
	ErrNotAdmitted   = errors.New("not admitted to board")
	ErrNoSnapshot    = errors.New("no snapshot received")
	ErrBoardDeleted  = errors.New("board was deleted")
	ErrChannelClosed = errors.New("channel closed")
)

// Admitter runs the join handshake and never returns PENDING.
type Admitter interface {
	Join(ctx context.Context, boardID, passphrase string) (protocol.JoinStatus, error)
}

type Options struct {
	BoardID    string
	Passphrase string
	// SnapshotTimeout bounds the wait for INIT after the channel opens.
	SnapshotTimeout time.Duration
	// ReconnectInterval enables re-opening the channel after it drops. Zero
	// means a dropped channel ends the session.
	ReconnectInterval time.Duration
	// OnSnapshot runs after every applied snapshot.
	OnSnapshot func()
	Logger     *slog.Logger
}

type Session struct {
	opts     Options
	admitter Admitter
	manager  *connection.Manager
	router   *router.Router
	log      *slog.Logger

	snapshots chan struct{}
	left      chan struct{}
}

func New(store *board.Store, admitter Admitter, manager *connection.Manager, opts Options) *Session {
	if opts.SnapshotTimeout <= 0 {
		opts.SnapshotTimeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		opts:      opts,
		admitter:  admitter,
		manager:   manager,
		log:       log.With("board", opts.BoardID),
		snapshots: make(chan struct{}, 1),
		left:      make(chan struct{}, 1),
	}
	s.router = router.New(store,
		router.WithLogger(log),
		router.WithSnapshotHook(s.snapshotApplied),
		router.WithLeaveHook(s.boardDeleted))
	return s
}

func (s *Session) snapshotApplied() {
	if s.opts.OnSnapshot != nil {
		s.opts.OnSnapshot()
	}
	select {
	case s.snapshots <- struct{}{}:
	default:
	}
}

func (s *Session) boardDeleted() {
	select {
	case s.left <- struct{}{}:
	default:
	}
}

// Run joins the board and keeps the channel open until ctx ends, the board
// is deleted, or the channel fails with reconnects disabled. It returns nil
// when ctx ends.
func (s *Session) Run(ctx context.Context) error {
	status, err := s.admitter.Join(ctx, s.opts.BoardID, s.opts.Passphrase)
	if err != nil {
		return err
	}
	if status != protocol.JoinAccepted {
		return fmt.Errorf("%w: %s", ErrNotAdmitted, status)
	}
	s.log.Info("admitted")
	defer func() {
		if err := s.manager.Close(); err != nil {
			s.log.Warn("failed to close channel", "err", err)
		}
	}()

	for {
		err := s.connectAndRoute(ctx)
		switch {
		case ctx.Err() != nil:
			s.log.Info("stopping session")
			return nil
		case errors.Is(err, ErrBoardDeleted), s.opts.ReconnectInterval <= 0:
			return err
		}
		s.log.Error("channel lost", "err", err, "retry_in", s.opts.ReconnectInterval)

		t := time.NewTimer(s.opts.ReconnectInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			s.log.Info("stopping session")
			return nil
		}
	}
}

func (s *Session) connectAndRoute(ctx context.Context) error {
	select {
	case <-s.snapshots:
	default:
	}
	ch, err := s.manager.Open(ctx, s.opts.BoardID, s.router.Route)
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	timeout := time.NewTimer(s.opts.SnapshotTimeout)
	defer timeout.Stop()
	select {
	case <-s.snapshots:
		s.log.Info("synced")
	case <-timeout.C:
		_ = s.manager.Close()
		return ErrNoSnapshot
	case <-s.left:
		return ErrBoardDeleted
	case <-ch.Done():
		return s.closed(ch)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-s.left:
		return ErrBoardDeleted
	case <-ch.Done():
		return s.closed(ch)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closed reports why the channel ended. A deletion notice read just before
// the server hung up takes precedence.
func (s *Session) closed(ch *connection.Channel) error {
	select {
	case <-s.left:
		return ErrBoardDeleted
	default:
	}
	if err := ch.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	return ErrChannelClosed
}
