package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/boardsync/pkg/api"
	"github.com/astromechza/boardsync/pkg/board"
	"github.com/astromechza/boardsync/pkg/connection"
	"github.com/astromechza/boardsync/pkg/protocol"
	"github.com/astromechza/boardsync/pkg/sim"
)

const wait = 5 * time.Second

type accepted struct{}

func (accepted) Join(context.Context, string, string) (protocol.JoinStatus, error) {
	return protocol.JoinAccepted, nil
}

func startSim(t *testing.T, policy board.AccessPolicy) *url.URL {
	t.Helper()
	s := sim.New()
	require.NoError(t, s.CreateBoard(
		board.Board{ID: "b1", Name: "Retro", AccessPolicy: policy},
		[]board.Column{{ID: "c1"}},
		board.User{ID: "u1", Name: "Ann"},
		"pw",
	))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	base, _ := url.Parse(srv.URL)
	return base
}

func run(ctx context.Context, s *Session) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func await(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(wait):
		t.Fatal("session did not stop")
		return nil
	}
}

func TestRunSyncsAndLeavesWhenBoardIsDeleted(t *testing.T) {
	base := startSim(t, board.AccessPublic)
	store := board.NewStore("u1")
	manager := connection.NewManager(base, "u1")
	s := New(store, connection.NewAdmission(api.NewClient(base, "u1", nil), manager, "u1"), manager,
		Options{BoardID: "b1", SnapshotTimeout: wait})

	done := run(context.Background(), s)
	require.Eventually(t, func() bool { return store.Snapshot().Board.Name == "Retro" }, wait, 10*time.Millisecond)

	owner := api.NewClient(base, "u1", nil)
	require.NoError(t, owner.Do(context.Background(), api.CreateNote("b1", "n1", "c1", "hello")))
	require.Eventually(t, func() bool { return len(store.Snapshot().Notes) == 1 }, wait, 10*time.Millisecond)

	require.NoError(t, owner.Do(context.Background(), api.Request{Method: http.MethodDelete, Path: "/boards/b1"}))
	assert.ErrorIs(t, await(t, done), ErrBoardDeleted)
}

func TestRunNotAdmitted(t *testing.T) {
	base := startSim(t, board.AccessByPassphrase)
	manager := connection.NewManager(base, "u2")
	s := New(board.NewStore("u2"), connection.NewAdmission(api.NewClient(base, "u2", nil), manager, "u2"), manager,
		Options{BoardID: "b1", Passphrase: "wrong"})

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrNotAdmitted)
	assert.Contains(t, err.Error(), string(protocol.JoinWrongPassphrase))
}

// silentServer upgrades every channel and counts them. The first snapshots
// connections get an INIT; later ones get nothing. When drop is set the
// server hangs up right after the INIT.
func silentServer(t *testing.T, snapshots int32, drop bool) (*url.URL, *atomic.Int32) {
	t.Helper()
	var count atomic.Int32
	upgrader := websocket.Upgrader{}
	snapshot, err := protocol.Encode(protocol.Init{Board: board.Board{ID: "b1", Name: "Silent"}})
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if count.Add(1) <= snapshots {
			_ = conn.WriteMessage(websocket.TextMessage, snapshot)
			if drop {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	base, _ := url.Parse(srv.URL)
	return base, &count
}

func TestRunWithoutSnapshotTimesOut(t *testing.T) {
	base, _ := silentServer(t, 0, false)
	s := New(board.NewStore("u1"), accepted{}, connection.NewManager(base, "u1"),
		Options{BoardID: "b1", SnapshotTimeout: 100 * time.Millisecond})

	assert.ErrorIs(t, s.Run(context.Background()), ErrNoSnapshot)
}

func TestRunStopsOnDroppedChannelWithoutReconnect(t *testing.T) {
	base, _ := silentServer(t, 1, true)
	s := New(board.NewStore("u1"), accepted{}, connection.NewManager(base, "u1"),
		Options{BoardID: "b1", SnapshotTimeout: wait})

	assert.ErrorIs(t, s.Run(context.Background()), ErrChannelClosed)
}

func TestRunReconnectsAndResyncs(t *testing.T) {
	base, count := silentServer(t, 3, true)
	var synced atomic.Int32
	store := board.NewStore("u1")
	s := New(store, accepted{}, connection.NewManager(base, "u1"), Options{
		BoardID:           "b1",
		SnapshotTimeout:   wait,
		ReconnectInterval: 10 * time.Millisecond,
		OnSnapshot:        func() { synced.Add(1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := run(ctx, s)
	require.Eventually(t, func() bool { return synced.Load() >= 3 }, wait, 10*time.Millisecond)
	cancel()

	assert.NoError(t, await(t, done))
	assert.GreaterOrEqual(t, count.Load(), int32(3))
	assert.Equal(t, "Silent", store.Snapshot().Board.Name)
}
