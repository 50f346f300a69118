package sim

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/boardsync/pkg/api"
	"github.com/astromechza/boardsync/pkg/board"
	"github.com/astromechza/boardsync/pkg/protocol"
)

type fixture struct {
	sim  *Server
	base *url.URL
}

func newFixture(t *testing.T, policy board.AccessPolicy) *fixture {
	t.Helper()
	s := New()
	require.NoError(t, s.CreateBoard(
		board.Board{ID: "b1", AccessPolicy: policy, AllowStacking: true},
		[]board.Column{{ID: "c1", Index: 0}, {ID: "c2", Index: 1}},
		board.User{ID: "owner", Name: "Olga"},
		"pw",
	))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	base, _ := url.Parse(srv.URL)
	return &fixture{sim: s, base: base}
}

func (f *fixture) client(user string) *api.Client {
	return api.NewClient(f.base, user, nil)
}

func (f *fixture) state(t *testing.T) *board.State {
	t.Helper()
	st, ok := f.sim.Snapshot("b1")
	require.True(t, ok)
	return st
}

func statusCode(err error) int {
	var se *api.StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

func TestCreateBoardTwice(t *testing.T) {
	f := newFixture(t, board.AccessPublic)
	err := f.sim.CreateBoard(board.Board{ID: "b1"}, nil, board.User{ID: "x"}, "")
	assert.ErrorIs(t, err, ErrBoardExists)
}

func TestJoinPolicies(t *testing.T) {
	ctx := context.Background()

	public := newFixture(t, board.AccessPublic)
	status, err := public.client("u2").Join(ctx, "b1", "")
	require.NoError(t, err)
	assert.Equal(t, protocol.JoinAccepted, status)
	_, ok := public.state(t).Participant("u2")
	assert.True(t, ok)

	guarded := newFixture(t, board.AccessByPassphrase)
	status, err = guarded.client("u2").Join(ctx, "b1", "nope")
	require.NoError(t, err)
	assert.Equal(t, protocol.JoinWrongPassphrase, status)
	status, err = guarded.client("u2").Join(ctx, "b1", "pw")
	require.NoError(t, err)
	assert.Equal(t, protocol.JoinAccepted, status)

	invite := newFixture(t, board.AccessByInvite)
	status, err = invite.client("u2").Join(ctx, "b1", "")
	require.NoError(t, err)
	assert.Equal(t, protocol.JoinPending, status)
	require.NoError(t, invite.client("owner").Do(ctx, api.AnswerRequests("b1", []string{"u2"}, board.RequestRejected)))
	status, err = invite.client("u2").Join(ctx, "b1", "")
	require.NoError(t, err)
	assert.Equal(t, protocol.JoinRejected, status)
}

func TestModeratorOnlyRoutes(t *testing.T) {
	f := newFixture(t, board.AccessPublic)
	ctx := context.Background()
	_, err := f.client("u2").Join(ctx, "b1", "")
	require.NoError(t, err)

	err = f.client("u2").Do(ctx, api.SetTimer("b1", time.Minute))
	assert.Equal(t, http.StatusForbidden, statusCode(err))

	require.NoError(t, f.client("owner").Do(ctx, api.ChangeRole("b1", "u2", board.RoleModerator)))
	require.NoError(t, f.client("u2").Do(ctx, api.SetTimer("b1", time.Minute)))
	assert.NotNil(t, f.state(t).Board.TimerEnd)

	err = f.client("u2").Do(ctx, api.ChangeRole("b1", "owner", board.RoleParticipant))
	assert.Equal(t, http.StatusForbidden, statusCode(err))

	err = f.client("stranger").Do(ctx, api.CreateNote("b1", "n1", "c1", "hi"))
	assert.Equal(t, http.StatusForbidden, statusCode(err))
}

func TestNoteLifecycle(t *testing.T) {
	f := newFixture(t, board.AccessPublic)
	ctx := context.Background()
	c := f.client("owner")

	require.NoError(t, c.Do(ctx, api.CreateNote("b1", "a", "c1", "first")))
	require.NoError(t, c.Do(ctx, api.CreateNote("b1", "b", "c1", "second")))
	require.NoError(t, c.Do(ctx, api.MoveNote("b1", "b", board.Position{Column: "c1", Stack: "a"})))
	require.NoError(t, c.Do(ctx, api.EditNoteText("b1", "a", "edited")))

	st := f.state(t)
	b, _ := st.Note("b")
	assert.Equal(t, "a", b.Position.Stack)
	a, _ := st.Note("a")
	assert.True(t, a.Edited)

	err := c.Do(ctx, api.MoveNote("b1", "a", board.Position{Column: "c1", Stack: "b"}))
	assert.Equal(t, http.StatusConflict, statusCode(err))

	require.NoError(t, c.Do(ctx, api.ShareNote("b1", "a")))
	err = c.Do(ctx, api.DeleteNote("b1", "a", false))
	assert.Equal(t, http.StatusConflict, statusCode(err))

	require.NoError(t, c.Do(ctx, api.ShareNote("b1", "")))
	require.NoError(t, c.Do(ctx, api.DeleteNote("b1", "a", false)))
	st = f.state(t)
	require.Len(t, st.Notes, 1)
	assert.Equal(t, board.Position{Column: "c1", Rank: 0}, st.Notes[0].Position)

	err = c.Do(ctx, api.EditNoteText("b1", "a", "gone"))
	assert.Equal(t, http.StatusNotFound, statusCode(err))
}

func TestClosingVotingTallies(t *testing.T) {
	f := newFixture(t, board.AccessPublic)
	ctx := context.Background()
	c := f.client("owner")
	require.NoError(t, c.Do(ctx, api.CreateNote("b1", "n1", "c1", "x")))
	require.NoError(t, c.Do(ctx, api.CreateVoting("b1", board.Voting{ID: "v1", VoteLimit: 2, AllowMultipleVotes: true})))
	require.NoError(t, c.Do(ctx, api.AddVote("b1", "n1")))
	require.NoError(t, c.Do(ctx, api.AddVote("b1", "n1")))
	err := c.Do(ctx, api.AddVote("b1", "n1"))
	assert.Equal(t, http.StatusConflict, statusCode(err))

	require.NoError(t, c.Do(ctx, api.SetVotingStatus("b1", "v1", board.VotingClosed)))
	st := f.state(t)
	v, _ := st.Voting("v1")
	assert.Equal(t, board.VotingClosed, v.Status)
	require.NotNil(t, v.VoteResults)
	assert.Equal(t, 2, v.VoteResults.Total)
	assert.Equal(t, board.NoteVotes{Total: 2, Users: []string{"owner"}}, v.VoteResults.VotesPerNote["n1"])
	assert.Empty(t, st.Votes)
}

func dial(t *testing.T, f *fixture, user string) *websocket.Conn {
	t.Helper()
	u := f.base.JoinPath("boards", "b1")
	u.Scheme = "ws"
	header := http.Header{}
	header.Set(api.UserHeader, user)
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(p)
	require.NoError(t, err)
	return msg
}

func TestChannelSnapshotAndBoardDeletion(t *testing.T) {
	f := newFixture(t, board.AccessPublic)
	conn := dial(t, f, "owner")

	first := read(t, conn)
	require.IsType(t, protocol.Init{}, first)
	updated := read(t, conn)
	require.IsType(t, protocol.ParticipantUpdated{}, updated)
	assert.True(t, updated.(protocol.ParticipantUpdated).Participant.Connected)

	require.NoError(t, f.client("owner").Do(context.Background(), api.Request{Method: http.MethodDelete, Path: "/boards/b1"}))
	assert.IsType(t, protocol.BoardDeleted{}, read(t, conn))

	_, ok := f.sim.Snapshot("b1")
	assert.False(t, ok)
}

func TestSharedNoteClearedOnTheWire(t *testing.T) {
	f := newFixture(t, board.AccessPublic)
	ctx := context.Background()
	c := f.client("owner")
	require.NoError(t, c.Do(ctx, api.CreateNote("b1", "n1", "c1", "x")))
	require.NoError(t, c.Do(ctx, api.ShareNote("b1", "n1")))

	conn := dial(t, f, "owner")
	read(t, conn)
	read(t, conn)
	require.NoError(t, c.Do(ctx, api.ShareNote("b1", "")))

	msg := read(t, conn)
	require.IsType(t, protocol.BoardUpdated{}, msg)
	assert.Contains(t, string(msg.(protocol.BoardUpdated).Fields), `"sharedNote":null`)
}
