package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/boardsync/pkg/board"
)

func TestDecodeInit(t *testing.T) {
	raw := []byte(`{"type":"INIT","data":{
		"board":{"id":"b1","accessPolicy":"PUBLIC","allowStacking":true,"sharedNote":null},
		"columns":[{"id":"c1","name":"Went well","color":"backlog-blue","visible":true,"index":0}],
		"participants":[{"user":{"id":"u1","name":"Ann"},"role":"OWNER","connected":true}],
		"notes":[{"id":"n1","author":"u1","text":"hi","position":{"column":"c1","stack":null,"rank":0}},
		         {"id":"n2","author":"u1","text":"yo","position":{"column":"c1","stack":"n1","rank":0}}],
		"votes":[],"votings":[],"requests":[]}}`)

	msg, err := Decode(raw)
	require.NoError(t, err)
	snapshot, ok := msg.(Init)
	require.True(t, ok)

	assert.Equal(t, "b1", snapshot.Board.ID)
	assert.Empty(t, snapshot.Board.SharedNote)
	require.Len(t, snapshot.Notes, 2)
	assert.Equal(t, "", snapshot.Notes[0].Position.Stack)
	assert.Equal(t, "n1", snapshot.Notes[1].Position.Stack)
	assert.Equal(t, board.RoleOwner, snapshot.Participants[0].Role)
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":      `{"type":`,
		"unknown type":  `{"type":"SOMETHING_ELSE","data":{}}`,
		"missing data":  `{"type":"NOTES_UPDATED"}`,
		"wrong shape":   `{"type":"NOTES_UPDATED","data":{"id":1}}`,
		"board garbage": `{"type":"BOARD_UPDATED"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.Error(t, err)
		})
	}

	_, err := Decode([]byte(`{"type":"SOMETHING_ELSE"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestEncodeRoundTripsThroughDecode(t *testing.T) {
	messages := []Message{
		NotesUpdated{Notes: []board.Note{{ID: "n1", Position: board.Position{Column: "c1", Stack: "n0", Rank: 3}}}},
		BoardDeleted{},
		VotingUpdated{Voting: board.Voting{ID: "v1", Status: board.VotingClosed}},
		ReactionDeleted{ID: "r1"},
		BoardUpdated{Fields: json.RawMessage(`{"name":"Retro"}`)},
	}
	for _, m := range messages {
		raw, err := Encode(m)
		require.NoError(t, err)
		back, err := Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, m.Type(), back.Type())
	}

	raw, err := Encode(messages[0])
	require.NoError(t, err)
	back, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, messages[0], back)
}

func TestPositionNullStack(t *testing.T) {
	raw, err := json.Marshal(board.Position{Column: "c1", Rank: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"column":"c1","stack":null,"rank":2}`, string(raw))
}

func TestDecodeSessionStatus(t *testing.T) {
	status, err := DecodeSessionStatus([]byte(`{"type":"SESSION_ACCEPTED"}`))
	require.NoError(t, err)
	assert.Equal(t, JoinAccepted, status)

	status, err = DecodeSessionStatus([]byte(`{"type":"SESSION_REJECTED"}`))
	require.NoError(t, err)
	assert.Equal(t, JoinRejected, status)

	_, err = DecodeSessionStatus([]byte(`{"type":"INIT"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}
