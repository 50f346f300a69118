// Package protocol holds the JSON messages a board server pushes to clients.
//
// Every inbound message is a concrete type implementing Message. Consumers
// implement Handler, which has one method per message kind, so adding a kind
// breaks the build of every consumer until it is handled.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/astromechza/boardsync/pkg/board"
)

const (
	TypeInit              = "INIT"
	TypeBoardUpdated      = "BOARD_UPDATED"
	TypeBoardTimerUpdated = "BOARD_TIMER_UPDATED"
	TypeBoardDeleted      = "BOARD_DELETED"
	TypeColumnsUpdated    = "COLUMNS_UPDATED"
	TypeNotesUpdated      = "NOTES_UPDATED"
	TypeParticipantCreate = "PARTICIPANT_CREATED"
	TypeParticipantUpdate = "PARTICIPANT_UPDATED"
	TypeParticipants      = "PARTICIPANTS_UPDATED"
	TypeVotingCreated     = "VOTING_CREATED"
	TypeVotingUpdated     = "VOTING_UPDATED"
	TypeVotesUpdated      = "VOTES_UPDATED"
	TypeRequestCreated    = "REQUEST_CREATED"
	TypeRequestUpdated    = "REQUEST_UPDATED"
	TypeReactionAdded     = "REACTION_ADDED"
	TypeReactionDeleted   = "REACTION_DELETED"
)

var ErrUnknownType = errors.New("unknown message type")

// Envelope is the frame every message travels in.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Message interface {
	Type() string
	Accept(h Handler)
}

type Handler interface {
	HandleInit(Init)
	HandleBoardUpdated(BoardUpdated)
	HandleBoardTimerUpdated(BoardTimerUpdated)
	HandleBoardDeleted(BoardDeleted)
	HandleColumnsUpdated(ColumnsUpdated)
	HandleNotesUpdated(NotesUpdated)
	HandleParticipantCreated(ParticipantCreated)
	HandleParticipantUpdated(ParticipantUpdated)
	HandleParticipantsUpdated(ParticipantsUpdated)
	HandleVotingCreated(VotingCreated)
	HandleVotingUpdated(VotingUpdated)
	HandleVotesUpdated(VotesUpdated)
	HandleRequestCreated(RequestCreated)
	HandleRequestUpdated(RequestUpdated)
	HandleReactionAdded(ReactionAdded)
	HandleReactionDeleted(ReactionDeleted)
}

// Init is the full snapshot sent after a channel opens.
type Init struct {
	Board        board.Board         `json:"board"`
	Columns      []board.Column      `json:"columns"`
	Participants []board.Participant `json:"participants"`
	Notes        []board.Note        `json:"notes"`
	Votes        []board.Vote        `json:"votes"`
	Votings      []board.Voting      `json:"votings"`
	Requests     []board.JoinRequest `json:"requests"`
	Reactions    []board.Reaction    `json:"reactions"`
}

// State converts the snapshot into a tree.
func (m Init) State() *board.State {
	return &board.State{
		Board:        m.Board,
		Columns:      m.Columns,
		Participants: m.Participants,
		Notes:        m.Notes,
		Votes:        m.Votes,
		Votings:      m.Votings,
		Requests:     m.Requests,
		Reactions:    m.Reactions,
	}
}

// BoardUpdated carries a partial board. Only the keys present are merged.
type BoardUpdated struct {
	Fields json.RawMessage
}

type BoardTimerUpdated struct {
	Board board.Board
}

type BoardDeleted struct{}

type ColumnsUpdated struct {
	Columns []board.Column
}

type NotesUpdated struct {
	Notes []board.Note
}

type ParticipantCreated struct {
	Participant board.Participant
}

type ParticipantUpdated struct {
	Participant board.Participant
}

type ParticipantsUpdated struct {
	Participants []board.Participant
}

type VotingCreated struct {
	Voting board.Voting `json:"voting"`
}

// VotingUpdated carries the voting and, once it closes, the authoritative notes.
type VotingUpdated struct {
	Voting board.Voting `json:"voting"`
	Notes  []board.Note `json:"notes"`
}

type VotesUpdated struct {
	Votes []board.Vote
}

type RequestCreated struct {
	Request board.JoinRequest
}

type RequestUpdated struct {
	Request board.JoinRequest
}

type ReactionAdded struct {
	Reaction board.Reaction
}

type ReactionDeleted struct {
	ID string
}

func (Init) Type() string                { return TypeInit }
func (BoardUpdated) Type() string        { return TypeBoardUpdated }
func (BoardTimerUpdated) Type() string   { return TypeBoardTimerUpdated }
func (BoardDeleted) Type() string        { return TypeBoardDeleted }
func (ColumnsUpdated) Type() string      { return TypeColumnsUpdated }
func (NotesUpdated) Type() string        { return TypeNotesUpdated }
func (ParticipantCreated) Type() string  { return TypeParticipantCreate }
func (ParticipantUpdated) Type() string  { return TypeParticipantUpdate }
func (ParticipantsUpdated) Type() string { return TypeParticipants }
func (VotingCreated) Type() string       { return TypeVotingCreated }
func (VotingUpdated) Type() string       { return TypeVotingUpdated }
func (VotesUpdated) Type() string        { return TypeVotesUpdated }
func (RequestCreated) Type() string      { return TypeRequestCreated }
func (RequestUpdated) Type() string      { return TypeRequestUpdated }
func (ReactionAdded) Type() string       { return TypeReactionAdded }
func (ReactionDeleted) Type() string     { return TypeReactionDeleted }

func (m Init) Accept(h Handler)                { h.HandleInit(m) }
func (m BoardUpdated) Accept(h Handler)        { h.HandleBoardUpdated(m) }
func (m BoardTimerUpdated) Accept(h Handler)   { h.HandleBoardTimerUpdated(m) }
func (m BoardDeleted) Accept(h Handler)        { h.HandleBoardDeleted(m) }
func (m ColumnsUpdated) Accept(h Handler)      { h.HandleColumnsUpdated(m) }
func (m NotesUpdated) Accept(h Handler)        { h.HandleNotesUpdated(m) }
func (m ParticipantCreated) Accept(h Handler)  { h.HandleParticipantCreated(m) }
func (m ParticipantUpdated) Accept(h Handler)  { h.HandleParticipantUpdated(m) }
func (m ParticipantsUpdated) Accept(h Handler) { h.HandleParticipantsUpdated(m) }
func (m VotingCreated) Accept(h Handler)       { h.HandleVotingCreated(m) }
func (m VotingUpdated) Accept(h Handler)       { h.HandleVotingUpdated(m) }
func (m VotesUpdated) Accept(h Handler)        { h.HandleVotesUpdated(m) }
func (m RequestCreated) Accept(h Handler)      { h.HandleRequestCreated(m) }
func (m RequestUpdated) Accept(h Handler)      { h.HandleRequestUpdated(m) }
func (m ReactionAdded) Accept(h Handler)       { h.HandleReactionAdded(m) }
func (m ReactionDeleted) Accept(h Handler)     { h.HandleReactionDeleted(m) }

// Decode parses one frame into its concrete message.
func Decode(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return decodeData(env)
}

func decodeData(env Envelope) (Message, error) {
	var msg Message
	var err error
	switch env.Type {
	case TypeInit:
		var m Init
		err = unmarshal(env.Data, &m)
		msg = m
	case TypeBoardUpdated:
		if len(env.Data) == 0 || !json.Valid(env.Data) {
			return nil, fmt.Errorf("failed to decode %s: invalid board payload", env.Type)
		}
		msg = BoardUpdated{Fields: env.Data}
	case TypeBoardTimerUpdated:
		var m BoardTimerUpdated
		err = unmarshal(env.Data, &m.Board)
		msg = m
	case TypeBoardDeleted:
		msg = BoardDeleted{}
	case TypeColumnsUpdated:
		var m ColumnsUpdated
		err = unmarshal(env.Data, &m.Columns)
		msg = m
	case TypeNotesUpdated:
		var m NotesUpdated
		err = unmarshal(env.Data, &m.Notes)
		msg = m
	case TypeParticipantCreate:
		var m ParticipantCreated
		err = unmarshal(env.Data, &m.Participant)
		msg = m
	case TypeParticipantUpdate:
		var m ParticipantUpdated
		err = unmarshal(env.Data, &m.Participant)
		msg = m
	case TypeParticipants:
		var m ParticipantsUpdated
		err = unmarshal(env.Data, &m.Participants)
		msg = m
	case TypeVotingCreated:
		var m VotingCreated
		err = unmarshal(env.Data, &m)
		msg = m
	case TypeVotingUpdated:
		var m VotingUpdated
		err = unmarshal(env.Data, &m)
		msg = m
	case TypeVotesUpdated:
		var m VotesUpdated
		err = unmarshal(env.Data, &m.Votes)
		msg = m
	case TypeRequestCreated:
		var m RequestCreated
		err = unmarshal(env.Data, &m.Request)
		msg = m
	case TypeRequestUpdated:
		var m RequestUpdated
		err = unmarshal(env.Data, &m.Request)
		msg = m
	case TypeReactionAdded:
		var m ReactionAdded
		err = unmarshal(env.Data, &m.Reaction)
		msg = m
	case TypeReactionDeleted:
		var m ReactionDeleted
		err = unmarshal(env.Data, &m.ID)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", env.Type, err)
	}
	return msg, nil
}

func unmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, v)
}

// Encode wraps a message in its envelope.
func Encode(m Message) ([]byte, error) {
	var data any
	switch v := m.(type) {
	case Init, VotingCreated, VotingUpdated:
		data = v
	case BoardUpdated:
		data = v.Fields
	case BoardTimerUpdated:
		data = v.Board
	case BoardDeleted:
		data = nil
	case ColumnsUpdated:
		data = v.Columns
	case NotesUpdated:
		data = v.Notes
	case ParticipantCreated:
		data = v.Participant
	case ParticipantUpdated:
		data = v.Participant
	case ParticipantsUpdated:
		data = v.Participants
	case VotesUpdated:
		data = v.Votes
	case RequestCreated:
		data = v.Request
	case RequestUpdated:
		data = v.Request
	case ReactionAdded:
		data = v.Reaction
	case ReactionDeleted:
		data = v.ID
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
	env := Envelope{Type: m.Type()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", m.Type(), err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
