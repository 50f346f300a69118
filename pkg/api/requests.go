package api

import (
	"net/http"
	"time"

	"github.com/astromechza/boardsync/pkg/board"
)

// Request is one outbound call. Requests are plain values so that a failed
// call can be sent again unchanged.
type Request struct {
	Method string
	Path   string
	Body   any
	// Entity is the id of the entity the call is about, used to key pending
	// failures.
	Entity string
}

type CreateNoteBody struct {
	ID     string `json:"id"`
	Column string `json:"column"`
	Text   string `json:"text"`
}

type EditNoteBody struct {
	Text     *string         `json:"text,omitempty"`
	Position *board.Position `json:"position,omitempty"`
}

type DeleteNoteBody struct {
	DeleteStack bool `json:"deleteStack"`
}

type TimerBody struct {
	Minutes int `json:"minutes"`
}

type SharedNoteBody struct {
	SharedNote *string `json:"sharedNote"`
}

type RoleBody struct {
	Role board.Role `json:"role"`
}

type ProfileBody struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type RequestsBody struct {
	Users  []string            `json:"users"`
	Status board.RequestStatus `json:"status"`
}

type VotingBody struct {
	ID                 string `json:"id"`
	VoteLimit          int    `json:"voteLimit"`
	AllowMultipleVotes bool   `json:"allowMultipleVotes"`
	ShowVotesOfOthers  bool   `json:"showVotesOfOthers"`
	IsAnonymous        bool   `json:"isAnonymous"`
}

type VotingStatusBody struct {
	Status board.VotingStatus `json:"status"`
}

type VoteBody struct {
	Note string `json:"note"`
}

type ReactionBody struct {
	ID           string `json:"id"`
	Note         string `json:"note"`
	ReactionType string `json:"reactionType"`
}

func boardPath(boardID string, parts ...string) string {
	p := "/boards/" + boardID
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func CreateNote(boardID, id, column, text string) Request {
	return Request{Method: http.MethodPost, Path: boardPath(boardID, "notes"), Entity: id,
		Body: CreateNoteBody{ID: id, Column: column, Text: text}}
}

func EditNoteText(boardID, id, text string) Request {
	return Request{Method: http.MethodPut, Path: boardPath(boardID, "notes", id), Entity: id,
		Body: EditNoteBody{Text: &text}}
}

func MoveNote(boardID, id string, pos board.Position) Request {
	return Request{Method: http.MethodPut, Path: boardPath(boardID, "notes", id), Entity: id,
		Body: EditNoteBody{Position: &pos}}
}

func DeleteNote(boardID, id string, deleteStack bool) Request {
	return Request{Method: http.MethodDelete, Path: boardPath(boardID, "notes", id), Entity: id,
		Body: DeleteNoteBody{DeleteStack: deleteStack}}
}

func EditColumn(boardID, id string, patch board.ColumnPatch) Request {
	return Request{Method: http.MethodPut, Path: boardPath(boardID, "columns", id), Entity: id, Body: patch}
}

func EditBoard(boardID string, patch board.BoardPatch) Request {
	return Request{Method: http.MethodPut, Path: boardPath(boardID), Entity: boardID, Body: patch}
}

func SetTimer(boardID string, d time.Duration) Request {
	return Request{Method: http.MethodPost, Path: boardPath(boardID, "timer"), Entity: boardID,
		Body: TimerBody{Minutes: int(d.Round(time.Minute) / time.Minute)}}
}

func CancelTimer(boardID string) Request {
	return Request{Method: http.MethodDelete, Path: boardPath(boardID, "timer"), Entity: boardID}
}

// ShareNote focuses a note; an empty id stops sharing.
func ShareNote(boardID, id string) Request {
	body := SharedNoteBody{}
	if id != "" {
		body.SharedNote = &id
	}
	return Request{Method: http.MethodPut, Path: boardPath(boardID, "shared"), Entity: boardID, Body: body}
}

func EditParticipant(boardID, userID string, patch board.ParticipantPatch) Request {
	return Request{Method: http.MethodPut, Path: boardPath(boardID, "participants", userID), Entity: userID, Body: patch}
}

func ChangeRole(boardID, userID string, role board.Role) Request {
	return Request{Method: http.MethodPut, Path: boardPath(boardID, "participants", userID, "role"), Entity: userID,
		Body: RoleBody{Role: role}}
}

func EditSelf(userID, name, avatar string) Request {
	return Request{Method: http.MethodPut, Path: "/user", Entity: userID, Body: ProfileBody{Name: name, Avatar: avatar}}
}

func AnswerRequests(boardID string, userIDs []string, status board.RequestStatus) Request {
	return Request{Method: http.MethodPut, Path: boardPath(boardID, "requests"), Entity: boardID,
		Body: RequestsBody{Users: userIDs, Status: status}}
}

func CreateVoting(boardID string, v board.Voting) Request {
	return Request{Method: http.MethodPost, Path: boardPath(boardID, "votings"), Entity: v.ID,
		Body: VotingBody{ID: v.ID, VoteLimit: v.VoteLimit, AllowMultipleVotes: v.AllowMultipleVotes,
			ShowVotesOfOthers: v.ShowVotesOfOthers, IsAnonymous: v.IsAnonymous}}
}

func SetVotingStatus(boardID, votingID string, status board.VotingStatus) Request {
	return Request{Method: http.MethodPut, Path: boardPath(boardID, "votings", votingID), Entity: votingID,
		Body: VotingStatusBody{Status: status}}
}

func AddVote(boardID, note string) Request {
	return Request{Method: http.MethodPost, Path: boardPath(boardID, "votes"), Entity: note, Body: VoteBody{Note: note}}
}

func RemoveVote(boardID, note string) Request {
	return Request{Method: http.MethodDelete, Path: boardPath(boardID, "votes"), Entity: note, Body: VoteBody{Note: note}}
}

func AddReaction(boardID string, r board.Reaction) Request {
	return Request{Method: http.MethodPost, Path: boardPath(boardID, "reactions"), Entity: r.ID,
		Body: ReactionBody{ID: r.ID, Note: r.Note, ReactionType: r.ReactionType}}
}

func RemoveReaction(boardID, id string) Request {
	return Request{Method: http.MethodDelete, Path: boardPath(boardID, "reactions", id), Entity: id}
}
