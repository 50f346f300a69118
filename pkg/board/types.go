package board

import (
	"encoding/json"
	"time"
)

type AccessPolicy string

const (
	AccessPublic       AccessPolicy = "PUBLIC"
	AccessByPassphrase AccessPolicy = "BY_PASSPHRASE"
	AccessByInvite     AccessPolicy = "BY_INVITE"
)

type Role string

const (
	RoleOwner       Role = "OWNER"
	RoleModerator   Role = "MODERATOR"
	RoleParticipant Role = "PARTICIPANT"
)

// IsModerator reports whether the role may moderate the board.
func (r Role) IsModerator() bool {
	return r == RoleOwner || r == RoleModerator
}

type VotingStatus string

const (
	VotingOpen    VotingStatus = "OPEN"
	VotingClosed  VotingStatus = "CLOSED"
	VotingAborted VotingStatus = "ABORTED"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestAccepted RequestStatus = "ACCEPTED"
	RequestRejected RequestStatus = "REJECTED"
)

// Moderation describes an active moderation session on the board.
type Moderation struct {
	InitiatorID string `json:"initiatorId"`
	Active      bool   `json:"active"`
}

type Board struct {
	ID                    string       `json:"id"`
	Name                  string       `json:"name,omitempty"`
	AccessPolicy          AccessPolicy `json:"accessPolicy"`
	ShowAuthors           bool         `json:"showAuthors"`
	ShowNotesOfOtherUsers bool         `json:"showNotesOfOtherUsers"`
	AllowStacking         bool         `json:"allowStacking"`
	IsLocked              bool         `json:"isLocked"`
	TimerStart            *time.Time   `json:"timerStart,omitempty"`
	TimerEnd              *time.Time   `json:"timerEnd,omitempty"`
	SharedNote            string       `json:"sharedNote,omitempty"`
	Moderation            *Moderation  `json:"moderation,omitempty"`
}

// ModerationActive reports whether a moderation session is running.
func (b Board) ModerationActive() bool {
	return b.Moderation != nil && b.Moderation.Active
}

type Column struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color"`
	Visible     bool   `json:"visible"`
	Index       int    `json:"index"`
}

// Position places a note. An empty Stack means the note is not stacked.
type Position struct {
	Column string
	Stack  string
	Rank   int
}

type wirePosition struct {
	Column string  `json:"column"`
	Stack  *string `json:"stack"`
	Rank   int     `json:"rank"`
}

func (p Position) MarshalJSON() ([]byte, error) {
	w := wirePosition{Column: p.Column, Rank: p.Rank}
	if p.Stack != "" {
		stack := p.Stack
		w.Stack = &stack
	}
	return json.Marshal(w)
}

func (p *Position) UnmarshalJSON(data []byte) error {
	var w wirePosition
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Column = w.Column
	p.Rank = w.Rank
	p.Stack = ""
	if w.Stack != nil {
		p.Stack = *w.Stack
	}
	return nil
}

type Note struct {
	ID       string   `json:"id"`
	Author   string   `json:"author"`
	Text     string   `json:"text"`
	Position Position `json:"position"`
	Edited   bool     `json:"edited"`
}

// Stacked reports whether the note sits in another note's stack.
func (n Note) Stacked() bool {
	return n.Position.Stack != ""
}

type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type Participant struct {
	User              User `json:"user"`
	Connected         bool `json:"connected"`
	Ready             bool `json:"ready"`
	RaisedHand        bool `json:"raisedHand"`
	ShowHiddenColumns bool `json:"showHiddenColumns"`
	// SeesSharedNote is false when the participant has dismissed the shared note.
	SeesSharedNote bool `json:"seesSharedNote"`
	Role           Role `json:"role"`
}

type NoteVotes struct {
	Total int      `json:"total"`
	Users []string `json:"users,omitempty"`
}

type VoteResults struct {
	Total        int                  `json:"total"`
	VotesPerNote map[string]NoteVotes `json:"votesPerNote"`
}

type Voting struct {
	ID                 string       `json:"id"`
	VoteLimit          int          `json:"voteLimit"`
	AllowMultipleVotes bool         `json:"allowMultipleVotes"`
	ShowVotesOfOthers  bool         `json:"showVotesOfOthers"`
	IsAnonymous        bool         `json:"isAnonymous"`
	Status             VotingStatus `json:"status"`
	VoteResults        *VoteResults `json:"voteResults,omitempty"`
}

// Vote links a voting to a note. User is empty for anonymous votings.
type Vote struct {
	Voting string `json:"voting"`
	Note   string `json:"note"`
	User   string `json:"user,omitempty"`
}

type Reaction struct {
	ID           string `json:"id"`
	Note         string `json:"note"`
	User         string `json:"user"`
	ReactionType string `json:"reactionType"`
}

type JoinRequest struct {
	User   User          `json:"user"`
	Status RequestStatus `json:"status"`
}
