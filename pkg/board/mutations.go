package board

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrDuplicateNote     = errors.New("note already exists")
	ErrStackingDisabled  = errors.New("stacking is disabled on this board")
	ErrParticipantAbsent = errors.New("participant not found")
	ErrVotingNotFound    = errors.New("voting not found")
	ErrVotingClosed      = errors.New("voting is not open")
	ErrVoteLimit         = errors.New("vote limit reached")
	ErrVoteNotFound      = errors.New("vote not found")
)

type ColumnPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty"`
	Visible     *bool   `json:"visible,omitempty"`
	Index       *int    `json:"index,omitempty"`
}

type BoardPatch struct {
	Name                  *string       `json:"name,omitempty"`
	AccessPolicy          *AccessPolicy `json:"accessPolicy,omitempty"`
	Passphrase            *string       `json:"passphrase,omitempty"`
	ShowAuthors           *bool         `json:"showAuthors,omitempty"`
	ShowNotesOfOtherUsers *bool         `json:"showNotesOfOtherUsers,omitempty"`
	AllowStacking         *bool         `json:"allowStacking,omitempty"`
	IsLocked              *bool         `json:"isLocked,omitempty"`
	Moderation            *Moderation   `json:"moderation,omitempty"`
}

type ParticipantPatch struct {
	RaisedHand        *bool `json:"raisedHand,omitempty"`
	Ready             *bool `json:"ready,omitempty"`
	ShowHiddenColumns *bool `json:"showHiddenColumns,omitempty"`
	SeesSharedNote    *bool `json:"seesSharedNote,omitempty"`
}

// AddNote appends a new note at the end of the column.
func (s *State) AddNote(id, author, column, text string) (Note, error) {
	if s.noteIndex(id) >= 0 {
		return Note{}, fmt.Errorf("%w: %s", ErrDuplicateNote, id)
	}
	if s.columnIndex(column) < 0 {
		return Note{}, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
	}
	rank := 0
	if group := s.NotesIn(column, ""); len(group) > 0 {
		rank = group[len(group)-1].Position.Rank + 1
	}
	n := Note{ID: id, Author: author, Text: text, Position: Position{Column: column, Rank: rank}}
	s.Notes = append(s.Notes, n)
	return n, nil
}

func (s *State) EditNote(id, text string) error {
	i := s.noteIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	s.Notes[i].Text = text
	s.Notes[i].Edited = true
	return nil
}

// MoveNote places a note through the positioning rules in Place.
func (s *State) MoveNote(id, column, stack string, rank int) error {
	if stack != "" && !s.Board.AllowStacking {
		return ErrStackingDisabled
	}
	if column != "" && s.columnIndex(column) < 0 {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, column)
	}
	notes, err := Place(s.Notes, id, column, stack, rank)
	if err != nil {
		return err
	}
	s.Notes = notes
	return nil
}

// StackNote puts a note at the end of another note's stack.
func (s *State) StackNote(id, onto string) error {
	rank := 0
	if group := s.StackOf(onto); len(group) > 0 {
		rank = group[len(group)-1].Position.Rank + 1
	}
	return s.MoveNote(id, "", onto, rank)
}

func (s *State) UnstackNote(id string) error {
	notes, err := Unstack(s.Notes, id)
	if err != nil {
		return err
	}
	s.Notes = notes
	return nil
}

// DeleteNote removes a note. With deleteStack its children go too; otherwise
// the lowest-ranked child takes the parent's place and the rest stack onto it.
func (s *State) DeleteNote(id string, deleteStack bool) error {
	i := s.noteIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	note := s.Notes[i]
	children := s.StackOf(id)
	removed := []string{id}
	if deleteStack {
		for _, c := range children {
			removed = append(removed, c.ID)
		}
	} else if len(children) > 0 {
		head := children[0].ID
		for k := range s.Notes {
			switch {
			case s.Notes[k].ID == head:
				s.Notes[k].Position = Position{Column: note.Position.Column, Rank: note.Position.Rank}
			case s.Notes[k].Position.Stack == id:
				s.Notes[k].Position.Stack = head
			}
		}
	}
	s.Notes = slices.DeleteFunc(s.Notes, func(n Note) bool { return slices.Contains(removed, n.ID) })
	s.Votes = slices.DeleteFunc(s.Votes, func(v Vote) bool { return slices.Contains(removed, v.Note) })
	s.Reactions = slices.DeleteFunc(s.Reactions, func(r Reaction) bool { return slices.Contains(removed, r.Note) })
	if slices.Contains(removed, s.Board.SharedNote) {
		s.Board.SharedNote = ""
	}
	return nil
}

func (s *State) EditColumn(id string, patch ColumnPatch) error {
	i := s.columnIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, id)
	}
	c := &s.Columns[i]
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	if patch.Color != nil {
		c.Color = *patch.Color
	}
	if patch.Visible != nil {
		c.Visible = *patch.Visible
	}
	if patch.Index != nil {
		columns, err := MoveColumn(s.Columns, id, *patch.Index)
		if err != nil {
			return err
		}
		s.Columns = columns
	}
	return nil
}

func (s *State) PatchBoard(patch BoardPatch) {
	b := &s.Board
	if patch.Name != nil {
		b.Name = *patch.Name
	}
	if patch.AccessPolicy != nil {
		b.AccessPolicy = *patch.AccessPolicy
	}
	if patch.ShowAuthors != nil {
		b.ShowAuthors = *patch.ShowAuthors
	}
	if patch.ShowNotesOfOtherUsers != nil {
		b.ShowNotesOfOtherUsers = *patch.ShowNotesOfOtherUsers
	}
	if patch.AllowStacking != nil {
		b.AllowStacking = *patch.AllowStacking
	}
	if patch.IsLocked != nil {
		b.IsLocked = *patch.IsLocked
	}
	if patch.Moderation != nil {
		m := *patch.Moderation
		b.Moderation = &m
	}
}

func (s *State) SetTimer(start, end time.Time) {
	s.Board.TimerStart = &start
	s.Board.TimerEnd = &end
}

func (s *State) CancelTimer() {
	s.Board.TimerStart = nil
	s.Board.TimerEnd = nil
}

// ShareNote focuses a note for everyone. An empty id stops sharing.
func (s *State) ShareNote(id string) error {
	if id != "" && s.noteIndex(id) < 0 {
		return fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	s.Board.SharedNote = id
	return nil
}

func (s *State) PatchParticipant(userID string, patch ParticipantPatch) error {
	i := s.participantIndex(userID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrParticipantAbsent, userID)
	}
	p := &s.Participants[i]
	if patch.RaisedHand != nil {
		p.RaisedHand = *patch.RaisedHand
	}
	if patch.Ready != nil {
		p.Ready = *patch.Ready
	}
	if patch.ShowHiddenColumns != nil {
		p.ShowHiddenColumns = *patch.ShowHiddenColumns
	}
	if patch.SeesSharedNote != nil {
		p.SeesSharedNote = *patch.SeesSharedNote
	}
	return nil
}

func (s *State) SetRole(userID string, role Role) error {
	i := s.participantIndex(userID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrParticipantAbsent, userID)
	}
	s.Participants[i].Role = role
	return nil
}

// SetProfile updates the user part of a participant entry.
func (s *State) SetProfile(userID, name, avatar string) error {
	i := s.participantIndex(userID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrParticipantAbsent, userID)
	}
	s.Participants[i].User.Name = name
	if avatar != "" {
		s.Participants[i].User.Avatar = avatar
	}
	return nil
}

func (s *State) UpsertParticipant(p Participant) {
	if i := s.participantIndex(p.User.ID); i >= 0 {
		s.Participants[i] = p
		return
	}
	s.Participants = append(s.Participants, p)
}

func (s *State) UpsertVoting(v Voting) {
	v = cloneVoting(v)
	if i := s.votingIndex(v.ID); i >= 0 {
		s.Votings[i] = v
		return
	}
	s.Votings = append(s.Votings, v)
}

// DropVotes removes every vote cast in the given voting.
func (s *State) DropVotes(voting string) {
	s.Votes = slices.DeleteFunc(s.Votes, func(v Vote) bool { return v.Voting == voting })
}

func (s *State) UpsertRequest(r JoinRequest) {
	i := slices.IndexFunc(s.Requests, func(o JoinRequest) bool { return o.User.ID == r.User.ID })
	if i >= 0 {
		s.Requests[i] = r
		return
	}
	s.Requests = append(s.Requests, r)
}

// SetRequestStatus updates the listed pending requests.
func (s *State) SetRequestStatus(userIDs []string, status RequestStatus) {
	for i := range s.Requests {
		if slices.Contains(userIDs, s.Requests[i].User.ID) {
			s.Requests[i].Status = status
		}
	}
}

// AddVote casts a vote for user on note in the open voting.
func (s *State) AddVote(note, user string) (Vote, error) {
	voting, ok := s.OpenVoting()
	if !ok {
		return Vote{}, ErrVotingClosed
	}
	if s.noteIndex(note) < 0 {
		return Vote{}, fmt.Errorf("%w: %s", ErrNoteNotFound, note)
	}
	mine, onNote := 0, 0
	for _, v := range s.Votes {
		if v.Voting != voting.ID || v.User != user {
			continue
		}
		mine++
		if v.Note == note {
			onNote++
		}
	}
	if mine >= voting.VoteLimit || (!voting.AllowMultipleVotes && onNote > 0) {
		return Vote{}, ErrVoteLimit
	}
	v := Vote{Voting: voting.ID, Note: note, User: user}
	s.Votes = append(s.Votes, v)
	return v, nil
}

// RemoveVote takes back one of user's votes on note in the open voting.
func (s *State) RemoveVote(note, user string) error {
	voting, ok := s.OpenVoting()
	if !ok {
		return ErrVotingClosed
	}
	i := slices.IndexFunc(s.Votes, func(v Vote) bool {
		return v.Voting == voting.ID && v.Note == note && v.User == user
	})
	if i < 0 {
		return ErrVoteNotFound
	}
	s.Votes = slices.Delete(s.Votes, i, i+1)
	return nil
}

func (s *State) AddReaction(r Reaction) error {
	if s.noteIndex(r.Note) < 0 {
		return fmt.Errorf("%w: %s", ErrNoteNotFound, r.Note)
	}
	if i := slices.IndexFunc(s.Reactions, func(o Reaction) bool { return o.ID == r.ID }); i >= 0 {
		s.Reactions[i] = r
		return nil
	}
	s.Reactions = append(s.Reactions, r)
	return nil
}

func (s *State) RemoveReaction(id string) {
	s.Reactions = slices.DeleteFunc(s.Reactions, func(r Reaction) bool { return r.ID == id })
}
