package board

import (
	"slices"
	"sort"
)

// State is the normalized tree for one board session. Entities refer to each
// other by id only.
type State struct {
	Self         string        `json:"self,omitempty"`
	Board        Board         `json:"board"`
	Columns      []Column      `json:"columns"`
	Notes        []Note        `json:"notes"`
	Participants []Participant `json:"participants"`
	Votes        []Vote        `json:"votes"`
	Votings      []Voting      `json:"votings"`
	Requests     []JoinRequest `json:"requests"`
	Reactions    []Reaction    `json:"reactions"`
}

// Clone returns a deep copy that shares no memory with s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{
		Self:         s.Self,
		Board:        cloneBoard(s.Board),
		Columns:      slices.Clone(s.Columns),
		Notes:        slices.Clone(s.Notes),
		Participants: slices.Clone(s.Participants),
		Votes:        slices.Clone(s.Votes),
		Votings:      make([]Voting, len(s.Votings)),
		Requests:     slices.Clone(s.Requests),
		Reactions:    slices.Clone(s.Reactions),
	}
	for i, v := range s.Votings {
		out.Votings[i] = cloneVoting(v)
	}
	return out
}

func cloneBoard(b Board) Board {
	if b.TimerStart != nil {
		t := *b.TimerStart
		b.TimerStart = &t
	}
	if b.TimerEnd != nil {
		t := *b.TimerEnd
		b.TimerEnd = &t
	}
	if b.Moderation != nil {
		m := *b.Moderation
		b.Moderation = &m
	}
	return b
}

func cloneVoting(v Voting) Voting {
	if v.VoteResults == nil {
		return v
	}
	results := &VoteResults{Total: v.VoteResults.Total, VotesPerNote: make(map[string]NoteVotes, len(v.VoteResults.VotesPerNote))}
	for id, nv := range v.VoteResults.VotesPerNote {
		results.VotesPerNote[id] = NoteVotes{Total: nv.Total, Users: slices.Clone(nv.Users)}
	}
	v.VoteResults = results
	return v
}

func (s *State) Note(id string) (Note, bool) {
	if i := s.noteIndex(id); i >= 0 {
		return s.Notes[i], true
	}
	return Note{}, false
}

func (s *State) noteIndex(id string) int {
	return slices.IndexFunc(s.Notes, func(n Note) bool { return n.ID == id })
}

func (s *State) Column(id string) (Column, bool) {
	if i := s.columnIndex(id); i >= 0 {
		return s.Columns[i], true
	}
	return Column{}, false
}

func (s *State) columnIndex(id string) int {
	return slices.IndexFunc(s.Columns, func(c Column) bool { return c.ID == id })
}

func (s *State) Participant(userID string) (Participant, bool) {
	if i := s.participantIndex(userID); i >= 0 {
		return s.Participants[i], true
	}
	return Participant{}, false
}

func (s *State) participantIndex(userID string) int {
	return slices.IndexFunc(s.Participants, func(p Participant) bool { return p.User.ID == userID })
}

// Me returns the participant entry of the local user.
func (s *State) Me() (Participant, bool) {
	if s.Self == "" {
		return Participant{}, false
	}
	return s.Participant(s.Self)
}

// Others returns every participant except the local user.
func (s *State) Others() []Participant {
	out := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.User.ID != s.Self {
			out = append(out, p)
		}
	}
	return out
}

func (s *State) Voting(id string) (Voting, bool) {
	if i := s.votingIndex(id); i >= 0 {
		return s.Votings[i], true
	}
	return Voting{}, false
}

func (s *State) votingIndex(id string) int {
	return slices.IndexFunc(s.Votings, func(v Voting) bool { return v.ID == id })
}

// OpenVoting returns the voting that currently accepts votes, if any.
func (s *State) OpenVoting() (Voting, bool) {
	for _, v := range s.Votings {
		if v.Status == VotingOpen {
			return v, true
		}
	}
	return Voting{}, false
}

// NotesIn returns the notes of one (column, stack) group ordered by rank.
func (s *State) NotesIn(column, stack string) []Note {
	return groupOf(s.Notes, column, stack, "")
}

// StackOf returns the children stacked under the given note, ordered by rank.
func (s *State) StackOf(parent string) []Note {
	n, ok := s.Note(parent)
	if !ok {
		return nil
	}
	return groupOf(s.Notes, n.Position.Column, parent, "")
}

// SortedColumns returns the columns in index order.
func (s *State) SortedColumns() []Column {
	out := slices.Clone(s.Columns)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
