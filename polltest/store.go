// Package polltest provides an in-memory Store for tests. It enforces the
// same (option, session) uniqueness the mongo store gets from its unique
// index, atomically under one mutex.
package polltest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pulsevote/api.pulsevote.dev/poll"
)

type voteKey struct {
	OptionID  int
	SessionID string
}

type MemStore struct {
	mu        sync.Mutex
	polls     map[int]*poll.Poll
	questions map[int]*poll.Question
	options   map[int]*poll.Option
	votes     map[voteKey]poll.Vote
	lastID    int

	// FailInserts makes every InsertVote return a storage error, for
	// exercising mid-batch failure paths.
	FailInserts bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		polls:     map[int]*poll.Poll{},
		questions: map[int]*poll.Question{},
		options:   map[int]*poll.Option{},
		votes:     map[voteKey]poll.Vote{},
	}
}

func (s *MemStore) nextID() int {
	s.lastID++
	return s.lastID
}

// AddPoll seeds an active, open poll and returns its id.
func (s *MemStore) AddPoll(title string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	now := time.Now()
	s.polls[id] = &poll.Poll{
		ID:        id,
		Title:     title,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id
}

func (s *MemStore) AddQuestion(pollID int, text string, qt poll.QuestionType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	order := 0
	for _, q := range s.questions {
		if q.PollID == pollID {
			order++
		}
	}
	s.questions[id] = &poll.Question{
		ID:         id,
		PollID:     pollID,
		Text:       text,
		Type:       qt,
		OrderIndex: order,
	}
	return id
}

func (s *MemStore) AddOption(questionID int, text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	order := 0
	for _, o := range s.options {
		if o.QuestionID == questionID {
			order++
		}
	}
	s.options[id] = &poll.Option{
		ID:         id,
		QuestionID: questionID,
		Text:       text,
		OrderIndex: order,
	}
	return id
}

// VoteRows reports the number of persisted votes for an option.
func (s *MemStore) VoteRows(optionID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.votes {
		if key.OptionID == optionID {
			n++
		}
	}
	return n
}

func (s *MemStore) PollClosed(_ context.Context, pollID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok {
		return false, poll.ErrNotFound
	}
	return p.Closed, nil
}

func (s *MemStore) ResolveOptions(_ context.Context, optionIDs []int) ([]poll.OptionRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make([]poll.OptionRef, 0, len(optionIDs))
	for _, id := range optionIDs {
		o, ok := s.options[id]
		if !ok {
			return nil, poll.ErrNotFound
		}
		q, ok := s.questions[o.QuestionID]
		if !ok {
			return nil, poll.ErrNotFound
		}
		refs = append(refs, poll.OptionRef{
			OptionID:     o.ID,
			QuestionID:   q.ID,
			QuestionType: q.Type,
			PollID:       q.PollID,
		})
	}
	return refs, nil
}

func (s *MemStore) VotedOptions(_ context.Context, questionID int, sessionID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var voted []int
	for key := range s.votes {
		if key.SessionID != sessionID {
			continue
		}
		if o, ok := s.options[key.OptionID]; ok && o.QuestionID == questionID {
			voted = append(voted, key.OptionID)
		}
	}
	return voted, nil
}

func (s *MemStore) InsertVote(_ context.Context, optionID int, sessionID, ipAddress string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInserts {
		return false, &poll.StorageError{Op: "insert vote", Err: errors.New("boom")}
	}
	key := voteKey{OptionID: optionID, SessionID: sessionID}
	if _, ok := s.votes[key]; ok {
		return false, nil
	}
	s.votes[key] = poll.Vote{
		ID:        s.nextID(),
		OptionID:  optionID,
		SessionID: sessionID,
		IPAddress: ipAddress,
		CreatedAt: time.Now(),
	}
	return true, nil
}

func (s *MemStore) PollQuestions(_ context.Context, pollID int) ([]poll.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var questions []poll.Question
	for _, q := range s.questions {
		if q.PollID != pollID {
			continue
		}
		question := *q
		for _, o := range s.options {
			if o.QuestionID == q.ID {
				question.Options = append(question.Options, *o)
			}
		}
		sort.Slice(question.Options, func(i, j int) bool {
			a, b := question.Options[i], question.Options[j]
			if a.OrderIndex != b.OrderIndex {
				return a.OrderIndex < b.OrderIndex
			}
			return a.ID < b.ID
		})
		questions = append(questions, question)
	}
	sort.Slice(questions, func(i, j int) bool {
		a, b := questions[i], questions[j]
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		return a.ID < b.ID
	})
	return questions, nil
}

func (s *MemStore) VoteCounts(_ context.Context, pollID int) (map[int]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[int]int64{}
	for key := range s.votes {
		o, ok := s.options[key.OptionID]
		if !ok {
			continue
		}
		q, ok := s.questions[o.QuestionID]
		if !ok || q.PollID != pollID {
			continue
		}
		counts[key.OptionID]++
	}
	return counts, nil
}

func (s *MemStore) SessionVotes(_ context.Context, pollID int, sessionID string) ([]poll.SessionVote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []poll.SessionVote
	for key := range s.votes {
		if key.SessionID != sessionID {
			continue
		}
		o, ok := s.options[key.OptionID]
		if !ok {
			continue
		}
		q, ok := s.questions[o.QuestionID]
		if !ok || q.PollID != pollID {
			continue
		}
		out = append(out, poll.SessionVote{OptionID: o.ID, QuestionID: q.ID})
	}
	return out, nil
}

func (s *MemStore) Poll(_ context.Context, pollID int) (poll.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok {
		return poll.Poll{}, poll.ErrNotFound
	}
	return *p, nil
}

func (s *MemStore) ActivePolls(_ context.Context) ([]poll.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []poll.Poll
	for _, p := range s.polls {
		if p.Active {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemStore) CreatePoll(_ context.Context, np poll.NewPoll) (int, error) {
	s.mu.Lock()
	id := s.nextID()
	now := time.Now()
	s.polls[id] = &poll.Poll{
		ID:          id,
		Title:       np.Title,
		Description: np.Description,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.mu.Unlock()

	for _, q := range np.Questions {
		qType := q.Type
		if qType == "" {
			qType = poll.QuestionSingle
		}
		questionID := s.AddQuestion(id, q.Text, qType)
		for _, text := range q.Options {
			s.AddOption(questionID, text)
		}
	}
	return id, nil
}

func (s *MemStore) UpdatePoll(_ context.Context, pollID int, title, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok {
		return poll.ErrNotFound
	}
	p.Title = title
	p.Description = description
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) SetPollActive(_ context.Context, pollID int, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok {
		return poll.ErrNotFound
	}
	p.Active = active
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) ClosePoll(_ context.Context, pollID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok {
		return false, poll.ErrNotFound
	}
	if p.Closed {
		return false, nil
	}
	now := time.Now()
	p.Closed = true
	p.ClosedAt = &now
	p.UpdatedAt = now
	return true, nil
}

var _ poll.Store = (*MemStore)(nil)

// String helps debugging failed assertions.
func (s *MemStore) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("memstore{polls=%d questions=%d options=%d votes=%d}",
		len(s.polls), len(s.questions), len(s.options), len(s.votes))
}
