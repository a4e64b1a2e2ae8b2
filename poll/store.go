package poll

import "context"

// Store is the durable source of truth for polls, questions, options and
// votes. It is the only component allowed to enforce the (option, session)
// uniqueness invariant; InsertVote must be atomic, not check-then-insert.
type Store interface {
	// PollClosed reports whether voting on the poll is permanently
	// disallowed. ErrNotFound if the poll does not exist.
	PollClosed(ctx context.Context, pollID int) (bool, error)

	// ResolveOptions maps each selected option to its owning question and
	// poll. ErrNotFound if any id does not exist.
	ResolveOptions(ctx context.Context, optionIDs []int) ([]OptionRef, error)

	// VotedOptions lists the question's options the session has recorded
	// votes on. Empty when the session has not voted on the question.
	VotedOptions(ctx context.Context, questionID int, sessionID string) ([]int, error)

	// InsertVote records a vote if the (option, session) pair is absent.
	// Returns false with a nil error when the pair already exists.
	InsertVote(ctx context.Context, optionID int, sessionID, ipAddress string) (bool, error)

	// PollQuestions returns the poll's questions with their options, both
	// ordered by stored ordinal position.
	PollQuestions(ctx context.Context, pollID int) ([]Question, error)

	// VoteCounts returns the number of recorded votes per option for the
	// poll. Options without votes may be absent from the map.
	VoteCounts(ctx context.Context, pollID int) (map[int]int64, error)

	// SessionVotes lists the session's recorded votes within the poll.
	SessionVotes(ctx context.Context, pollID int, sessionID string) ([]SessionVote, error)

	Poll(ctx context.Context, pollID int) (Poll, error)
	ActivePolls(ctx context.Context) ([]Poll, error)

	CreatePoll(ctx context.Context, p NewPoll) (int, error)
	UpdatePoll(ctx context.Context, pollID int, title, description string) error
	SetPollActive(ctx context.Context, pollID int, active bool) error

	// ClosePoll transitions the poll to closed. Returns true only for the
	// call that performed the transition; closing an already-closed poll is
	// a no-op reported as false.
	ClosePoll(ctx context.Context, pollID int) (bool, error)
}

// Cache is an optional read-through cache in front of the Store. Failures
// are absorbed by implementations; a miss is never an error.
type Cache interface {
	GetResults(ctx context.Context, pollID int) ([]QuestionTally, bool)
	SetResults(ctx context.Context, pollID int, tallies []QuestionTally)
	InvalidateResults(ctx context.Context, pollID int)
	InvalidatePoll(ctx context.Context, pollID int)
}
