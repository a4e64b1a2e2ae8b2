package poll

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that a referenced poll or option does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmptySelection reports a submission with no option ids.
	ErrEmptySelection = errors.New("invalid option ids")
	// ErrPollClosed reports a submission against a closed poll.
	ErrPollClosed = errors.New("voting has been closed for this poll")
	// ErrCrossPollSubmission reports a batch whose options belong to more
	// than one poll.
	ErrCrossPollSubmission = errors.New("options belong to multiple polls")
)

// AlreadyVotedError reports a second vote on a single-choice question the
// session has already answered. Carries the question so callers can tell the
// user which one conflicted.
type AlreadyVotedError struct {
	QuestionID int
}

func (e *AlreadyVotedError) Error() string {
	return fmt.Sprintf("already voted for question %d", e.QuestionID)
}

// StorageError wraps an unexpected persistence failure. It is never produced
// for duplicate-vote inserts, which are idempotent no-ops.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
