package poll

import "context"

// Validate decides whether a batch of selections from a session is
// permissible. The batch is all-or-nothing: a conflict on any touched
// single-choice question rejects the whole submission before anything is
// written.
//
// For a single-choice question the session gets one option, ever. A batch
// naming two distinct options of the same single-choice question is a
// conflict, and so is an option different from the one the session already
// voted for. Resubmitting the very same option is not a conflict; the
// store's unique index absorbs the duplicate later.
func Validate(ctx context.Context, store Store, refs []OptionRef, sessionID string) error {
	if len(refs) == 0 {
		return ErrEmptySelection
	}

	selected := make(map[int]map[int]struct{})
	for _, ref := range refs {
		if ref.QuestionType != QuestionSingle {
			continue
		}
		opts, ok := selected[ref.QuestionID]
		if !ok {
			opts = map[int]struct{}{}
			selected[ref.QuestionID] = opts
		}
		opts[ref.OptionID] = struct{}{}
		if len(opts) > 1 {
			return &AlreadyVotedError{QuestionID: ref.QuestionID}
		}
	}

	for questionID, opts := range selected {
		voted, err := store.VotedOptions(ctx, questionID, sessionID)
		if err != nil {
			return err
		}
		for _, optionID := range voted {
			if _, ok := opts[optionID]; !ok {
				return &AlreadyVotedError{QuestionID: questionID}
			}
		}
	}

	return nil
}
