package poll

import (
	"context"
	"math"
)

type OptionTally struct {
	OptionID   int    `json:"option_id"`
	Text       string `json:"option_text"`
	Count      int64  `json:"vote_count"`
	Percentage int    `json:"percentage"`
}

type QuestionTally struct {
	QuestionID int           `json:"question_id"`
	Text       string        `json:"question_text"`
	Type       QuestionType  `json:"question_type"`
	Options    []OptionTally `json:"options"`
	TotalVotes int64         `json:"total_votes"`
}

// Results recomputes the per-question tally for a poll from stored votes.
// Zero-vote options are included. Percentages are rounded independently per
// option and are not adjusted to sum to 100; that drift is accepted output,
// not a bug. Pure read, safe to call repeatedly.
func Results(ctx context.Context, store Store, pollID int) ([]QuestionTally, error) {
	questions, err := store.PollQuestions(ctx, pollID)
	if err != nil {
		return nil, err
	}

	counts, err := store.VoteCounts(ctx, pollID)
	if err != nil {
		return nil, err
	}

	tallies := make([]QuestionTally, 0, len(questions))
	for _, q := range questions {
		qt := QuestionTally{
			QuestionID: q.ID,
			Text:       q.Text,
			Type:       q.Type,
			Options:    make([]OptionTally, 0, len(q.Options)),
		}

		for _, o := range q.Options {
			qt.TotalVotes += counts[o.ID]
		}

		for _, o := range q.Options {
			ot := OptionTally{
				OptionID: o.ID,
				Text:     o.Text,
				Count:    counts[o.ID],
			}
			if qt.TotalVotes > 0 {
				ot.Percentage = int(math.Round(float64(ot.Count) / float64(qt.TotalVotes) * 100))
			}
			qt.Options = append(qt.Options, ot)
		}

		tallies = append(tallies, qt)
	}

	return tallies, nil
}
