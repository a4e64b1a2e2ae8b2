package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pulsevote/api.pulsevote.dev/poll"
)

func (s *Store) PollClosed(ctx context.Context, pollID int) (bool, error) {
	var p poll.Poll
	err := s.db.Collection("polls").FindOne(ctx, bson.M{"_id": pollID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, poll.ErrNotFound
	}
	if err != nil {
		return false, &poll.StorageError{Op: "poll closed", Err: err}
	}
	return p.Closed, nil
}

func (s *Store) ResolveOptions(ctx context.Context, optionIDs []int) ([]poll.OptionRef, error) {
	cur, err := s.db.Collection("options").Find(ctx, bson.M{"_id": bson.M{"$in": optionIDs}})
	if err != nil {
		return nil, &poll.StorageError{Op: "find options", Err: err}
	}

	var opts []poll.Option
	if err = cur.All(ctx, &opts); err != nil {
		return nil, &poll.StorageError{Op: "decode options", Err: err}
	}

	byID := make(map[int]poll.Option, len(opts))
	questionIDs := make([]int, 0, len(opts))
	for _, o := range opts {
		byID[o.ID] = o
		questionIDs = append(questionIDs, o.QuestionID)
	}

	cur, err = s.db.Collection("questions").Find(ctx, bson.M{"_id": bson.M{"$in": questionIDs}})
	if err != nil {
		return nil, &poll.StorageError{Op: "find questions", Err: err}
	}

	var questions []poll.Question
	if err = cur.All(ctx, &questions); err != nil {
		return nil, &poll.StorageError{Op: "decode questions", Err: err}
	}

	questionByID := make(map[int]poll.Question, len(questions))
	for _, q := range questions {
		questionByID[q.ID] = q
	}

	// Preserve submission order; reject unknown ids.
	refs := make([]poll.OptionRef, 0, len(optionIDs))
	for _, id := range optionIDs {
		o, ok := byID[id]
		if !ok {
			return nil, poll.ErrNotFound
		}
		q, ok := questionByID[o.QuestionID]
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

func (s *Store) VotedOptions(ctx context.Context, questionID int, sessionID string) ([]int, error) {
	ids, err := s.questionOptionIDs(ctx, questionID)
	if err != nil {
		return nil, err
	}

	cur, err := s.db.Collection("votes").Find(ctx, bson.M{
		"option_id":  bson.M{"$in": ids},
		"session_id": sessionID,
	})
	if err != nil {
		return nil, &poll.StorageError{Op: "find votes", Err: err}
	}

	var votes []poll.Vote
	if err = cur.All(ctx, &votes); err != nil {
		return nil, &poll.StorageError{Op: "decode votes", Err: err}
	}

	voted := make([]int, 0, len(votes))
	for _, v := range votes {
		voted = append(voted, v.OptionID)
	}
	return voted, nil
}

func (s *Store) InsertVote(ctx context.Context, optionID int, sessionID, ipAddress string) (bool, error) {
	id, err := s.nextID(ctx, "votes")
	if err != nil {
		return false, err
	}

	_, err = s.db.Collection("votes").InsertOne(ctx, poll.Vote{
		ID:        id,
		OptionID:  optionID,
		SessionID: sessionID,
		IPAddress: ipAddress,
		CreatedAt: time.Now(),
	})
	if mongo.IsDuplicateKeyError(err) {
		// The unique (option_id, session_id) index fired: the vote already
		// exists, which is a success from the caller's point of view.
		return false, nil
	}
	if err != nil {
		return false, &poll.StorageError{Op: "insert vote", Err: err}
	}
	return true, nil
}

func (s *Store) PollQuestions(ctx context.Context, pollID int) ([]poll.Question, error) {
	cur, err := s.db.Collection("questions").Find(ctx,
		bson.M{"poll_id": pollID},
		options.Find().SetSort(bson.D{{Key: "order_index", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, &poll.StorageError{Op: "find questions", Err: err}
	}

	var questions []poll.Question
	if err = cur.All(ctx, &questions); err != nil {
		return nil, &poll.StorageError{Op: "decode questions", Err: err}
	}

	for i := range questions {
		cur, err = s.db.Collection("options").Find(ctx,
			bson.M{"question_id": questions[i].ID},
			options.Find().SetSort(bson.D{{Key: "order_index", Value: 1}, {Key: "_id", Value: 1}}),
		)
		if err != nil {
			return nil, &poll.StorageError{Op: "find options", Err: err}
		}
		if err = cur.All(ctx, &questions[i].Options); err != nil {
			return nil, &poll.StorageError{Op: "decode options", Err: err}
		}
	}

	return questions, nil
}

func (s *Store) VoteCounts(ctx context.Context, pollID int) (map[int]int64, error) {
	ids, _, err := s.pollOptionIDs(ctx, pollID)
	if err != nil {
		return nil, err
	}

	cur, err := s.db.Collection("votes").Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"option_id": bson.M{"$in": ids}}}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":   "$option_id",
			"count": bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return nil, &poll.StorageError{Op: "aggregate votes", Err: err}
	}

	var rows []struct {
		OptionID int   `bson:"_id"`
		Count    int64 `bson:"count"`
	}
	if err = cur.All(ctx, &rows); err != nil {
		return nil, &poll.StorageError{Op: "decode vote counts", Err: err}
	}

	counts := make(map[int]int64, len(rows))
	for _, r := range rows {
		counts[r.OptionID] = r.Count
	}
	return counts, nil
}

func (s *Store) SessionVotes(ctx context.Context, pollID int, sessionID string) ([]poll.SessionVote, error) {
	ids, optionQuestion, err := s.pollOptionIDs(ctx, pollID)
	if err != nil {
		return nil, err
	}

	cur, err := s.db.Collection("votes").Find(ctx, bson.M{
		"option_id":  bson.M{"$in": ids},
		"session_id": sessionID,
	})
	if err != nil {
		return nil, &poll.StorageError{Op: "find votes", Err: err}
	}

	var votes []poll.Vote
	if err = cur.All(ctx, &votes); err != nil {
		return nil, &poll.StorageError{Op: "decode votes", Err: err}
	}

	out := make([]poll.SessionVote, 0, len(votes))
	for _, v := range votes {
		out = append(out, poll.SessionVote{
			OptionID:   v.OptionID,
			QuestionID: optionQuestion[v.OptionID],
		})
	}
	return out, nil
}

func (s *Store) Poll(ctx context.Context, pollID int) (poll.Poll, error) {
	var p poll.Poll
	err := s.db.Collection("polls").FindOne(ctx, bson.M{"_id": pollID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return poll.Poll{}, poll.ErrNotFound
	}
	if err != nil {
		return poll.Poll{}, &poll.StorageError{Op: "find poll", Err: err}
	}
	return p, nil
}

func (s *Store) ActivePolls(ctx context.Context) ([]poll.Poll, error) {
	cur, err := s.db.Collection("polls").Find(ctx,
		bson.M{"active": true},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, &poll.StorageError{Op: "find polls", Err: err}
	}

	var polls []poll.Poll
	if err = cur.All(ctx, &polls); err != nil {
		return nil, &poll.StorageError{Op: "decode polls", Err: err}
	}
	return polls, nil
}

func (s *Store) CreatePoll(ctx context.Context, np poll.NewPoll) (int, error) {
	now := time.Now()

	pollID, err := s.nextID(ctx, "polls")
	if err != nil {
		return 0, err
	}

	_, err = s.db.Collection("polls").InsertOne(ctx, poll.Poll{
		ID:          pollID,
		Title:       np.Title,
		Description: np.Description,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return 0, &poll.StorageError{Op: "insert poll", Err: err}
	}

	for i, q := range np.Questions {
		questionID, err := s.nextID(ctx, "questions")
		if err != nil {
			return 0, err
		}

		qType := q.Type
		if qType == "" {
			qType = poll.QuestionSingle
		}

		_, err = s.db.Collection("questions").InsertOne(ctx, poll.Question{
			ID:         questionID,
			PollID:     pollID,
			Text:       q.Text,
			Type:       qType,
			OrderIndex: i,
		})
		if err != nil {
			return 0, &poll.StorageError{Op: "insert question", Err: err}
		}

		for j, text := range q.Options {
			optionID, err := s.nextID(ctx, "options")
			if err != nil {
				return 0, err
			}

			_, err = s.db.Collection("options").InsertOne(ctx, poll.Option{
				ID:         optionID,
				QuestionID: questionID,
				Text:       text,
				OrderIndex: j,
			})
			if err != nil {
				return 0, &poll.StorageError{Op: "insert option", Err: err}
			}
		}
	}

	return pollID, nil
}

func (s *Store) UpdatePoll(ctx context.Context, pollID int, title, description string) error {
	res, err := s.db.Collection("polls").UpdateOne(ctx,
		bson.M{"_id": pollID},
		bson.M{"$set": bson.M{
			"title":       title,
			"description": description,
			"updated_at":  time.Now(),
		}},
	)
	if err != nil {
		return &poll.StorageError{Op: "update poll", Err: err}
	}
	if res.MatchedCount == 0 {
		return poll.ErrNotFound
	}
	return nil
}

func (s *Store) SetPollActive(ctx context.Context, pollID int, active bool) error {
	res, err := s.db.Collection("polls").UpdateOne(ctx,
		bson.M{"_id": pollID},
		bson.M{"$set": bson.M{"active": active, "updated_at": time.Now()}},
	)
	if err != nil {
		return &poll.StorageError{Op: "set poll active", Err: err}
	}
	if res.MatchedCount == 0 {
		return poll.ErrNotFound
	}
	return nil
}

func (s *Store) ClosePoll(ctx context.Context, pollID int) (bool, error) {
	now := time.Now()
	// Matching on closed:false makes the false->true transition happen at
	// most once, no matter how many close requests race.
	res, err := s.db.Collection("polls").UpdateOne(ctx,
		bson.M{"_id": pollID, "closed": false},
		bson.M{"$set": bson.M{"closed": true, "closed_at": now, "updated_at": now}},
	)
	if err != nil {
		return false, &poll.StorageError{Op: "close poll", Err: err}
	}
	if res.ModifiedCount > 0 {
		return true, nil
	}

	n, err := s.db.Collection("polls").CountDocuments(ctx, bson.M{"_id": pollID}, options.Count().SetLimit(1))
	if err != nil {
		return false, &poll.StorageError{Op: "close poll", Err: err}
	}
	if n == 0 {
		return false, poll.ErrNotFound
	}
	return false, nil
}

// questionOptionIDs lists the option ids belonging to one question.
func (s *Store) questionOptionIDs(ctx context.Context, questionID int) ([]int, error) {
	cur, err := s.db.Collection("options").Find(ctx, bson.M{"question_id": questionID})
	if err != nil {
		return nil, &poll.StorageError{Op: "find options", Err: err}
	}

	var opts []poll.Option
	if err = cur.All(ctx, &opts); err != nil {
		return nil, &poll.StorageError{Op: "decode options", Err: err}
	}

	ids := make([]int, 0, len(opts))
	for _, o := range opts {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

// pollOptionIDs lists every option id in the poll and maps each option back
// to its question.
func (s *Store) pollOptionIDs(ctx context.Context, pollID int) ([]int, map[int]int, error) {
	cur, err := s.db.Collection("questions").Find(ctx, bson.M{"poll_id": pollID})
	if err != nil {
		return nil, nil, &poll.StorageError{Op: "find questions", Err: err}
	}

	var questions []poll.Question
	if err = cur.All(ctx, &questions); err != nil {
		return nil, nil, &poll.StorageError{Op: "decode questions", Err: err}
	}

	questionIDs := make([]int, 0, len(questions))
	for _, q := range questions {
		questionIDs = append(questionIDs, q.ID)
	}

	cur, err = s.db.Collection("options").Find(ctx, bson.M{"question_id": bson.M{"$in": questionIDs}})
	if err != nil {
		return nil, nil, &poll.StorageError{Op: "find options", Err: err}
	}

	var opts []poll.Option
	if err = cur.All(ctx, &opts); err != nil {
		return nil, nil, &poll.StorageError{Op: "decode options", Err: err}
	}

	ids := make([]int, 0, len(opts))
	optionQuestion := make(map[int]int, len(opts))
	for _, o := range opts {
		ids = append(ids, o.ID)
		optionQuestion[o.ID] = o.QuestionID
	}
	return ids, optionQuestion, nil
}
