package poll

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/pulsevote/api.pulsevote.dev/broker"
)

// Ingestor orchestrates a vote submission: lifecycle guard, validation,
// per-option atomic persistence, then tally recompute and broadcast. The
// broadcast is fire-and-forget relative to the caller's response.
type Ingestor struct {
	store  Store
	broker *broker.Broker
	cache  Cache
}

func NewIngestor(store Store, b *broker.Broker, cache Cache) *Ingestor {
	return &Ingestor{
		store:  store,
		broker: b,
		cache:  cache,
	}
}

// Receipt is what a successful submission returns to the caller. Inserted
// counts newly persisted rows; idempotent duplicates are successes that do
// not count.
type Receipt struct {
	SessionID string
	Inserted  int
}

// Submit records a batch of option selections for a session.
//
// All options must belong to one poll. The batch either passes validation in
// full or is rejected before any row is written. Past that point each option
// is persisted independently: a storage failure surfaces as an error to the
// caller, but rows already written stay written.
func (i *Ingestor) Submit(ctx context.Context, optionIDs []int, sessionID, remoteAddr string) (Receipt, error) {
	if len(optionIDs) == 0 {
		return Receipt{}, ErrEmptySelection
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	refs, err := i.store.ResolveOptions(ctx, optionIDs)
	if err != nil {
		return Receipt{}, err
	}

	pollID := refs[0].PollID
	for _, ref := range refs[1:] {
		if ref.PollID != pollID {
			return Receipt{}, ErrCrossPollSubmission
		}
	}

	closed, err := i.store.PollClosed(ctx, pollID)
	if err != nil {
		return Receipt{}, err
	}
	if closed {
		return Receipt{}, ErrPollClosed
	}

	if err := Validate(ctx, i.store, refs, sessionID); err != nil {
		return Receipt{}, err
	}

	inserted := 0
	for _, ref := range refs {
		ok, err := i.store.InsertVote(ctx, ref.OptionID, sessionID, remoteAddr)
		if err != nil {
			// Earlier options in the batch may already be durable; the
			// caller is told the submission failed either way.
			return Receipt{}, err
		}
		if ok {
			inserted++
		}
	}

	go i.notify(pollID)

	return Receipt{SessionID: sessionID, Inserted: inserted}, nil
}

// notify recomputes the poll's tally and fans it out to the poll's room.
// Runs detached from the submission; failures here never unwind the durable
// write.
func (i *Ingestor) notify(pollID int) {
	ctx := context.Background()

	if i.cache != nil {
		i.cache.InvalidateResults(ctx, pollID)
	}

	i.broker.Publish(pollID, broker.Message{
		Event:   broker.EventVoteUpdate,
		Payload: map[string]int{"pollId": pollID},
	})

	tallies, err := Results(ctx, i.store, pollID)
	if err != nil {
		log.Errorf("tally, poll=%d err=%v", pollID, err)
		return
	}

	if i.cache != nil {
		i.cache.SetResults(ctx, pollID, tallies)
	}

	i.broker.Publish(pollID, broker.Message{
		Event:   broker.EventResultsUpdate,
		Payload: tallies,
	})
}
