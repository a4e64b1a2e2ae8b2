package broker

import (
	"errors"
	"sync"
	"testing"
)

type fakeObserver struct {
	mtx      sync.Mutex
	received []Message
	fail     bool
}

func (f *fakeObserver) Send(msg Message) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.fail {
		return errors.New("gone")
	}
	f.received = append(f.received, msg)
	return nil
}

func (f *fakeObserver) messages() []Message {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	out := make([]Message, len(f.received))
	copy(out, f.received)
	return out
}

func TestPublishReachesOnlySubscribers(t *testing.T) {
	b := New()
	watcherA := &fakeObserver{}
	watcherB := &fakeObserver{}

	b.Subscribe(1, watcherA)
	b.Subscribe(2, watcherB)

	b.Publish(1, Message{Event: EventVoteUpdate})

	if got := len(watcherA.messages()); got != 1 {
		t.Errorf("poll 1 watcher got %d messages, want 1", got)
	}
	if got := len(watcherB.messages()); got != 0 {
		t.Errorf("poll 2 watcher got %d messages, want 0", got)
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	b := New()
	obs := &fakeObserver{}

	b.Subscribe(1, obs)
	b.Subscribe(1, obs)

	b.Publish(1, Message{Event: EventVoteUpdate})

	if got := len(obs.messages()); got != 1 {
		t.Errorf("got %d deliveries, want 1", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	obs := &fakeObserver{}

	b.Subscribe(1, obs)
	b.Unsubscribe(1, obs)
	// Absent observer: no-op.
	b.Unsubscribe(1, obs)

	b.Publish(1, Message{Event: EventVoteUpdate})

	if got := len(obs.messages()); got != 0 {
		t.Errorf("got %d deliveries after unsubscribe, want 0", got)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	b := New()
	obs := &fakeObserver{}
	other := &fakeObserver{}

	b.Subscribe(1, obs)
	b.Subscribe(2, obs)
	b.Subscribe(2, other)

	b.UnsubscribeAll(obs)

	b.Publish(1, Message{Event: EventVoteUpdate})
	b.Publish(2, Message{Event: EventVoteUpdate})

	if got := len(obs.messages()); got != 0 {
		t.Errorf("disconnected observer got %d messages, want 0", got)
	}
	if got := len(other.messages()); got != 1 {
		t.Errorf("remaining observer got %d messages, want 1", got)
	}
	if got := b.Observers(1); got != 0 {
		t.Errorf("room 1 has %d observers, want 0", got)
	}
}

func TestPublishOrderPerObserver(t *testing.T) {
	b := New()
	obs := &fakeObserver{}
	b.Subscribe(1, obs)

	events := []string{EventVoteUpdate, EventResultsUpdate, EventPollClosed}
	for _, e := range events {
		b.Publish(1, Message{Event: e})
	}

	got := obs.messages()
	if len(got) != len(events) {
		t.Fatalf("got %d messages, want %d", len(got), len(events))
	}
	for i, e := range events {
		if got[i].Event != e {
			t.Errorf("message %d is %q, want %q", i, got[i].Event, e)
		}
	}
}

func TestFailedSendDoesNotStopFanout(t *testing.T) {
	b := New()
	dead := &fakeObserver{fail: true}
	alive := &fakeObserver{}

	b.Subscribe(1, dead)
	b.Subscribe(1, alive)

	b.Publish(1, Message{Event: EventResultsUpdate})

	if got := len(alive.messages()); got != 1 {
		t.Errorf("healthy observer got %d messages, want 1", got)
	}
}

func TestConcurrentSubscribePublish(t *testing.T) {
	b := New()

	var wg sync.WaitGroup
	observers := make([]*fakeObserver, 50)
	for i := range observers {
		observers[i] = &fakeObserver{}
		wg.Add(1)
		go func(obs *fakeObserver) {
			defer wg.Done()
			b.Subscribe(7, obs)
			b.Publish(7, Message{Event: EventVoteUpdate})
			b.UnsubscribeAll(obs)
		}(observers[i])
	}
	wg.Wait()

	if got := b.Observers(7); got != 0 {
		t.Errorf("room still has %d observers, want 0", got)
	}
}
