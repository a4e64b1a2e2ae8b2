package broker

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Event names pushed to observers.
const (
	EventVoteUpdate    = "voteUpdate"
	EventResultsUpdate = "resultsUpdate"
	EventPollClosed    = "pollClosed"
)

type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// Observer receives messages for polls it is subscribed to. Send must be
// safe for concurrent use; a returned error marks delivery to that observer
// as failed, which is logged and otherwise ignored.
type Observer interface {
	Send(msg Message) error
}

// Broker maps poll ids to the set of observers currently watching them and
// delivers messages to exactly that set. There is no persistence or replay:
// an observer only sees messages published while it is subscribed.
//
// One instance is created at service start and shared by the http server and
// the vote ingestor.
type Broker struct {
	mtx   sync.RWMutex
	rooms map[int]map[Observer]struct{}
}

func New() *Broker {
	return &Broker{
		rooms: map[int]map[Observer]struct{}{},
	}
}

// Subscribe adds the observer to the poll's room. Idempotent.
func (b *Broker) Subscribe(pollID int, obs Observer) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	room, ok := b.rooms[pollID]
	if !ok {
		room = map[Observer]struct{}{}
		b.rooms[pollID] = room
	}
	room[obs] = struct{}{}
}

// Unsubscribe removes the observer from the poll's room. Removing an absent
// observer is a no-op.
func (b *Broker) Unsubscribe(pollID int, obs Observer) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	room, ok := b.rooms[pollID]
	if !ok {
		return
	}
	delete(room, obs)
	if len(room) == 0 {
		delete(b.rooms, pollID)
	}
}

// UnsubscribeAll removes the observer from every room it belongs to. Called
// on observer disconnect so stale membership cannot accumulate.
func (b *Broker) UnsubscribeAll(obs Observer) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for pollID, room := range b.rooms {
		delete(room, obs)
		if len(room) == 0 {
			delete(b.rooms, pollID)
		}
	}
}

// Publish delivers msg to every observer currently subscribed to the poll.
// Delivery is synchronous, so a single observer sees messages in publish
// order. A failed send is logged and discarded; the next publish or an
// explicit pull resynchronizes the observer.
func (b *Broker) Publish(pollID int, msg Message) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	for obs := range b.rooms[pollID] {
		if err := obs.Send(msg); err != nil {
			log.Errorf("broker, event=%s poll=%d err=%v", msg.Event, pollID, err)
		}
	}
}

// Observers reports the current size of a poll's room.
func (b *Broker) Observers(pollID int) int {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	return len(b.rooms[pollID])
}
