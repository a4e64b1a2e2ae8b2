package server

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"github.com/pulsevote/api.pulsevote.dev/broker"
	"github.com/pulsevote/api.pulsevote.dev/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const heartbeatInterval = 60 * time.Second

// clientFrame is what observers send: joinPoll, leavePoll or requestUpdate,
// always with the poll they mean.
type clientFrame struct {
	Event  string `json:"event"`
	PollID int    `json:"pollId"`
}

// wsObserver wraps a websocket connection as a broker observer. The write
// mutex covers broadcast frames and heartbeats, which come from different
// goroutines.
type wsObserver struct {
	conn *websocket.Conn
	mtx  sync.Mutex
}

func (o *wsObserver) Send(msg broker.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return o.write(data)
}

func (o *wsObserver) write(data []byte) error {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	return o.conn.WriteMessage(websocket.TextMessage, data)
}

func (r *routes) registerWebsocket(api fiber.Router) {
	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(426)
	})

	api.Get("/ws", websocket.New(r.handleObserver))
}

func (r *routes) handleObserver(c *websocket.Conn) {
	obs := &wsObserver{conn: c}
	defer r.deps.Broker.UnsubscribeAll(obs)

	closeChan := make(chan struct{})
	defer close(closeChan)

	go func() {
		for {
			select {
			case <-time.After(heartbeatInterval):
				if err := obs.write(utils.S2B("HEARTBEAT")); err != nil {
					return
				}
			case <-closeChan:
				return
			}
		}
	}()

	var (
		mt  int
		msg []byte
		err error
	)
	for {
		if mt, msg, err = c.ReadMessage(); err != nil {
			break
		}

		if mt != websocket.TextMessage {
			continue
		}

		frame := &clientFrame{}
		if err = json.Unmarshal(msg, frame); err != nil {
			if err = obs.Send(broker.Message{Event: "error", Payload: "invalid request"}); err != nil {
				break
			}
			continue
		}

		switch frame.Event {
		case "joinPoll":
			r.deps.Broker.Subscribe(frame.PollID, obs)
		case "leavePoll":
			r.deps.Broker.Unsubscribe(frame.PollID, obs)
		case "requestUpdate":
			// Explicit pull: recompute and fan the tally out to the whole
			// room, the same shape a vote-triggered push has.
			tallies, err := r.results(context.Background(), frame.PollID)
			if err != nil {
				log.Errorf("results, poll=%d err=%v", frame.PollID, err)
				continue
			}
			r.deps.Broker.Publish(frame.PollID, broker.Message{
				Event:   broker.EventResultsUpdate,
				Payload: tallies,
			})
		}
	}
}
