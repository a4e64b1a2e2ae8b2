package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"github.com/pulsevote/api.pulsevote.dev/poll"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	pollTTL    = time.Hour * 6
	resultsTTL = time.Minute * 5

	// deadMarker negative-caches lookups for polls that do not exist.
	deadMarker = "dead"
)

// Cache keeps hot poll documents and computed tallies in redis. Every miss
// or redis failure falls back to the store; cache errors are logged, never
// surfaced.
type Cache struct {
	client *redis.Client
}

func New(uri string) (*Cache, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err = client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &Cache{client: client}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func pollKey(pollID int) string    { return fmt.Sprintf("cached:polls:%d", pollID) }
func resultsKey(pollID int) string { return fmt.Sprintf("cached:results:%d", pollID) }

// GetPoll returns the cached poll document. The second return reports a
// cache hit; the third reports a cached negative lookup.
func (c *Cache) GetPoll(ctx context.Context, pollID int) (poll.Poll, bool, bool) {
	val, err := c.client.Get(ctx, pollKey(pollID)).Result()
	if err == redis.Nil {
		return poll.Poll{}, false, false
	}
	if err != nil {
		log.Errorf("redis, err=%v", err)
		return poll.Poll{}, false, false
	}

	if val == deadMarker {
		return poll.Poll{}, true, true
	}

	var p poll.Poll
	if err = json.UnmarshalFromString(val, &p); err != nil {
		log.Errorf("json, err=%v", err)
		return poll.Poll{}, false, false
	}
	return p, true, false
}

func (c *Cache) SetPoll(ctx context.Context, p poll.Poll) {
	val, err := json.MarshalToString(p)
	if err != nil {
		log.Errorf("json, err=%v", err)
		return
	}
	if err = c.client.Set(ctx, pollKey(p.ID), val, pollTTL).Err(); err != nil {
		log.Errorf("redis, err=%v", err)
	}
}

// SetPollDead remembers that the poll id resolved to nothing.
func (c *Cache) SetPollDead(ctx context.Context, pollID int) {
	if err := c.client.Set(ctx, pollKey(pollID), deadMarker, pollTTL).Err(); err != nil {
		log.Errorf("redis, err=%v", err)
	}
}

func (c *Cache) InvalidatePoll(ctx context.Context, pollID int) {
	if err := c.client.Del(ctx, pollKey(pollID)).Err(); err != nil {
		log.Errorf("redis, err=%v", err)
	}
}

func (c *Cache) GetResults(ctx context.Context, pollID int) ([]poll.QuestionTally, bool) {
	val, err := c.client.Get(ctx, resultsKey(pollID)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Errorf("redis, err=%v", err)
		return nil, false
	}

	var tallies []poll.QuestionTally
	if err = json.UnmarshalFromString(val, &tallies); err != nil {
		log.Errorf("json, err=%v", err)
		return nil, false
	}
	return tallies, true
}

func (c *Cache) SetResults(ctx context.Context, pollID int, tallies []poll.QuestionTally) {
	val, err := json.MarshalToString(tallies)
	if err != nil {
		log.Errorf("json, err=%v", err)
		return
	}
	if err = c.client.Set(ctx, resultsKey(pollID), val, resultsTTL).Err(); err != nil {
		log.Errorf("redis, err=%v", err)
	}
}

func (c *Cache) InvalidateResults(ctx context.Context, pollID int) {
	if err := c.client.Del(ctx, resultsKey(pollID)).Err(); err != nil {
		log.Errorf("redis, err=%v", err)
	}
}
