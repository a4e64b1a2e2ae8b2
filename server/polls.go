package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pulsevote/api.pulsevote.dev/poll"
)

func (r *routes) registerPolls(api fiber.Router) {
	api.Get("/polls", r.listPolls)
	api.Get("/polls/:id", r.getPoll)
	api.Get("/polls/:id/results", r.getResults)
}

func (r *routes) listPolls(c *fiber.Ctx) error {
	polls, err := r.deps.Store.ActivePolls(c.Context())
	if err != nil {
		return err
	}

	if polls == nil {
		polls = []poll.Poll{}
	}
	return c.JSON(polls)
}

func (r *routes) getPoll(c *fiber.Ctx) error {
	pollID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Poll not found",
		})
	}

	p, err := r.fetchPoll(c.Context(), pollID)
	if errors.Is(err, poll.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{
			"error": "Poll not found",
		})
	}
	if err != nil {
		return err
	}

	questions, err := r.deps.Store.PollQuestions(c.Context(), pollID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"id":          p.ID,
		"title":       p.Title,
		"description": p.Description,
		"active":      p.Active,
		"closed":      p.Closed,
		"closed_at":   p.ClosedAt,
		"created_at":  p.CreatedAt,
		"updated_at":  p.UpdatedAt,
		"questions":   questions,
	})
}

func (r *routes) getResults(c *fiber.Ctx) error {
	pollID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Poll not found",
		})
	}

	tallies, err := r.results(c.Context(), pollID)
	if err != nil {
		return err
	}
	return c.JSON(tallies)
}

// fetchPoll reads through the poll cache, negative-caching misses.
func (r *routes) fetchPoll(ctx context.Context, pollID int) (poll.Poll, error) {
	if r.deps.Cache != nil {
		if p, hit, dead := r.deps.Cache.GetPoll(ctx, pollID); hit {
			if dead {
				return poll.Poll{}, poll.ErrNotFound
			}
			return p, nil
		}
	}

	p, err := r.deps.Store.Poll(ctx, pollID)
	if errors.Is(err, poll.ErrNotFound) {
		if r.deps.Cache != nil {
			r.deps.Cache.SetPollDead(ctx, pollID)
		}
		return poll.Poll{}, err
	}
	if err != nil {
		return poll.Poll{}, err
	}

	if r.deps.Cache != nil {
		r.deps.Cache.SetPoll(ctx, p)
	}
	return p, nil
}

// results reads through the tally cache; the ingestor invalidates it on
// every accepted vote.
func (r *routes) results(ctx context.Context, pollID int) ([]poll.QuestionTally, error) {
	if r.deps.Cache != nil {
		if tallies, ok := r.deps.Cache.GetResults(ctx, pollID); ok {
			return tallies, nil
		}
	}

	tallies, err := poll.Results(ctx, r.deps.Store, pollID)
	if err != nil {
		return nil, err
	}

	if r.deps.Cache != nil {
		r.deps.Cache.SetResults(ctx, pollID, tallies)
	}
	return tallies, nil
}
