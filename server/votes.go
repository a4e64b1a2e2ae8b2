package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pulsevote/api.pulsevote.dev/poll"
)

type submitVoteRequest struct {
	OptionIDs []int  `json:"optionIds"`
	SessionID string `json:"sessionId"`
}

func (r *routes) registerVotes(api fiber.Router) {
	api.Post("/votes", r.submitVote)
	api.Get("/votes/check/:pollId/:sessionId", r.checkVotes)
}

func (r *routes) submitVote(c *fiber.Ctx) error {
	req := &submitVoteRequest{}
	if err := c.BodyParser(req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid option IDs",
		})
	}

	receipt, err := r.deps.Ingestor.Submit(c.Context(), req.OptionIDs, req.SessionID, c.IP())
	if err != nil {
		return voteError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"sessionId": receipt.SessionID,
		"message":   "Vote submitted successfully",
	})
}

func (r *routes) checkVotes(c *fiber.Ctx) error {
	pollID, err := c.ParamsInt("pollId")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid poll id",
		})
	}
	sessionID := c.Params("sessionId")

	votes, err := r.deps.Store.SessionVotes(c.Context(), pollID, sessionID)
	if err != nil {
		return voteError(c, err)
	}

	if votes == nil {
		votes = []poll.SessionVote{}
	}

	return c.JSON(fiber.Map{
		"hasVoted": len(votes) > 0,
		"votes":    votes,
	})
}

// voteError maps the core's error taxonomy onto the wire. Anything outside
// the taxonomy bubbles up to the fiber error handler as a 500.
func voteError(c *fiber.Ctx, err error) error {
	var alreadyVoted *poll.AlreadyVotedError

	switch {
	case errors.Is(err, poll.ErrEmptySelection):
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid option IDs",
		})
	case errors.Is(err, poll.ErrCrossPollSubmission):
		return c.Status(400).JSON(fiber.Map{
			"error": "Options must belong to a single poll",
		})
	case errors.Is(err, poll.ErrPollClosed):
		return c.Status(400).JSON(fiber.Map{
			"error": "Voting has been closed for this poll",
		})
	case errors.As(err, &alreadyVoted):
		return c.Status(400).JSON(fiber.Map{
			"error":      "Already voted for this question",
			"questionId": alreadyVoted.QuestionID,
		})
	case errors.Is(err, poll.ErrNotFound):
		return c.Status(404).JSON(fiber.Map{
			"error": "Poll not found",
		})
	}

	return err
}
