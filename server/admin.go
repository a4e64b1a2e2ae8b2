package server

import (
	"crypto/subtle"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pulsevote/api.pulsevote.dev/broker"
	"github.com/pulsevote/api.pulsevote.dev/poll"
)

// Administration is a thin CRUD surface over the store. Participants never
// touch it; a shared password in the request body is the whole guard, as in
// the rest of the deployment this service replaces.

type adminAuth struct {
	Password string `json:"password"`
}

type createPollRequest struct {
	adminAuth
	poll.NewPoll
}

type updatePollRequest struct {
	adminAuth
	Title       string `json:"title"`
	Description string `json:"description"`
}

type pollStatusRequest struct {
	adminAuth
	Active bool `json:"active"`
}

func (r *routes) registerAdmin(api fiber.Router) {
	admin := api.Group("/admin")

	admin.Post("/polls", r.createPoll)
	admin.Put("/polls/:id", r.updatePoll)
	admin.Put("/polls/:id/status", r.setPollStatus)
	admin.Put("/polls/:id/close", r.closePoll)
}

func (r *routes) authorized(c *fiber.Ctx, password string) bool {
	if r.deps.AdminPassword == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(r.deps.AdminPassword)) == 1
}

func (r *routes) createPoll(c *fiber.Ctx) error {
	req := &createPollRequest{}
	if err := c.BodyParser(req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if !r.authorized(c, req.Password) {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}

	if req.Title == "" || len(req.Questions) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Title and questions are required"})
	}

	pollID, err := r.deps.Store.CreatePoll(c.Context(), req.NewPoll)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"pollId":  pollID,
	})
}

func (r *routes) updatePoll(c *fiber.Ctx) error {
	pollID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Poll not found"})
	}

	req := &updatePollRequest{}
	if err := c.BodyParser(req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if !r.authorized(c, req.Password) {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}

	err = r.deps.Store.UpdatePoll(c.Context(), pollID, req.Title, req.Description)
	if errors.Is(err, poll.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "Poll not found"})
	}
	if err != nil {
		return err
	}

	if r.deps.Cache != nil {
		r.deps.Cache.InvalidatePoll(c.Context(), pollID)
	}

	return c.JSON(fiber.Map{"success": true})
}

func (r *routes) setPollStatus(c *fiber.Ctx) error {
	pollID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Poll not found"})
	}

	req := &pollStatusRequest{}
	if err := c.BodyParser(req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if !r.authorized(c, req.Password) {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}

	err = r.deps.Store.SetPollActive(c.Context(), pollID, req.Active)
	if errors.Is(err, poll.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "Poll not found"})
	}
	if err != nil {
		return err
	}

	if r.deps.Cache != nil {
		r.deps.Cache.InvalidatePoll(c.Context(), pollID)
	}

	return c.JSON(fiber.Map{"success": true})
}

func (r *routes) closePoll(c *fiber.Ctx) error {
	pollID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Poll not found"})
	}

	req := &adminAuth{}
	if err := c.BodyParser(req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if !r.authorized(c, req.Password) {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}

	transitioned, err := r.deps.Store.ClosePoll(c.Context(), pollID)
	if errors.Is(err, poll.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "Poll not found"})
	}
	if err != nil {
		return err
	}

	// The closed transition happens once; only that request broadcasts.
	if transitioned {
		if r.deps.Cache != nil {
			r.deps.Cache.InvalidatePoll(c.Context(), pollID)
		}
		r.deps.Broker.Publish(pollID, broker.Message{
			Event:   broker.EventPollClosed,
			Payload: map[string]int{"pollId": pollID},
		})
	}

	return c.JSON(fiber.Map{"success": true})
}
