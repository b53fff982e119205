package tracking

import (
	"errors"

	"backend-fittrack/internal/tracker"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/sessions", authMiddleware, func(c *fiber.Ctx) error {
		var req StartRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		session, err := svc.StartSession(c.UserContext(), userID(c), req)
		if err != nil {
			return trackingError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(session)
	})

	r.Post("/sessions/:id/points", authMiddleware, func(c *fiber.Ctx) error {
		var fix tracker.Fix
		if err := c.BodyParser(&fix); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		result, err := svc.AddPoint(c.UserContext(), userID(c), c.Params("id"), fix)
		if err != nil {
			return trackingError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	r.Post("/sessions/:id/stop", authMiddleware, func(c *fiber.Ctx) error {
		summary, err := svc.StopSession(c.UserContext(), userID(c), c.Params("id"))
		if err != nil {
			return trackingError(err)
		}
		return c.JSON(summary)
	})

	r.Get("/sessions/:id/summary", authMiddleware, func(c *fiber.Ctx) error {
		summary, err := svc.Summary(c.UserContext(), userID(c), c.Params("id"))
		if err != nil {
			return trackingError(err)
		}
		return c.JSON(summary)
	})

	r.Get("/sessions/:id/points", authMiddleware, func(c *fiber.Ctx) error {
		points, err := svc.Points(c.UserContext(), userID(c), c.Params("id"))
		if err != nil {
			return trackingError(err)
		}
		return c.JSON(points)
	})
}

// RequireOwner rejects requests whose :param session is unknown or owned by
// another user. It runs after the auth middleware.
func RequireOwner(svc *Service, param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.Authorize(c.UserContext(), userID(c), c.Params(param)); err != nil {
			return trackingError(err)
		}
		return c.Next()
	}
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func trackingError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownActivity), errors.Is(err, ErrInvalidWeight), errors.Is(err, tracker.ErrInvalidFix):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionNotActive):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
