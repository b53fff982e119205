package profile

import (
	"errors"

	"backend-fittrack/internal/validation"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/profile", authMiddleware, func(c *fiber.Ctx) error {
		if svc == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "profile storage not configured")
		}
		p, err := svc.Get(c.UserContext(), userID(c))
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(p)
	})

	r.Put("/profile", authMiddleware, func(c *fiber.Ctx) error {
		if svc == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "profile storage not configured")
		}
		var req UpdateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		p, err := svc.Update(c.UserContext(), userID(c), req)
		if err != nil {
			var invalid validation.Errors
			if errors.As(err, &invalid) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": invalid})
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(p)
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
