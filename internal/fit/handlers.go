package fit

import (
	"errors"

	"backend-fittrack/internal/auth"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/fetch-google-fit-data", authMiddleware, func(c *fiber.Ctx) error {
		if svc == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "google fit not configured")
		}
		who, _ := auth.CurrentUser(c)
		days, err := svc.Fetch(c.UserContext(), who.ID)
		if errors.Is(err, ErrNotLinked) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Google Fit account not linked",
			})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   "Error fetching Google Fit data",
			})
		}
		return c.JSON(fiber.Map{
			"success":     true,
			"user":        who,
			"fitnessData": days,
		})
	})
}
