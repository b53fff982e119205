// Package workout lists the activities a user can start.
package workout

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type Workout struct {
	Name string  `json:"name"`
	Slug string  `json:"slug"`
	MET  float64 `json:"met"`
}

// Catalog is ordered as presented to users. Only running is tracked live.
var Catalog = []Workout{
	{Name: "Running", Slug: "running", MET: 9.8},
	{Name: "Cycling", Slug: "cycling", MET: 7.5},
	{Name: "Cardio", Slug: "cardio", MET: 7.0},
	{Name: "Weightlifting", Slug: "weightlifting", MET: 3.5},
	{Name: "Yoga", Slug: "yoga", MET: 2.5},
}

func Lookup(slug string) (Workout, bool) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	for _, w := range Catalog {
		if w.Slug == slug {
			return w, true
		}
	}
	return Workout{}, false
}

func RegisterRoutes(r fiber.Router) {
	r.Get("/workouts", func(c *fiber.Ctx) error {
		return c.JSON(Catalog)
	})

	r.Get("/workouts/:slug", func(c *fiber.Ctx) error {
		w, ok := Lookup(c.Params("slug"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "workout not found")
		}
		return c.JSON(w)
	})
}
