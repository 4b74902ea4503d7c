package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterPlaceRoutes mounts the place endpoints on api. Non-POST verbs on
// the create path fall through to CreatePlace, which answers 405.
func RegisterPlaceRoutes(api fiber.Router, h *PlaceHandler, createRateLimit float64) {
	api.Post("/create", CreateRateLimiter(createRateLimit), h.CreatePlace)
	api.All("/create", h.CreatePlace)
	api.Get("/nearby", h.NearbyPlaces)
	api.Get("/stats", h.Stats)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
}
