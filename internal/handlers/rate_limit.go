package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// CreateRateLimiter rejects requests beyond perSecond with 429. A
// non-positive rate disables limiting.
func CreateRateLimiter(perSecond float64) fiber.Handler {
	if perSecond <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(c *fiber.Ctx) error {
		if !limiter.Allow() {
			return errorJSON(c, http.StatusTooManyRequests, "Too many requests")
		}
		return c.Next()
	}
}
