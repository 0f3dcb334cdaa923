package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/semaphore"
)

// Limit lets at most max requests through at once. A request that cannot
// get a slot within wait is rejected with 503.
func Limit(max int64, wait time.Duration) fiber.Handler {
	sem := semaphore.NewWeighted(max)
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), wait)
		defer cancel()

		if err := sem.Acquire(ctx, 1); err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "too many concurrent requests")
		}
		defer sem.Release(1)
		return c.Next()
	}
}

// Timeout gives every request a context that expires after d. Handlers
// reach it through c.UserContext().
func Timeout(d time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), d)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// Logger writes one line per request. Errors are rendered here so the
// logged status is the one sent to the client.
func Logger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		if chainErr := c.Next(); chainErr != nil {
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		logger.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"took", time.Since(start))
		return nil
	}
}
