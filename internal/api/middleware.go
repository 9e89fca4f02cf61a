package api

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/shineum/maildeck/internal/apperr"
	"github.com/shineum/maildeck/internal/auth"
)

const localsUsername = "username"

// requestLogger logs one line per request. Handler errors are rendered here
// so the logged status is the one the client receives.
func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if err := c.Next(); err != nil {
			if herr := ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		slog.Info("http request",
			"request_id", c.Locals("requestid"),
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency", time.Since(start),
			"ip", c.IP(),
		)
		return nil
	}
}

// requireAuth rejects requests without a valid bearer token and stores the
// token subject in the request locals.
func requireAuth(m *auth.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return apperr.New(apperr.Auth, "missing bearer token", nil)
		}

		claims, err := m.Verify(strings.TrimSpace(token))
		if err != nil {
			return err
		}

		c.Locals(localsUsername, claims.Subject)
		return c.Next()
	}
}
