package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/shineum/maildeck/internal/apperr"
)

// ErrorHandler maps errors returned by handlers onto JSON error responses.
// Classified errors use their kind's status and client message; fiber
// errors keep their own code; everything else is a 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := apperr.KindOf(err).Status()
	message := apperr.Message(err)

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code >= fiber.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"status", code,
			"error", err,
		)
	}

	return c.Status(code).JSON(fiber.Map{"error": message})
}
