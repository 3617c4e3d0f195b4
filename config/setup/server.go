package setup

import (
	"errors"
	"expense-categories/config"
	"expense-categories/services"
	"expense-categories/storage"
	"expense-categories/validator"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// NewFiberApp creates the Fiber application. There is no WriteTimeout because
// snapshot streams stay open for the life of a client.
func NewFiberApp(cfg *config.Config, logger *slog.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               "expense-categories",
		ReadTimeout:           10 * time.Second,
		IdleTimeout:           time.Minute,
		DisableStartupMessage: cfg.IsProduction(),
		ErrorHandler:          CustomErrorHandler(logger),
	})
}

// CustomErrorHandler turns errors escaping a handler into JSON responses.
// Store and auth sentinels map to their HTTP status; anything else is a 500.
func CustomErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, message := statusFor(err)

		requestID, _ := c.Locals("requestID").(string)
		level := slog.LevelWarn
		if code >= fiber.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.UserContext(), level, "request failed",
			"request_id", requestID,
			"method", c.Method(),
			"path", c.Path(),
			"status", code,
			"error", err,
		)

		return c.Status(code).JSON(fiber.Map{
			"error":      message,
			"request_id": requestID,
		})
	}
}

func statusFor(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case validator.IsValidationError(err):
		return fiber.StatusBadRequest, "Validation failed"
	case errors.Is(err, storage.ErrNotFound):
		return fiber.StatusNotFound, "Category not found"
	case errors.Is(err, storage.ErrConflict):
		return fiber.StatusConflict, "Category changed concurrently, retry"
	case errors.Is(err, services.ErrUnauthorized), errors.Is(err, services.ErrSessionNotFound):
		return fiber.StatusUnauthorized, "Not authenticated"
	default:
		return fiber.StatusInternalServerError, "Internal server error"
	}
}
