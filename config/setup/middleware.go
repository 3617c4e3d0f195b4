package setup

import (
	"expense-categories/config"
	"expense-categories/middleware"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// ApplyMiddleware applies all global middleware to the Fiber app
func ApplyMiddleware(app *fiber.App, cfg *config.Config, logger *slog.Logger) {
	app.Use(
		recover.New(),
		middleware.StructuredLogger(logger),
		middleware.Security(cfg.IsProduction()),
		cors.New(corsConfig(cfg)),
		limiter.New(limiter.Config{
			Max:        cfg.RateLimit,
			Expiration: cfg.RateLimitWindow,
			// Health probes and open snapshot streams do not count
			Next: func(c *fiber.Ctx) bool {
				return c.Path() == "/health" || strings.HasSuffix(c.Path(), "/stream")
			},
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Rate limit exceeded",
				})
			},
		}),
	)
}

// corsConfig allows credentialed requests only for an explicit origin list;
// the session cookie is never sent to a wildcard origin.
func corsConfig(cfg *config.Config) cors.Config {
	wildcard := strings.TrimSpace(cfg.CORSOrigins) == "*"
	return cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID",
		AllowCredentials: !wildcard,
		MaxAge:           86400,
	}
}
