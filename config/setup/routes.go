package setup

import (
	"expense-categories/app"
	"expense-categories/handlers"
	"expense-categories/identity"
	"expense-categories/middleware"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(fiberApp *fiber.App, application *app.App, verifier identity.Verifier) {
	// Public routes
	fiberApp.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	// Auth routes
	fiberApp.Post("/api/auth/login", handlers.Login(application))
	fiberApp.Post("/api/auth/logout", handlers.Logout(application))
	fiberApp.Get("/api/auth/me", handlers.Me(application))

	// Protected API routes
	api := fiberApp.Group("/api", middleware.AuthRequired(application.SessionStore, verifier), limiter.New(limiter.Config{
		Max:        100,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID, ok := c.Locals("userID").(string); ok {
				return "user:" + userID
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded for your account",
			})
		},
	}))

	api.Get("/categories", handlers.GetCategories(application))
	api.Get("/categories/stream", handlers.StreamCategories(application))
	api.Post("/categories", handlers.CreateCategory(application))
	api.Patch("/categories/:id", handlers.UpdateCategory(application))
	api.Delete("/categories/:id", handlers.DeleteCategory(application))
	api.Post("/categories/:id/expenses", handlers.AddExpense(application))
	api.Delete("/categories/:id/expenses/:expenseId", handlers.DeleteExpense(application))
}
