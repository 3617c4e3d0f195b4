package handlers

import (
	"errors"
	"expense-categories/app"
	"expense-categories/config"
	"expense-categories/middleware"
	"expense-categories/models"
	"expense-categories/services"

	"github.com/gofiber/fiber/v2"
)

// Login exchanges an identity token for a session cookie and opens the
// user's category subscription
func Login(a *app.App) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}

		if err := a.Validator.Validate(&req); err != nil {
			return validationError(c, err)
		}

		loginResponse, err := a.AuthService.LoginWithIDToken(c.UserContext(), req.IDToken)
		if err != nil {
			if errors.Is(err, services.ErrInvalidToken) || errors.Is(err, services.ErrInvalidUserInfo) {
				a.Logger.Warn("[AUTH] Login failed", "error", err)
				return unauthorized(c, "Authentication failed")
			}
			return serverErrorWithDetails(c, "Failed to start session", err)
		}

		sess := loginResponse.Session
		c.Cookie(&fiber.Cookie{
			Name:     middleware.SessionCookie,
			Value:    sess.ID,
			Expires:  sess.ExpiresAt,
			HTTPOnly: true,
			Secure:   config.AppConfig != nil && config.AppConfig.IsProduction(),
			SameSite: "Lax",
			Path:     "/",
		})

		a.Logger.Info("[AUTH] Login successful", "user_id", sess.UserID)

		return success(c, fiber.Map{
			"success": true,
			"user":    sess.User(),
		})
	}
}

// Logout handles user logout
func Logout(a *app.App) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Cookies(middleware.SessionCookie)
		if sessionID != "" {
			if err := a.AuthService.Logout(sessionID); err != nil {
				a.Logger.Warn("[AUTH] Logout failed", "error", err)
			}
		}

		c.ClearCookie(middleware.SessionCookie)

		return success(c, fiber.Map{
			"success": true,
		})
	}
}

// Me returns the current user's session information
func Me(a *app.App) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Cookies(middleware.SessionCookie)
		if sessionID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"authenticated": false,
			})
		}

		sess, err := a.AuthService.GetSessionInfo(sessionID)
		if err != nil {
			c.ClearCookie(middleware.SessionCookie)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"authenticated": false,
			})
		}

		a.SessionStore.Touch(sessionID)

		return success(c, fiber.Map{
			"authenticated": true,
			"user":          sess.User(),
			"expires_at":    sess.ExpiresAt,
		})
	}
}
