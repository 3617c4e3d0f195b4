package middleware

import (
	"expense-categories/identity"
	"expense-categories/models"
	"expense-categories/session"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SessionCookie is the name of the cookie carrying the session id
const SessionCookie = "session_id"

// AuthRequired creates an authentication middleware that requires a valid session or Bearer token.
// Bearer requests get a request-scoped session without an id.
func AuthRequired(sessionStore *session.Store, verifier identity.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Cookies(SessionCookie)
		if sessionID != "" {
			sess, err := sessionStore.Get(sessionID)
			if err == nil && sess != nil {
				sessionStore.Touch(sessionID)
				setUser(c, sess)
				return c.Next()
			}
			c.ClearCookie(SessionCookie)
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization",
			})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		user, err := verifier.Verify(c.UserContext(), parts[1])
		if err != nil || user == nil || user.ID == "" {
			slog.Debug("[AUTH] bearer token rejected", "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		setUser(c, &models.Session{UserID: user.ID, Email: user.Email, Name: user.Name})
		return c.Next()
	}
}

func setUser(c *fiber.Ctx, sess *models.Session) {
	c.Locals("userID", sess.UserID)
	c.Locals("userEmail", sess.Email)
	c.Locals("session", sess)
}

func GetUserID(c *fiber.Ctx) string {
	userID, ok := c.Locals("userID").(string)
	if !ok {
		return ""
	}
	return userID
}

func GetUserEmail(c *fiber.Ctx) string {
	email, ok := c.Locals("userEmail").(string)
	if !ok {
		return ""
	}
	return email
}

// GetSession returns the session attached by AuthRequired
func GetSession(c *fiber.Ctx) *models.Session {
	sess, _ := c.Locals("session").(*models.Session)
	return sess
}
