package http

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/nearchat/internal/core/domain"
)

const sessionLocal = "session"

// AuthMiddleware requires a valid bearer token with a live session and
// stores the session in the request locals.
func AuthMiddleware(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return errUnauthorized(c, "missing bearer token")
		}

		sess, err := auth.Authenticate(c.UserContext(), strings.TrimSpace(token))
		if err != nil {
			return respondError(c, err)
		}

		c.Locals(sessionLocal, sess)
		ctx := context.WithValue(c.UserContext(), ctxKey("logger"), LoggerFromCtx(c.UserContext()).With("user_id", sess.UserID))
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// currentSession returns the session set by AuthMiddleware.
func currentSession(c *fiber.Ctx) *domain.Session {
	sess, _ := c.Locals(sessionLocal).(*domain.Session)
	return sess
}
