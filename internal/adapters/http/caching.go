package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control headers based on endpoint. Anything
// derived from a user's location must never be stored by a shared cache.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		path := c.Path()
		var value string

		switch {
		case strings.HasPrefix(path, "/v1/location"), path == "/graphql":
			// Location responses: always, whatever the method or handler set.
			c.Set(fiber.HeaderCacheControl, "no-store")
			c.Set(fiber.HeaderPragma, "no-cache")
			return err

		case path == "/v1/health" || path == "/v1/ready":
			value = "no-cache"

		case path == "/metrics":
			value = "no-cache"
		}

		if value != "" && c.Method() == fiber.MethodGet && len(c.Response().Header.Peek(fiber.HeaderCacheControl)) == 0 {
			c.Set(fiber.HeaderCacheControl, value)
		}
		return err
	}
}
