package auth

import (
	"context"
	"strings"

	"backend-fittrack/internal/identity"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Resolver turns a bearer token into the user it was issued to.
type Resolver interface {
	Resolve(ctx context.Context, token string) (identity.User, error)
}

// JWTMiddleware validates bearer tokens and stores user_id and identity in locals.
// Websocket upgrades may pass the token as the access_token query parameter,
// since browsers cannot set headers on them.
func JWTMiddleware(resolver Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" && websocket.IsWebSocketUpgrade(c) {
			token = c.Query("access_token")
		}
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		who, err := resolver.Resolve(c.UserContext(), token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		c.Locals("user_id", who.ID)
		c.Locals("identity", who)
		return c.Next()
	}
}

// CurrentUser returns the identity stored by JWTMiddleware.
func CurrentUser(c *fiber.Ctx) (identity.User, bool) {
	who, ok := c.Locals("identity").(identity.User)
	return who, ok
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
