package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"filterspec/internal/engine"
	"filterspec/internal/instrument"
)

// Header names the middleware sets from the token claims. Filters can read
// them like any other header, for example to scope rows to the caller.
const (
	UserIDHeader = "X-Auth-User"
	RolesHeader  = "X-Auth-Roles"
)

const userKey = "user"

// AuthMiddleware validates the bearer token and stores the caller on the
// request. Client supplied X-Auth-* headers are replaced by the claims.
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Request().Header.Del(UserIDHeader)
		c.Request().Header.Del(RolesHeader)

		scheme, token, ok := strings.Cut(c.Get(fiber.HeaderAuthorization), " ")
		if scheme == "" {
			return engine.UnauthorizedError("Missing auth token")
		}
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseToken(secret, strings.TrimSpace(token))
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		user := &User{ID: claims.Subject, Roles: claims.Roles}
		c.Locals(userKey, user)
		c.SetUserContext(instrument.WithUserID(c.UserContext(), user.ID))
		c.Request().Header.Set(UserIDHeader, user.ID)
		for _, role := range user.Roles {
			c.Request().Header.Add(RolesHeader, role)
		}
		return c.Next()
	}
}

// RequireRole rejects callers without role. It must run after AuthMiddleware.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if !user.HasRole(role) {
			return engine.ForbiddenError(role + " role required")
		}
		return c.Next()
	}
}

func GetUser(c *fiber.Ctx) *User {
	user, _ := c.Locals(userKey).(*User)
	return user
}
