package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/auth"
)

const ownerIDLocal = "owner_id"

// BearerAuth validates the access token and stores its subject as the owner id.
func BearerAuth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		ownerID, err := auth.Verify(secret, strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		c.Locals(ownerIDLocal, ownerID)
		return c.Next()
	}
}

// OwnerID returns the owner id placed by BearerAuth, or "".
func OwnerID(c *fiber.Ctx) string {
	id, _ := c.Locals(ownerIDLocal).(string)
	return id
}

// SharedSecret guards machine-to-machine callbacks with a static header value.
// An empty secret rejects every request.
func SharedSecret(header, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get(header)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return fiber.NewError(http.StatusUnauthorized, "invalid callback signature")
		}
		return c.Next()
	}
}
