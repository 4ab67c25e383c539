package middleware

import (
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/internal/pkg/usercontext"
)

// Headers set by the authenticating gateway in front of the API.
const (
	HeaderUserID        = "X-Auth-User-Id"
	HeaderUpstreamToken = "X-Upstream-Token"
)

// UserLookup resolves a verified user id to a user row.
type UserLookup interface {
	GetByID(id uint) (*models.User, error)
}

// UpstreamIdentityMiddleware trusts the user id resolved by the gateway
// when the request carries the shared upstream token, and loads the user
// to learn its role. Requests without identity continue anonymously.
func UpstreamIdentityMiddleware(users UserLookup, upstreamToken string) fiber.Handler {
	expected := []byte(strings.TrimSpace(upstreamToken))
	return func(c *fiber.Ctx) error {
		usercontext.SetUserContext(c, usercontext.UserContext{})

		raw := strings.TrimSpace(c.Get(HeaderUserID))
		if raw == "" {
			return c.Next()
		}
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(c.Get(HeaderUpstreamToken))), expected) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Untrusted identity header"})
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid user id"})
		}

		user, err := users.GetByID(uint(id))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Unknown user"})
			}
			log.Errorf("identity lookup failed for user %d: %v", id, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Identity verification failed"})
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:     user.ID,
			Username:   user.Name,
			IsLoggedIn: true,
			IsAdmin:    user.IsAdmin(),
		})
		return c.Next()
	}
}
