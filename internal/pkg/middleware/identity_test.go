package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/internal/pkg/usercontext"
)

type userMap map[uint]models.User

func (m userMap) GetByID(id uint) (*models.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func newApp() *fiber.App {
	users := userMap{
		1: {ID: 1, Name: "alice", Role: models.ROLE_USER},
		2: {ID: 2, Name: "root", Role: models.ROLE_ADMIN},
	}
	app := fiber.New()
	app.Use(UpstreamIdentityMiddleware(users, "s3cret"))
	app.Get("/me", RequireAPIAuth, func(c *fiber.Ctx) error {
		return c.JSON(usercontext.GetUserContext(c))
	})
	app.Get("/admin", RequireAPIAdmin, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func do(t *testing.T, app *fiber.App, path string, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestUpstreamIdentity(t *testing.T) {
	app := newApp()
	trusted := func(id string) map[string]string {
		return map[string]string{HeaderUserID: id, HeaderUpstreamToken: "s3cret"}
	}

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    int
	}{
		{"anonymous", "/me", nil, fiber.StatusUnauthorized},
		{"user", "/me", trusted("1"), fiber.StatusOK},
		{"forged header", "/me", map[string]string{HeaderUserID: "2", HeaderUpstreamToken: "guess"}, fiber.StatusUnauthorized},
		{"missing token", "/me", map[string]string{HeaderUserID: "2"}, fiber.StatusUnauthorized},
		{"unknown user", "/me", trusted("9"), fiber.StatusUnauthorized},
		{"malformed id", "/me", trusted("abc"), fiber.StatusUnauthorized},
		{"user on admin route", "/admin", trusted("1"), fiber.StatusForbidden},
		{"admin", "/admin", trusted("2"), fiber.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(t, app, tt.path, tt.headers))
		})
	}
}
