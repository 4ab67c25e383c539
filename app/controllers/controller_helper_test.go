package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/StoreFox/internal/pkg/apperror"
)

func TestRespondError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"not found", apperror.NotFound("store", 7), fiber.StatusNotFound, "not_found", ""},
		{"wrapped quota", fmt.Errorf("activate: %w", apperror.QuotaExceeded("maxStores")), fiber.StatusConflict, "quota_exceeded", ""},
		{"forbidden", apperror.Forbidden("store is not owned by the caller"), fiber.StatusForbidden, "forbidden", "store is not owned by the caller"},
		{"invalid transition", apperror.InvalidTransition("same user"), fiber.StatusUnprocessableEntity, "invalid_transition", "same user"},
		{"bad param", fiber.NewError(fiber.StatusBadRequest, "invalid id"), fiber.StatusBadRequest, "bad_request", "invalid id"},
		{"fiber not found", fiber.ErrNotFound, fiber.StatusNotFound, "not_found", "Not Found"},
		{"fiber rate limit", fiber.NewError(fiber.StatusTooManyRequests, "slow down"), fiber.StatusTooManyRequests, "too_many_requests", "slow down"},
		{"unknown status", fiber.NewError(599, "odd"), 599, "error", "odd"},
		{"internal detail is hidden", errors.New("dial tcp 10.0.0.3:3306: refused"), fiber.StatusInternalServerError, "internal_server_error", "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return respondError(c, tt.err) })

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			raw, _ := io.ReadAll(resp.Body)
			var body map[string]any
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Equal(t, tt.wantCode, body["error"])
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body["message"])
			}
		})
	}
}

func TestParamID(t *testing.T) {
	app := fiber.New()
	app.Get("/:id", func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"id": id})
	})

	for path, want := range map[string]int{"/12": 200, "/0": 400, "/-3": 400, "/abc": 400} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, path)
	}
}
