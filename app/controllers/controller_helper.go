package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/ManuelReschke/StoreFox/internal/pkg/apperror"
	"github.com/ManuelReschke/StoreFox/internal/pkg/lifecycle"
	"github.com/ManuelReschke/StoreFox/internal/pkg/usercontext"
)

// actorFrom returns the verified caller of the request.
func actorFrom(c *fiber.Ctx) lifecycle.Actor {
	uc := usercontext.GetUserContext(c)
	return lifecycle.Actor{UserID: uc.UserID, IsAdmin: uc.IsAdmin}
}

// paramID parses a positive numeric route parameter.
func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Params(name)), 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return uint(id), nil
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": message})
}

// statusCode turns an HTTP status into a snake_case error code, so 404 is
// "not_found" and 429 is "too_many_requests".
func statusCode(status int) string {
	msg := utils.StatusMessage(status)
	if msg == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(msg), " ", "_")
}

// respondError writes the JSON error body for err. Domain errors keep their
// message; anything else is logged and hidden behind a generic 500.
func respondError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": statusCode(fe.Code), "message": fe.Message})
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make(map[string]string, len(ve))
		for _, fieldErr := range ve {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "fields": fields})
	}

	kind := apperror.KindOf(err)
	if kind == "" {
		log.Errorf("[%s %s] %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Internal server error"})
	}

	body := fiber.Map{"error": string(kind), "message": err.Error()}
	var ae *apperror.Error
	if errors.As(err, &ae) && ae.Resource != "" {
		body["resource"] = ae.Resource
	}
	return c.Status(apperror.HTTPStatus(err)).JSON(body)
}
