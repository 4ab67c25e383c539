package controllers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/StoreFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/StoreFox/internal/pkg/lifecycle"
	"github.com/ManuelReschke/StoreFox/internal/pkg/usage"
	"github.com/ManuelReschke/StoreFox/internal/pkg/usercontext"
)

// StoreController serves the owner facing store, quota and usage endpoints.
type StoreController struct {
	lifecycle    *lifecycle.Service
	entitlements *entitlements.Service
	usage        *usage.Service
}

// NewStoreController creates a new store controller
func NewStoreController(lc *lifecycle.Service, ent *entitlements.Service, us *usage.Service) *StoreController {
	return &StoreController{lifecycle: lc, entitlements: ent, usage: us}
}

// HandleGetEntitlements returns what the caller may currently do.
func (sc *StoreController) HandleGetEntitlements(c *fiber.Ctx) error {
	ent, err := sc.entitlements.GetEntitlements(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ent)
}

// HandleCheckFeature answers a single feature query.
func (sc *StoreController) HandleCheckFeature(c *fiber.Ctx) error {
	feature, err := entitlements.ParseFeature(c.Params("feature"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	access, err := sc.entitlements.CheckFeatureAccess(c.UserContext(), usercontext.GetUserID(c), feature)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(access)
}

// HandleCreateStore creates an inactive store.
func (sc *StoreController) HandleCreateStore(c *fiber.Ctx) error {
	var in lifecycle.CreateStoreInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	store, err := sc.lifecycle.CreateStore(c.UserContext(), usercontext.GetUserID(c), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(store)
}

// HandleGetStore returns one store of the caller.
func (sc *StoreController) HandleGetStore(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	store, err := sc.lifecycle.GetStore(c.UserContext(), actorFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(store)
}

// HandleActivateStore publishes an owned store.
func (sc *StoreController) HandleActivateStore(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	res, err := sc.lifecycle.ActivateStore(c.UserContext(), usercontext.GetUserID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// HandleDeleteStore removes an owned store.
func (sc *StoreController) HandleDeleteStore(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := sc.lifecycle.DeleteStore(c.UserContext(), usercontext.GetUserID(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleCheckPhotoQuota tells the uploader whether one more photo fits.
func (sc *StoreController) HandleCheckPhotoQuota(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	count, err := strconv.Atoi(c.Query("count", "0"))
	if err != nil || count < 0 {
		return badRequest(c, "count must be a non-negative integer")
	}
	if err := sc.entitlements.CheckPhotoQuota(c.UserContext(), usercontext.GetUserID(c), id, count); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"allowed": true})
}

// HandleConsumeAIRewrite meters one AI rewrite.
func (sc *StoreController) HandleConsumeAIRewrite(c *fiber.Ctx) error {
	res, err := sc.usage.ConsumeAIRewrite(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		if errors.Is(err, usage.ErrContention) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "contention", "message": err.Error()})
		}
		return respondError(c, err)
	}
	return c.JSON(res)
}

// HandleIncomingTransfers lists stores recently transferred to the caller.
func (sc *StoreController) HandleIncomingTransfers(c *fiber.Ctx) error {
	since := time.Now().AddDate(0, 0, -30)
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return badRequest(c, "since must be an RFC3339 timestamp")
		}
		since = t
	}
	list, err := sc.lifecycle.ListIncomingTransfers(c.UserContext(), usercontext.GetUserID(c), since)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"transfers": list})
}
