package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StoreFox/internal/pkg/lifecycle"
	"github.com/ManuelReschke/StoreFox/internal/pkg/sideeffects"
)

// SitemapInvalidator drops the cached sitemap.
type SitemapInvalidator interface {
	InvalidateSitemap(ctx context.Context) error
}

// AdminController handles operator actions on stores.
type AdminController struct {
	lifecycle *lifecycle.Service
	effects   *sideeffects.Coordinator
	sitemap   SitemapInvalidator
}

// NewAdminController creates a new admin controller
func NewAdminController(lc *lifecycle.Service, effects *sideeffects.Coordinator, sitemap SitemapInvalidator) *AdminController {
	return &AdminController{lifecycle: lc, effects: effects, sitemap: sitemap}
}

type statusRequest struct {
	IsActive *bool `json:"is_active"`
}

type transferRequest struct {
	FromUserID uint `json:"from_user_id"`
	ToUserID   uint `json:"to_user_id"`
}

// HandleDeactivateStore unpublishes any store.
func (ac *AdminController) HandleDeactivateStore(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	store, err := ac.lifecycle.DeactivateStore(c.UserContext(), actorFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(store)
}

// HandleSetStoreStatus forces the active flag of a store.
func (ac *AdminController) HandleSetStoreStatus(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req statusRequest
	if err := c.BodyParser(&req); err != nil || req.IsActive == nil {
		return badRequest(c, "is_active is required")
	}
	store, err := ac.lifecycle.ToggleStoreStatus(c.UserContext(), actorFrom(c), id, *req.IsActive)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(store)
}

// HandleTransferStore moves a store to another user.
func (ac *AdminController) HandleTransferStore(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := ac.lifecycle.TransferStore(c.UserContext(), actorFrom(c), lifecycle.TransferInput{
		StoreID:    id,
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// HandleReindexStore re-sends the indexer notifications of a store and waits
// for the per-URL results.
func (ac *AdminController) HandleReindexStore(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	store, err := ac.lifecycle.GetStore(c.UserContext(), actorFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	report := ac.effects.Reindex(c.UserContext(), *store)
	log.Infof("[Admin] Reindexed store %d, %d failure(s)", store.ID, report.Failed())
	return c.JSON(report)
}

// HandlePurgeStore drops the cached renders of a store.
func (ac *AdminController) HandlePurgeStore(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	store, err := ac.lifecycle.GetStore(c.UserContext(), actorFrom(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ac.effects.Purge(c.UserContext(), *store))
}

// HandleInvalidateSitemap drops the cached sitemap.
func (ac *AdminController) HandleInvalidateSitemap(c *fiber.Ctx) error {
	if err := ac.sitemap.InvalidateSitemap(c.UserContext()); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}
