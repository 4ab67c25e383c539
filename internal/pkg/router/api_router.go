package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/StoreFox/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{Max: 120}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Provider webhooks authenticate by signature, not by caller identity.
	v1.Post("/webhooks/stripe", h.deps.Billing.HandleStripeWebhook)
	v1.Get("/plans", h.deps.Billing.HandleListPlans)

	authed := v1.Group("", middleware.UpstreamIdentityMiddleware(h.deps.Users, h.deps.UpstreamToken), middleware.RequireAPIAuth)
	authed.Get("/entitlements", h.deps.Stores.HandleGetEntitlements)
	authed.Get("/entitlements/features/:feature", h.deps.Stores.HandleCheckFeature)
	authed.Post("/stores", h.deps.Stores.HandleCreateStore)
	authed.Get("/stores/:id", h.deps.Stores.HandleGetStore)
	authed.Post("/stores/:id/activate", h.deps.Stores.HandleActivateStore)
	authed.Delete("/stores/:id", h.deps.Stores.HandleDeleteStore)
	authed.Get("/stores/:id/photos/quota", h.deps.Stores.HandleCheckPhotoQuota)
	authed.Post("/ai/rewrites/consume", h.deps.Stores.HandleConsumeAIRewrite)
	authed.Get("/transfers/incoming", h.deps.Stores.HandleIncomingTransfers)

	admin := authed.Group("/admin", middleware.RequireAPIAdmin)
	admin.Post("/stores/:id/deactivate", h.deps.Admin.HandleDeactivateStore)
	admin.Post("/stores/:id/transfer", h.deps.Admin.HandleTransferStore)
	admin.Post("/stores/:id/status", h.deps.Admin.HandleSetStoreStatus)
	admin.Post("/stores/:id/reindex", h.deps.Admin.HandleReindexStore)
	admin.Post("/stores/:id/purge", h.deps.Admin.HandlePurgeStore)
	admin.Post("/sitemap/invalidate", h.deps.Admin.HandleInvalidateSitemap)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
