package router

import (
	"github.com/gofiber/fiber/v2"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Store microsites
	app.Get("/s/:slug", h.deps.Public.HandleStorePage)
	app.Get("/s/:slug/services/:service", h.deps.Public.HandleServicePage)

	// Category listings
	app.Get("/c/:category/:city?", h.deps.Public.HandleCategoryPage)

	app.Get("/sitemap.xml", h.deps.Public.HandleSitemap)
}
