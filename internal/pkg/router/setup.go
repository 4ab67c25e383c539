package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/StoreFox/app/controllers"
	"github.com/ManuelReschke/StoreFox/internal/pkg/middleware"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the wired controllers and the identity source shared by
// the routers.
type Dependencies struct {
	Users         middleware.UserLookup
	UpstreamToken string

	Stores  *controllers.StoreController
	Admin   *controllers.AdminController
	Billing *controllers.BillingController
	Public  *controllers.PublicController

	MetricsUser     string
	MetricsPassword string
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// The public routes come first so that the identity middleware of the
	// API group never runs for cached pages.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
