package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/StoreFox/app/controllers"
	"github.com/ManuelReschke/StoreFox/app/repository"
	"github.com/ManuelReschke/StoreFox/internal/pkg/billing"
	"github.com/ManuelReschke/StoreFox/internal/pkg/cache"
	"github.com/ManuelReschke/StoreFox/internal/pkg/database"
	"github.com/ManuelReschke/StoreFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/StoreFox/internal/pkg/env"
	"github.com/ManuelReschke/StoreFox/internal/pkg/indexing"
	"github.com/ManuelReschke/StoreFox/internal/pkg/lifecycle"
	"github.com/ManuelReschke/StoreFox/internal/pkg/plancatalog"
	"github.com/ManuelReschke/StoreFox/internal/pkg/router"
	"github.com/ManuelReschke/StoreFox/internal/pkg/sideeffects"
	"github.com/ManuelReschke/StoreFox/internal/pkg/usage"
)

func main() {
	app, effects := NewApplication()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("Shutdown failed: %v", err)
	}
	// Let detached side effects of already committed transitions finish.
	effects.Wait()
}

func NewApplication() (*fiber.App, *sideeffects.Coordinator) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	factory := repository.GetGlobalFactory()
	store := factory.GetDataStore()

	// Define possible base paths
	basePaths := []string{
		"./",     // Current directory
		"../../", // From cmd/storefox to project root
	}
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "configs"); err == nil {
			basePath = path
			break
		}
	}
	if basePath == "" {
		panic("Could not find project root directory")
	}

	catalogFile := env.GetEnv("PLAN_CATALOG_FILE", basePath+"configs/plans.yaml")
	plans, err := plancatalog.LoadFile(catalogFile)
	if err != nil {
		panic(err)
	}
	if err := plancatalog.Seed(context.Background(), store, plans); err != nil {
		panic(err)
	}

	renderCache := cache.NewRenderCache(cache.GetClient(), env.GetEnv("CACHE_PREFIX", cache.DefaultPrefix), env.GetEnvDuration("RENDER_CACHE_TTL", cache.DefaultRenderTTL))
	effects := sideeffects.NewCoordinator(newNotifier(), renderCache, sideeffects.Config{
		BaseURL: env.GetEnv("PUBLIC_BASE_URL", "http://localhost:4000"),
		Timeout: env.GetEnvDuration("SIDE_EFFECT_TIMEOUT", sideeffects.DefaultTimeout),
		Workers: env.GetEnvInt("SIDE_EFFECT_WORKERS", sideeffects.DefaultWorkers),
	})

	lc := lifecycle.NewService(store, effects)
	billingSvc := billing.NewServiceFromDB(database.GetDB(), lc)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Users:           factory.GetUserRepository(),
		UpstreamToken:   env.GetEnv("UPSTREAM_AUTH_TOKEN", ""),
		Stores:          controllers.NewStoreController(lc, entitlements.NewService(store), usage.NewService(store)),
		Admin:           controllers.NewAdminController(lc, effects, renderCache),
		Billing:         controllers.NewBillingController(billing.NewStripeWebhook(billingSvc, env.GetEnv("STRIPE_WEBHOOK_SECRET", "")), store),
		Public:          controllers.NewPublicController(store, renderCache, env.GetEnv("PUBLIC_BASE_URL", "http://localhost:4000")),
		MetricsUser:     env.GetEnv("ADMIN_METRICS_USER", ""),
		MetricsPassword: env.GetEnv("ADMIN_METRICS_PASSWORD", ""),
	})

	return app, effects
}

// newNotifier returns the search indexing client, or a logging stand-in
// when no service account is configured.
func newNotifier() sideeffects.Notifier {
	credentials := env.GetEnv("INDEXING_CREDENTIALS_FILE", "")
	if credentials == "" {
		log.Warn("INDEXING_CREDENTIALS_FILE not set, indexer notifications are only logged")
		return indexing.LogNotifier{}
	}
	client, err := indexing.NewClient(context.Background(), credentials)
	if err != nil {
		panic(err)
	}
	return client
}
