package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/app/repository"
	"github.com/ManuelReschke/StoreFox/internal/pkg/cache"
	"github.com/ManuelReschke/StoreFox/internal/pkg/database"
	"github.com/ManuelReschke/StoreFox/internal/pkg/env"
	"github.com/ManuelReschke/StoreFox/internal/pkg/indexing"
	"github.com/ManuelReschke/StoreFox/internal/pkg/sideeffects"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Store recovery commands",
}

var storeReindexCmd = &cobra.Command{
	Use:   "reindex <id|slug>",
	Short: "Re-send the indexer notifications of a store and purge its cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, effects, err := loadStore(args[0])
		if err != nil {
			return err
		}
		return printReport(cmd, effects.Reindex(cmd.Context(), *store))
	},
}

var storePurgeCmd = &cobra.Command{
	Use:   "purge <id|slug>",
	Short: "Drop the cached renders of a store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, effects, err := loadStore(args[0])
		if err != nil {
			return err
		}
		return printReport(cmd, effects.Purge(cmd.Context(), *store))
	},
}

var sitemapCmd = &cobra.Command{
	Use:   "sitemap",
	Short: "Sitemap commands",
}

var sitemapInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop the cached sitemap",
	RunE: func(cmd *cobra.Command, args []string) error {
		env.SetupEnvFile()
		cache.SetupCache()
		if err := newRenderCache().InvalidateSitemap(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Sitemap invalidated")
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeReindexCmd)
	storeCmd.AddCommand(storePurgeCmd)
	sitemapCmd.AddCommand(sitemapInvalidateCmd)
}

func connect() repository.DataStore {
	env.SetupEnvFile()
	database.SetupDatabase()
	return repository.NewRepositories(database.GetDB())
}

func newRenderCache() *cache.RenderCache {
	return cache.NewRenderCache(cache.GetClient(), env.GetEnv("CACHE_PREFIX", cache.DefaultPrefix), env.GetEnvDuration("RENDER_CACHE_TTL", cache.DefaultRenderTTL))
}

func newCoordinator() (*sideeffects.Coordinator, error) {
	var notifier sideeffects.Notifier = indexing.LogNotifier{}
	if credentials := env.GetEnv("INDEXING_CREDENTIALS_FILE", ""); credentials != "" {
		client, err := indexing.NewClient(context.Background(), credentials)
		if err != nil {
			return nil, err
		}
		notifier = client
	}
	return sideeffects.NewCoordinator(notifier, newRenderCache(), sideeffects.Config{
		BaseURL: env.GetEnv("PUBLIC_BASE_URL", "http://localhost:4000"),
		Timeout: env.GetEnvDuration("SIDE_EFFECT_TIMEOUT", sideeffects.DefaultTimeout),
	}), nil
}

// loadStore resolves a store by numeric id or slug.
func loadStore(ref string) (*models.Store, *sideeffects.Coordinator, error) {
	data := connect()
	cache.SetupCache()

	stores := data.WithContext(context.Background()).Stores()
	var (
		store *models.Store
		err   error
	)
	if id, convErr := strconv.ParseUint(ref, 10, 64); convErr == nil {
		store, err = stores.GetByID(uint(id))
	} else {
		store, err = stores.GetBySlug(ref)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("store %q not found", ref)
	}
	if err != nil {
		return nil, nil, err
	}

	effects, err := newCoordinator()
	if err != nil {
		return nil, nil, err
	}
	return store, effects, nil
}

func printReport(cmd *cobra.Command, report sideeffects.Report) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d side effect(s) failed", n)
	}
	return nil
}
