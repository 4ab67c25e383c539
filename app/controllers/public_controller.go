package controllers

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/app/repository"
	"github.com/ManuelReschke/StoreFox/internal/pkg/cache"
)

const (
	categoryPageSize = 50
	sitemapPageSize  = 500
	sitemapMaxURLs   = 50000
)

// PageCache stores rendered public pages under invalidation tags.
type PageCache interface {
	GetRender(ctx context.Context, path string) ([]byte, bool, error)
	SetRender(ctx context.Context, path string, body []byte, tags ...string) error
}

// PublicController renders the public store pages, category listings and
// the sitemap. Renders are cached until a lifecycle transition invalidates
// them.
type PublicController struct {
	store   repository.DataStore
	cache   PageCache
	baseURL string
}

// NewPublicController creates a new public controller. cache may be nil.
func NewPublicController(store repository.DataStore, cache PageCache, baseURL string) *PublicController {
	return &PublicController{store: store, cache: cache, baseURL: baseURL}
}

type servicePage struct {
	Store   string              `json:"store"`
	Service models.StoreService `json:"service"`
}

type categoryPage struct {
	Category string         `json:"category"`
	City     string         `json:"city,omitempty"`
	Stores   []models.Store `json:"stores"`
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// HandleStorePage serves the root page of an active store.
func (pc *PublicController) HandleStorePage(c *fiber.Ctx) error {
	slug := c.Params("slug")
	return pc.cached(c, fiber.MIMEApplicationJSON, []string{cache.StoreTag(slug)}, func(ctx context.Context) ([]byte, error) {
		store, err := pc.activeStore(ctx, slug)
		if err != nil {
			return nil, err
		}
		return json.Marshal(store)
	})
}

// HandleServicePage serves one active service page of an active store.
func (pc *PublicController) HandleServicePage(c *fiber.Ctx) error {
	slug := c.Params("slug")
	serviceSlug := c.Params("service")
	return pc.cached(c, fiber.MIMEApplicationJSON, []string{cache.StoreTag(slug)}, func(ctx context.Context) ([]byte, error) {
		store, err := pc.activeStore(ctx, slug)
		if err != nil {
			return nil, err
		}
		for _, svc := range store.Services {
			if svc.Slug == serviceSlug && svc.IsActive {
				return json.Marshal(servicePage{Store: store.Slug, Service: svc})
			}
		}
		return nil, fiber.ErrNotFound
	})
}

// HandleCategoryPage lists the active stores of a category, optionally
// narrowed to one city.
func (pc *PublicController) HandleCategoryPage(c *fiber.Ctx) error {
	category := c.Params("category")
	city := c.Params("city")
	return pc.cached(c, fiber.MIMEApplicationJSON, []string{cache.CategoryTag(category, city)}, func(ctx context.Context) ([]byte, error) {
		stores, err := pc.store.WithContext(ctx).Stores().ListActiveByCategory(category, city, 0, categoryPageSize)
		if err != nil {
			return nil, err
		}
		if stores == nil {
			stores = []models.Store{}
		}
		return json.Marshal(categoryPage{Category: category, City: city, Stores: stores})
	})
}

// HandleSitemap lists the public URLs of every active store.
func (pc *PublicController) HandleSitemap(c *fiber.Ctx) error {
	return pc.cached(c, fiber.MIMEApplicationXMLCharsetUTF8, []string{cache.SitemapTag}, func(ctx context.Context) ([]byte, error) {
		urls, err := pc.sitemapURLs(ctx, sitemapMaxURLs)
		if err != nil {
			return nil, err
		}
		body, err := xml.Marshal(urlSet{Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9", URLs: urls})
		if err != nil {
			return nil, err
		}
		return append([]byte(xml.Header), body...), nil
	})
}

// sitemapURLs collects at most limit URLs. A store contributes its root page
// and every service page, so a single page of stores can overshoot the limit.
func (pc *PublicController) sitemapURLs(ctx context.Context, limit int) ([]sitemapURL, error) {
	var urls []sitemapURL
	stores := pc.store.WithContext(ctx).Stores()
	for offset := 0; len(urls) < limit; offset += sitemapPageSize {
		page, err := stores.ListActive(offset, sitemapPageSize)
		if err != nil {
			return nil, err
		}
		for i := range page {
			lastMod := page[i].UpdatedAt.UTC().Format("2006-01-02")
			for _, p := range page[i].PublicPaths() {
				urls = append(urls, sitemapURL{Loc: pc.baseURL + p, LastMod: lastMod})
			}
		}
		if len(page) < sitemapPageSize {
			break
		}
	}
	if len(urls) > limit {
		urls = urls[:limit]
	}
	return urls, nil
}

func (pc *PublicController) activeStore(ctx context.Context, slug string) (*models.Store, error) {
	store, err := pc.store.WithContext(ctx).Stores().GetBySlug(slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.ErrNotFound
		}
		return nil, err
	}
	if !store.IsActive {
		return nil, fiber.ErrNotFound
	}
	return store, nil
}

// cached serves the render of the current path from the cache, or renders
// it and stores it under tags. Cache failures degrade to an uncached render.
func (pc *PublicController) cached(c *fiber.Ctx, contentType string, tags []string, render func(ctx context.Context) ([]byte, error)) error {
	ctx := c.UserContext()
	path := c.Path()

	if pc.cache != nil {
		body, ok, err := pc.cache.GetRender(ctx, path)
		if err != nil {
			log.Warnf("[Public] Render cache read failed for %s: %v", path, err)
		}
		if ok {
			c.Set(fiber.HeaderContentType, contentType)
			c.Set("X-Cache", "HIT")
			return c.Send(body)
		}
	}

	body, err := render(ctx)
	if err != nil {
		if errors.Is(err, fiber.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "page not found"})
		}
		return respondError(c, err)
	}

	if pc.cache != nil {
		if err := pc.cache.SetRender(ctx, path, body, tags...); err != nil {
			log.Warnf("[Public] Render cache write failed for %s: %v", path, err)
		}
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set("X-Cache", "MISS")
	return c.Send(body)
}
