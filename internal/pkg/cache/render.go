package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRenderTTL = 6 * time.Hour
	DefaultPrefix    = "storefox:"

	SitemapTag = "sitemap"
)

// StoreTag groups every render of one store.
func StoreTag(slug string) string {
	return "store:" + slug
}

// CategoryTag groups category listings. An empty city addresses the
// listing across all cities.
func CategoryTag(categorySlug, citySlug string) string {
	if citySlug == "" {
		return "category:" + categorySlug
	}
	return "category:" + categorySlug + ":" + citySlug
}

// RenderCache holds rendered public pages keyed by path. Every entry is
// registered under one or more tags and invalidated by tag.
type RenderCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRenderCache creates a render cache on top of a Redis client.
func NewRenderCache(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RenderCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultRenderTTL
	}
	return &RenderCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RenderCache) renderKey(path string) string {
	return c.prefix + "render:" + path
}

func (c *RenderCache) tagKey(tag string) string {
	return c.prefix + "tag:" + tag
}

// SetRender stores a rendered body for path under the given tags.
func (c *RenderCache) SetRender(ctx context.Context, path string, body []byte, tags ...string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.renderKey(path), body, c.ttl)
		for _, tag := range tags {
			pipe.SAdd(ctx, c.tagKey(tag), path)
			// A tag set outlives its entries so stale members are harmless.
			pipe.Expire(ctx, c.tagKey(tag), 2*c.ttl)
		}
		return nil
	})
	return err
}

// GetRender returns the cached body for path. ok is false on a miss.
func (c *RenderCache) GetRender(ctx context.Context, path string) (body []byte, ok bool, err error) {
	body, err = c.rdb.Get(ctx, c.renderKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// InvalidateTag drops every render registered under tag and returns how
// many renders were dropped.
func (c *RenderCache) InvalidateTag(ctx context.Context, tag string) (int64, error) {
	paths, err := c.rdb.SMembers(ctx, c.tagKey(tag)).Result()
	if err != nil {
		return 0, err
	}
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = c.renderKey(p)
	}

	var dropped *redis.IntCmd
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			dropped = pipe.Unlink(ctx, keys...)
		}
		pipe.Del(ctx, c.tagKey(tag))
		return nil
	})
	if err != nil {
		return 0, err
	}
	if dropped == nil {
		return 0, nil
	}
	return dropped.Val(), nil
}

// InvalidateStoreCache drops the renders of one store.
func (c *RenderCache) InvalidateStoreCache(ctx context.Context, slug string) error {
	_, err := c.InvalidateTag(ctx, StoreTag(slug))
	return err
}

// InvalidateCategoryPages drops the category listing and, when citySlug is
// set, the category listing of that city.
func (c *RenderCache) InvalidateCategoryPages(ctx context.Context, categorySlug, citySlug string) error {
	if _, err := c.InvalidateTag(ctx, CategoryTag(categorySlug, "")); err != nil {
		return err
	}
	if citySlug == "" {
		return nil
	}
	_, err := c.InvalidateTag(ctx, CategoryTag(categorySlug, citySlug))
	return err
}

// InvalidateSitemap drops the cached sitemap.
func (c *RenderCache) InvalidateSitemap(ctx context.Context) error {
	_, err := c.InvalidateTag(ctx, SitemapTag)
	return err
}
