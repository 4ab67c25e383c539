package sideeffects

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/internal/pkg/apperror"
	"github.com/ManuelReschke/StoreFox/internal/pkg/metrics"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultWorkers        = 4
	DefaultURLConcurrency = 4
)

// Transition is a committed store lifecycle change that has to be propagated.
type Transition string

const (
	TransitionActivated   Transition = "activated"
	TransitionDeactivated Transition = "deactivated"
)

// ChangeKind is what the search indexer is told about a URL.
type ChangeKind string

const (
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeKind maps a transition onto the indexer notification kind.
func (t Transition) ChangeKind() ChangeKind {
	if t == TransitionActivated {
		return ChangeUpdated
	}
	return ChangeDeleted
}

// TransitionFor returns the transition matching a store's activation flag.
func TransitionFor(isActive bool) Transition {
	if isActive {
		return TransitionActivated
	}
	return TransitionDeactivated
}

// Notifier tells the external search indexer that a URL changed.
// Implementations must be idempotent.
type Notifier interface {
	NotifyURLChanged(ctx context.Context, url string, kind ChangeKind) error
}

// CacheInvalidator marks cached renders stale.
type CacheInvalidator interface {
	InvalidateStoreCache(ctx context.Context, slug string) error
	InvalidateCategoryPages(ctx context.Context, categorySlug, citySlug string) error
	InvalidateSitemap(ctx context.Context) error
}

// Config controls the coordinator. Zero values fall back to the defaults.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	Workers        int
	URLConcurrency int
}

// URLResult is the outcome of one indexer notification.
type URLResult struct {
	URL   string     `json:"url"`
	Kind  ChangeKind `json:"kind"`
	Error string     `json:"error,omitempty"`
}

// Report summarises one propagation run.
type Report struct {
	DispatchID  string      `json:"dispatch_id"`
	Transition  Transition  `json:"transition"`
	StoreID     uint        `json:"store_id"`
	URLs        []URLResult `json:"urls"`
	CacheErrors []string    `json:"cache_errors,omitempty"`
}

// Failed returns the number of failed notifications and cache invalidations.
func (r Report) Failed() int {
	n := len(r.CacheErrors)
	for _, u := range r.URLs {
		if u.Error != "" {
			n++
		}
	}
	return n
}

// Coordinator propagates committed transitions to the indexer and the render
// cache. Failures are logged and counted, never returned to the lifecycle
// caller, and never retried.
type Coordinator struct {
	notifier Notifier
	cache    CacheInvalidator
	cfg      Config
	slots    chan struct{}
	wg       sync.WaitGroup
}

// NewCoordinator creates a coordinator.
func NewCoordinator(notifier Notifier, cache CacheInvalidator, cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.URLConcurrency <= 0 {
		cfg.URLConcurrency = DefaultURLConcurrency
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Coordinator{
		notifier: notifier,
		cache:    cache,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.Workers),
	}
}

// StoreURLs returns the absolute public URLs of a store.
func (c *Coordinator) StoreURLs(store models.Store) []string {
	paths := store.PublicPaths()
	urls := make([]string, len(paths))
	for i, p := range paths {
		urls[i] = c.cfg.BaseURL + p
	}
	return urls
}

// Dispatch propagates a committed transition in the background and returns
// immediately. The run is detached from the caller's context. Each phase is
// bounded by the configured timeout.
func (c *Coordinator) Dispatch(t Transition, store models.Store) {
	snapshot := store.Snapshot()
	id := uuid.NewString()

	c.wg.Add(1)
	metrics.SideEffectsInFlight.Inc()
	go func() {
		defer c.wg.Done()
		defer metrics.SideEffectsInFlight.Dec()
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("[SideEffects] dispatch panicked",
					"dispatch_id", id, "store_id", snapshot.ID, "transition", t, "panic", r)
			}
		}()

		c.slots <- struct{}{}
		defer func() { <-c.slots }()

		report := c.run(context.Background(), id, t, snapshot, c.StoreURLs(snapshot))
		if report.Failed() > 0 {
			log.Warnf("[SideEffects] dispatch %s for store %d (%s) finished with %d failure(s)", id, snapshot.ID, t, report.Failed())
		} else {
			log.Debugf("[SideEffects] dispatch %s for store %d (%s) done", id, snapshot.ID, t)
		}
	}()
}

// Notify propagates a transition synchronously for the given URLs. It is the
// body of Dispatch and the operator recovery path.
func (c *Coordinator) Notify(ctx context.Context, t Transition, store models.Store, urls []string) Report {
	return c.run(ctx, uuid.NewString(), t, store, urls)
}

// Reindex re-sends the notification matching the store's current state for
// all of its URLs and invalidates its cached renders.
func (c *Coordinator) Reindex(ctx context.Context, store models.Store) Report {
	return c.Notify(ctx, TransitionFor(store.IsActive), store, c.StoreURLs(store))
}

// Purge only invalidates the cached renders of a store.
func (c *Coordinator) Purge(ctx context.Context, store models.Store) Report {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	id := uuid.NewString()
	return Report{
		DispatchID:  id,
		Transition:  TransitionFor(store.IsActive),
		StoreID:     store.ID,
		URLs:        []URLResult{},
		CacheErrors: c.invalidate(ctx, id, store),
	}
}

// Wait blocks until every detached dispatch has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// run gives the indexer and the cache their own deadline so a hanging
// indexer cannot leave cached pages stale.
func (c *Coordinator) run(ctx context.Context, id string, t Transition, store models.Store, urls []string) Report {
	report := Report{DispatchID: id, Transition: t, StoreID: store.ID}

	notifyCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	report.URLs = c.notifyURLs(notifyCtx, id, t, store.ID, urls)
	cancel()

	cacheCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	report.CacheErrors = c.invalidate(cacheCtx, id, store)
	cancel()

	return report
}

func (c *Coordinator) notifyURLs(ctx context.Context, id string, t Transition, storeID uint, urls []string) []URLResult {
	kind := t.ChangeKind()
	results := make([]URLResult, len(urls))

	var g errgroup.Group
	g.SetLimit(c.cfg.URLConcurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			results[i] = URLResult{URL: u, Kind: kind}
			err := c.notifier.NotifyURLChanged(ctx, u, kind)
			if err == nil {
				metrics.SideEffects.WithLabelValues("index", "ok").Inc()
				return nil
			}
			if !errors.Is(err, apperror.ErrExternalNotificationFailed) {
				err = apperror.NotificationFailed(u, string(kind), err)
			}
			results[i].Error = err.Error()
			metrics.SideEffects.WithLabelValues("index", "failed").Inc()
			log.Errorw("[SideEffects] index notification failed",
				"dispatch_id", id, "store_id", storeID, "transition", t, "url", u, "kind", kind, "error", err)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Coordinator) invalidate(ctx context.Context, id string, store models.Store) []string {
	type step struct {
		name string
		fn   func() error
	}
	steps := []step{
		{"store", func() error { return c.cache.InvalidateStoreCache(ctx, store.Slug) }},
	}
	if store.CategorySlug != "" {
		steps = append(steps, step{"category", func() error {
			return c.cache.InvalidateCategoryPages(ctx, store.CategorySlug, store.CitySlug)
		}})
	}
	steps = append(steps, step{"sitemap", func() error { return c.cache.InvalidateSitemap(ctx) }})

	var failures []string
	for _, s := range steps {
		if err := s.fn(); err != nil {
			metrics.SideEffects.WithLabelValues("cache", "failed").Inc()
			log.Errorw("[SideEffects] cache invalidation failed",
				"dispatch_id", id, "store_id", store.ID, "slug", store.Slug, "scope", s.name, "error", err)
			failures = append(failures, s.name+": "+err.Error())
			continue
		}
		metrics.SideEffects.WithLabelValues("cache", "ok").Inc()
	}
	return failures
}
