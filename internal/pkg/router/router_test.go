package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/StoreFox/app/controllers"
	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/app/repository/memory"
	"github.com/ManuelReschke/StoreFox/internal/pkg/cache"
	"github.com/ManuelReschke/StoreFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/StoreFox/internal/pkg/lifecycle"
	"github.com/ManuelReschke/StoreFox/internal/pkg/middleware"
	"github.com/ManuelReschke/StoreFox/internal/pkg/sideeffects"
	"github.com/ManuelReschke/StoreFox/internal/pkg/usage"
)

const upstreamToken = "gateway-secret"

// pageCache is an in-process render cache with tag invalidation.
type pageCache struct {
	mu     sync.Mutex
	bodies map[string][]byte
	tags   map[string][]string
}

func newPageCache() *pageCache {
	return &pageCache{bodies: map[string][]byte{}, tags: map[string][]string{}}
}

func (p *pageCache) GetRender(_ context.Context, path string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bodies[path]
	return b, ok, nil
}

func (p *pageCache) SetRender(_ context.Context, path string, body []byte, tags ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies[path] = body
	for _, t := range tags {
		p.tags[t] = append(p.tags[t], path)
	}
	return nil
}

func (p *pageCache) drop(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, path := range p.tags[tag] {
		delete(p.bodies, path)
	}
	delete(p.tags, tag)
}

func (p *pageCache) InvalidateStoreCache(_ context.Context, slug string) error {
	p.drop(cache.StoreTag(slug))
	return nil
}

func (p *pageCache) InvalidateCategoryPages(_ context.Context, category, city string) error {
	p.drop(cache.CategoryTag(category, ""))
	if city != "" {
		p.drop(cache.CategoryTag(category, city))
	}
	return nil
}

func (p *pageCache) InvalidateSitemap(context.Context) error {
	p.drop(cache.SitemapTag)
	return nil
}

type notifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *notifier) NotifyURLChanged(_ context.Context, url string, kind sideeffects.ChangeKind) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, string(kind)+" "+url)
	return nil
}

func (n *notifier) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

type testEnv struct {
	app      *fiber.App
	data     *memory.Store
	effects  *sideeffects.Coordinator
	notifier *notifier
	alice    models.User
	bob      models.User
	admin    models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	data := memory.New()
	rewrites := 1
	data.AddPlan(models.Plan{
		ID: 1, Name: "Starter", Type: models.PlanTypeStarter, IsActive: true, SortOrder: 1,
		Features: models.PlanFeatures{Version: 1, MaxStores: 1, MaxPhotosPerStore: 2, AIRewritesPerMonth: &rewrites},
	})
	env := &testEnv{
		data:     data,
		notifier: &notifier{},
		alice:    data.AddUser(models.User{Name: "alice", Role: models.ROLE_USER}),
		bob:      data.AddUser(models.User{Name: "bob", Role: models.ROLE_USER}),
		admin:    data.AddUser(models.User{Name: "root", Role: models.ROLE_ADMIN}),
	}

	pages := newPageCache()
	env.effects = sideeffects.NewCoordinator(env.notifier, pages, sideeffects.Config{BaseURL: "https://storefox.test"})
	lc := lifecycle.NewService(data, env.effects)

	env.app = fiber.New()
	InstallRouter(env.app, Dependencies{
		Users:         data.WithContext(context.Background()).Users(),
		UpstreamToken: upstreamToken,
		Stores:        controllers.NewStoreController(lc, entitlements.NewService(data), usage.NewService(data)),
		Admin:         controllers.NewAdminController(lc, env.effects, pages),
		Billing:       controllers.NewBillingController(nil, data),
		Public:        controllers.NewPublicController(data, pages, "https://storefox.test"),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, as *models.User, body string) (int, map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if as != nil {
		req.Header.Set(middleware.HeaderUserID, strconv.FormatUint(uint64(as.ID), 10))
		req.Header.Set(middleware.HeaderUpstreamToken, upstreamToken)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	rec.Code = resp.StatusCode
	rec.Body.Write(raw)
	for k, v := range resp.Header {
		rec.Header()[k] = v
	}

	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return resp.StatusCode, decoded, rec
}

func (e *testEnv) subscribe(u models.User) {
	e.data.AddSubscription(models.Subscription{UserID: u.ID, PlanID: 1, Status: models.SubscriptionStatusActive})
}

func TestAPI_RequiresVerifiedCaller(t *testing.T) {
	env := newTestEnv(t)

	status, body, _ := env.do(t, fiber.MethodGet, "/api/v1/entitlements", nil, "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/entitlements", nil)
	req.Header.Set(middleware.HeaderUserID, "1")
	req.Header.Set(middleware.HeaderUpstreamToken, "forged")
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_Entitlements(t *testing.T) {
	env := newTestEnv(t)

	status, body, _ := env.do(t, fiber.MethodGet, "/api/v1/entitlements", &env.alice, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["hasActiveSubscription"])
	assert.Equal(t, "free", body["planType"])

	env.subscribe(env.alice)
	status, body, _ = env.do(t, fiber.MethodGet, "/api/v1/entitlements", &env.alice, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["hasActiveSubscription"])
	assert.Equal(t, float64(1), body["maxStores"])

	status, body, _ = env.do(t, fiber.MethodGet, "/api/v1/entitlements/features/teleport", &env.alice, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "bad_request", body["error"])

	status, body, _ = env.do(t, fiber.MethodGet, "/api/v1/entitlements/features/custom_domain", &env.alice, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["allowed"])
}

func TestAPI_StoreLifecycleAndPublicPages(t *testing.T) {
	env := newTestEnv(t)

	status, body, _ := env.do(t, fiber.MethodPost, "/api/v1/stores", &env.alice, `{"name":"Corner Bakery","category":"Bakery","city":"Berlin"}`)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "corner-bakery", body["slug"])
	assert.Equal(t, false, body["is_active"])
	id := strconv.Itoa(int(body["id"].(float64)))

	// No subscription: the store cannot go live.
	status, body, _ = env.do(t, fiber.MethodPost, "/api/v1/stores/"+id+"/activate", &env.alice, "")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "quota_exceeded", body["error"])

	status, _, _ = env.do(t, fiber.MethodGet, "/s/corner-bakery", nil, "")
	assert.Equal(t, fiber.StatusNotFound, status)

	env.subscribe(env.alice)
	status, body, _ = env.do(t, fiber.MethodPost, "/api/v1/stores/"+id+"/activate", &env.alice, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["alreadyActive"])
	env.effects.Wait()
	assert.Contains(t, env.notifier.Calls(), "updated https://storefox.test/s/corner-bakery")

	// Bob may neither read nor delete Alice's store.
	status, body, _ = env.do(t, fiber.MethodGet, "/api/v1/stores/"+id, &env.bob, "")
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["error"])
	status, _, _ = env.do(t, fiber.MethodDelete, "/api/v1/stores/"+id, &env.bob, "")
	assert.Equal(t, fiber.StatusForbidden, status)

	_, _, rec := env.do(t, fiber.MethodGet, "/s/corner-bakery", nil, "")
	require.Equal(t, fiber.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	_, _, rec = env.do(t, fiber.MethodGet, "/s/corner-bakery", nil, "")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	_, _, rec = env.do(t, fiber.MethodGet, "/c/bakery/berlin", nil, "")
	require.Equal(t, fiber.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "corner-bakery")

	_, _, rec = env.do(t, fiber.MethodGet, "/sitemap.xml", nil, "")
	require.Equal(t, fiber.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<loc>https://storefox.test/s/corner-bakery</loc>")

	// Deactivation invalidates the cached renders once the side effects ran.
	status, _, _ = env.do(t, fiber.MethodPost, "/api/v1/admin/stores/"+id+"/deactivate", &env.admin, "")
	require.Equal(t, fiber.StatusOK, status)
	env.effects.Wait()
	assert.Contains(t, env.notifier.Calls(), "deleted https://storefox.test/s/corner-bakery")

	status, _, _ = env.do(t, fiber.MethodGet, "/s/corner-bakery", nil, "")
	assert.Equal(t, fiber.StatusNotFound, status)
	_, _, rec = env.do(t, fiber.MethodGet, "/sitemap.xml", nil, "")
	assert.NotContains(t, rec.Body.String(), "corner-bakery")

	status, _, _ = env.do(t, fiber.MethodDelete, "/api/v1/stores/"+id, &env.alice, "")
	assert.Equal(t, fiber.StatusNoContent, status)
	status, _, _ = env.do(t, fiber.MethodGet, "/api/v1/stores/"+id, &env.alice, "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAPI_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	status, body, _ := env.do(t, fiber.MethodPost, "/api/v1/stores", &env.alice, `{"name":"x"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", body["error"])

	status, _, _ = env.do(t, fiber.MethodPost, "/api/v1/stores/abc/activate", &env.alice, "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _, _ = env.do(t, fiber.MethodGet, "/api/v1/transfers/incoming?since=yesterday", &env.alice, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAPI_AdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(env.alice)
	store := env.data.AddStore(models.Store{UserID: env.alice.ID, Slug: "shop", Name: "Shop", IsActive: true})
	id := strconv.Itoa(int(store.ID))

	status, body, _ := env.do(t, fiber.MethodPost, "/api/v1/admin/stores/"+id+"/deactivate", &env.alice, "")
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["error"])

	status, body, _ = env.do(t, fiber.MethodPost, "/api/v1/admin/stores/"+id+"/reindex", &env.admin, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "activated", body["transition"])
	assert.Len(t, body["urls"], 1)

	status, _, _ = env.do(t, fiber.MethodPost, "/api/v1/admin/stores/"+id+"/status", &env.admin, `{}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body, _ = env.do(t, fiber.MethodPost, "/api/v1/admin/stores/"+id+"/status", &env.admin, `{"is_active":false}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["is_active"])

	transfer := `{"from_user_id":` + strconv.Itoa(int(env.alice.ID)) + `,"to_user_id":` + strconv.Itoa(int(env.bob.ID)) + `}`
	status, body, _ = env.do(t, fiber.MethodPost, "/api/v1/admin/stores/"+id+"/transfer", &env.admin, transfer)
	require.Equal(t, fiber.StatusOK, status)
	assert.NotNil(t, body["transfer"])

	status, body, _ = env.do(t, fiber.MethodGet, "/api/v1/transfers/incoming", &env.bob, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["transfers"], 1)

	status, _, _ = env.do(t, fiber.MethodPost, "/api/v1/admin/stores/"+id+"/transfer", &env.admin, transfer)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, _, _ = env.do(t, fiber.MethodPost, "/api/v1/admin/sitemap/invalidate", &env.admin, "")
	assert.Equal(t, fiber.StatusOK, status)
	env.effects.Wait()
}

func TestAPI_MeteringAndQuotas(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(env.alice)
	store := env.data.AddStore(models.Store{UserID: env.alice.ID, Slug: "shop", Name: "Shop"})
	id := strconv.Itoa(int(store.ID))

	status, body, _ := env.do(t, fiber.MethodPost, "/api/v1/ai/rewrites/consume", &env.alice, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["used"])

	status, body, _ = env.do(t, fiber.MethodPost, "/api/v1/ai/rewrites/consume", &env.alice, "")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "aiRewrites", body["resource"])

	status, _, _ = env.do(t, fiber.MethodGet, "/api/v1/stores/"+id+"/photos/quota?count=1", &env.alice, "")
	assert.Equal(t, fiber.StatusOK, status)
	status, body, _ = env.do(t, fiber.MethodGet, "/api/v1/stores/"+id+"/photos/quota?count=2", &env.alice, "")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "maxPhotosPerStore", body["resource"])
	status, _, _ = env.do(t, fiber.MethodGet, "/api/v1/stores/"+id+"/photos/quota?count=-1", &env.alice, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAPI_ListPlansIsPublic(t *testing.T) {
	env := newTestEnv(t)

	status, body, _ := env.do(t, fiber.MethodGet, "/api/v1/plans", nil, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["plans"], 1)
}
