package entitlements

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/app/repository/memory"
	"github.com/ManuelReschke/StoreFox/internal/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

var (
	testNow   = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	nextReset = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
)

func proPlan() models.Plan {
	return models.Plan{
		ID:       2,
		Name:     "Professional",
		Type:     models.PlanTypeProfessional,
		IsActive: true,
		Features: models.PlanFeatures{
			Version:            models.PlanFeaturesVersion,
			MaxStores:          3,
			MaxPhotosPerStore:  25,
			AIRewritesPerMonth: intPtr(20),
			CustomDomain:       true,
			GMBSync:            true,
		},
	}
}

func TestEvaluate_NoSubscriptionIsFreeTier(t *testing.T) {
	store := memory.New()
	user := store.AddUser(models.User{Name: "alice"})

	ent, err := NewService(store).GetEntitlements(context.Background(), user.ID)
	require.NoError(t, err)

	assert.Equal(t, FreeTier(), ent)
	assert.Equal(t, 1, ent.MaxStores)
	assert.Equal(t, 3, ent.MaxPhotosPerStore)
	require.NotNil(t, ent.AIRewritesPerMonth)
	assert.Equal(t, 0, *ent.AIRewritesPerMonth)
	assert.False(t, ent.HasActiveSubscription)
	assert.False(t, ent.CanUseCustomDomain || ent.CanUseGmbSync || ent.CanUseGmbAutoUpdate || ent.CanUseUnifiedDashboard)
}

func TestEvaluate_CanceledSubscriptionIsFreeTier(t *testing.T) {
	store := memory.New()
	store.AddPlan(proPlan())
	user := store.AddUser(models.User{Name: "alice"})
	store.AddSubscription(models.Subscription{UserID: user.ID, PlanID: 2, Status: models.SubscriptionStatusCanceled})

	ent, err := NewService(store).GetEntitlements(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, FreeTier(), ent)
}

func TestEvaluate_CopiesPlanFeatures(t *testing.T) {
	store := memory.New()
	store.AddPlan(proPlan())
	user := store.AddUser(models.User{Name: "alice"})
	store.AddSubscription(models.Subscription{
		UserID:                  user.ID,
		PlanID:                  2,
		Status:                  models.SubscriptionStatusTrialing,
		AIRewritesUsedThisMonth: 7,
		AIRewritesResetAt:       &nextReset,
	})

	svc := NewService(store)
	svc.SetClock(func() time.Time { return testNow })
	ent, err := svc.GetEntitlements(context.Background(), user.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, ent.MaxStores)
	assert.Equal(t, 25, ent.MaxPhotosPerStore)
	assert.Equal(t, 20, *ent.AIRewritesPerMonth)
	assert.Equal(t, 7, ent.AIRewritesUsed)
	assert.True(t, ent.CanUseCustomDomain)
	assert.True(t, ent.CanUseGmbSync)
	assert.False(t, ent.CanUseGmbAutoUpdate)
	assert.True(t, ent.HasActiveSubscription)
	assert.Equal(t, models.PlanTypeProfessional, ent.PlanType)
	assert.Equal(t, "Professional", ent.PlanName)
}

func TestEvaluate_MissingPlanIsIntegrityError(t *testing.T) {
	store := memory.New()
	user := store.AddUser(models.User{Name: "alice"})
	store.AddSubscription(models.Subscription{UserID: user.ID, PlanID: 99, Status: models.SubscriptionStatusActive})

	_, err := NewService(store).GetEntitlements(context.Background(), user.ID)
	require.Error(t, err)
	assert.Equal(t, apperror.Kind(""), apperror.KindOf(err))
}

func TestUnlimitedRewritesAreNeverZero(t *testing.T) {
	plan := proPlan()
	plan.Features.AIRewritesPerMonth = nil
	ent := FromSubscription(&models.Subscription{Status: models.SubscriptionStatusActive, AIRewritesUsedThisMonth: 10_000}, &plan, testNow)

	assert.True(t, ent.UnlimitedAIRewrites())
	_, limited := ent.AIRewritesRemaining()
	assert.False(t, limited)

	access, err := ent.Check(FeatureAIRewrites, 0)
	require.NoError(t, err)
	assert.True(t, access.Allowed)
}

func TestCanAddStoreIsStrict(t *testing.T) {
	ent := Entitlements{MaxStores: 2}
	assert.True(t, ent.CanAddStore(1))
	assert.False(t, ent.CanAddStore(2))
	assert.False(t, ent.CanAddStore(3))
}

func TestCheck(t *testing.T) {
	plan := proPlan()
	ent := FromSubscription(&models.Subscription{
		Status:                  models.SubscriptionStatusActive,
		AIRewritesUsedThisMonth: 20,
		AIRewritesResetAt:       &nextReset,
	}, &plan, testNow)

	tests := []struct {
		feature    Feature
		storeCount int64
		allowed    bool
	}{
		{feature: FeatureCustomDomain, allowed: true},
		{feature: FeatureGmbSync, allowed: true},
		{feature: FeatureGmbAutoUpdate, allowed: false},
		{feature: FeatureUnifiedDashboard, allowed: false},
		{feature: FeatureAIRewrites, allowed: false},
		{feature: FeatureAdditionalStore, storeCount: 2, allowed: true},
		{feature: FeatureAdditionalStore, storeCount: 3, allowed: false},
	}

	for _, tt := range tests {
		access, err := ent.Check(tt.feature, tt.storeCount)
		require.NoError(t, err)
		if access.Allowed != tt.allowed {
			t.Fatalf("Check(%s, %d).Allowed = %v, want %v", tt.feature, tt.storeCount, access.Allowed, tt.allowed)
		}
		if !access.Allowed && access.Reason == "" {
			t.Fatalf("Check(%s) denied without a reason", tt.feature)
		}
		assert.Equal(t, "Professional", access.PlanName)
	}

	_, err := ent.Check(Feature("teleport"), 0)
	assert.True(t, errors.Is(err, ErrUnknownFeature))
}

func TestCheck_ExpiredRewriteCounterCountsAsUnused(t *testing.T) {
	plan := proPlan()
	lastReset := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := models.Subscription{
		Status:                  models.SubscriptionStatusActive,
		AIRewritesUsedThisMonth: 20,
		AIRewritesResetAt:       &lastReset,
	}

	full := FromSubscription(&sub, &plan, lastReset.Add(-time.Minute))
	access, err := full.Check(FeatureAIRewrites, 0)
	require.NoError(t, err)
	assert.False(t, access.Allowed)

	rolled := FromSubscription(&sub, &plan, lastReset)
	assert.Equal(t, 0, rolled.AIRewritesUsed)
	access, err = rolled.Check(FeatureAIRewrites, 0)
	require.NoError(t, err)
	assert.True(t, access.Allowed)

	store := memory.New()
	store.AddPlan(plan)
	user := store.AddUser(models.User{Name: "alice"})
	sub.UserID = user.ID
	sub.PlanID = plan.ID
	store.AddSubscription(sub)

	svc := NewService(store)
	svc.SetClock(func() time.Time { return testNow })
	access, err = svc.CheckFeatureAccess(context.Background(), user.ID, FeatureAIRewrites)
	require.NoError(t, err)
	assert.True(t, access.Allowed)
}

func TestCheckPhotoQuota(t *testing.T) {
	store := memory.New()
	alice := store.AddUser(models.User{Name: "alice"})
	bob := store.AddUser(models.User{Name: "bob"})
	shop := store.AddStore(models.Store{UserID: alice.ID, Slug: "bakery", Name: "Bakery"})
	svc := NewService(store)
	ctx := context.Background()

	assert.NoError(t, svc.CheckPhotoQuota(ctx, alice.ID, shop.ID, 2))
	assert.ErrorIs(t, svc.CheckPhotoQuota(ctx, alice.ID, shop.ID, 3), apperror.ErrQuotaExceeded)
	assert.ErrorIs(t, svc.CheckPhotoQuota(ctx, bob.ID, shop.ID, 0), apperror.ErrForbidden)
	assert.ErrorIs(t, svc.CheckPhotoQuota(ctx, alice.ID, 404, 0), apperror.ErrNotFound)
}

func TestParseFeature(t *testing.T) {
	f, err := ParseFeature("custom_domain")
	require.NoError(t, err)
	assert.Equal(t, FeatureCustomDomain, f)

	_, err = ParseFeature("nope")
	assert.ErrorIs(t, err, ErrUnknownFeature)
}
