package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/app/repository"
	"github.com/ManuelReschke/StoreFox/internal/pkg/apperror"
	"github.com/ManuelReschke/StoreFox/internal/pkg/usage"
	"gorm.io/gorm"
)

const (
	FreeMaxStores         = 1
	FreeMaxPhotosPerStore = 3
	FreePlanName          = "Free"
)

// Entitlements is what a user may currently do. It is derived from the
// current subscription and its plan on every request and never cached.
// AIRewritesPerMonth == nil means unlimited.
type Entitlements struct {
	MaxStores              int             `json:"maxStores"`
	MaxPhotosPerStore      int             `json:"maxPhotosPerStore"`
	AIRewritesPerMonth     *int            `json:"aiRewritesPerMonth"`
	AIRewritesUsed         int             `json:"aiRewritesUsed"`
	CanUseCustomDomain     bool            `json:"canUseCustomDomain"`
	CanUseGmbSync          bool            `json:"canUseGmbSync"`
	CanUseGmbAutoUpdate    bool            `json:"canUseGmbAutoUpdate"`
	CanUseUnifiedDashboard bool            `json:"canUseUnifiedDashboard"`
	HasActiveSubscription  bool            `json:"hasActiveSubscription"`
	PlanType               models.PlanType `json:"planType"`
	PlanName               string          `json:"planName"`
}

// FreeTier is returned for users without a current subscription.
func FreeTier() Entitlements {
	zero := 0
	return Entitlements{
		MaxStores:          FreeMaxStores,
		MaxPhotosPerStore:  FreeMaxPhotosPerStore,
		AIRewritesPerMonth: &zero,
		PlanType:           models.PlanTypeFree,
		PlanName:           FreePlanName,
	}
}

// FromSubscription copies the plan's features verbatim; only the rewrite
// usage comes from the subscription row. A counter whose reset watermark has
// passed at now counts as unused, matching what the next consumption sees.
func FromSubscription(sub *models.Subscription, plan *models.Plan, now time.Time) Entitlements {
	f := plan.Features
	used := sub.AIRewritesUsedThisMonth
	if (usage.Counter{Used: used, ResetAt: sub.AIRewritesResetAt}).Expired(now) {
		used = 0
	}
	var perMonth *int
	if f.AIRewritesPerMonth != nil {
		n := *f.AIRewritesPerMonth
		perMonth = &n
	}
	return Entitlements{
		MaxStores:              f.MaxStores,
		MaxPhotosPerStore:      f.MaxPhotosPerStore,
		AIRewritesPerMonth:     perMonth,
		AIRewritesUsed:         used,
		CanUseCustomDomain:     f.CustomDomain,
		CanUseGmbSync:          f.GMBSync,
		CanUseGmbAutoUpdate:    f.GMBAutoUpdate,
		CanUseUnifiedDashboard: f.UnifiedDashboard,
		HasActiveSubscription:  sub.Status.IsCurrent(),
		PlanType:               plan.Type,
		PlanName:               plan.Name,
	}
}

// UnlimitedAIRewrites reports whether rewrites have no monthly ceiling.
func (e Entitlements) UnlimitedAIRewrites() bool {
	return e.AIRewritesPerMonth == nil
}

// CanAddStore reports whether one more store fits below MaxStores.
// Being exactly at the limit is a hard stop.
func (e Entitlements) CanAddStore(current int64) bool {
	return current < int64(e.MaxStores)
}

// CanAddPhoto reports whether one more photo fits below MaxPhotosPerStore.
func (e Entitlements) CanAddPhoto(current int) bool {
	return current < e.MaxPhotosPerStore
}

// AIRewritesRemaining returns the remaining rewrites; ok is false when unlimited.
func (e Entitlements) AIRewritesRemaining() (remaining int, ok bool) {
	if e.UnlimitedAIRewrites() {
		return 0, false
	}
	remaining = *e.AIRewritesPerMonth - e.AIRewritesUsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Evaluate computes the entitlements of userID using the given unit of work,
// so callers inside a transaction see their own locks and writes.
func Evaluate(uow repository.UnitOfWork, userID uint) (Entitlements, error) {
	return EvaluateAt(uow, userID, time.Now())
}

// EvaluateAt is Evaluate with an explicit clock.
func EvaluateAt(uow repository.UnitOfWork, userID uint, now time.Time) (Entitlements, error) {
	sub, err := uow.Subscriptions().FindCurrentByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return FreeTier(), nil
		}
		return Entitlements{}, err
	}

	plan, err := uow.Plans().GetByID(sub.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// A live subscription pointing at a missing plan is an integrity
			// problem, not something the user can fix.
			return Entitlements{}, fmt.Errorf("subscription %d references missing plan %d: %w", sub.ID, sub.PlanID, err)
		}
		return Entitlements{}, err
	}
	return FromSubscription(sub, plan, now), nil
}

// Service answers entitlement queries outside of lifecycle transactions.
type Service struct {
	store repository.DataStore
	now   func() time.Time
}

// NewService creates an entitlement service from an injected data store.
func NewService(store repository.DataStore) *Service {
	return &Service{store: store, now: time.Now}
}

// SetClock overrides the clock. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// GetEntitlements returns the current entitlements of a user.
func (s *Service) GetEntitlements(ctx context.Context, userID uint) (Entitlements, error) {
	return EvaluateAt(s.store.WithContext(ctx), userID, s.now())
}

// CheckFeatureAccess evaluates a single feature for a user.
func (s *Service) CheckFeatureAccess(ctx context.Context, userID uint, feature Feature) (FeatureAccess, error) {
	uow := s.store.WithContext(ctx)
	ent, err := EvaluateAt(uow, userID, s.now())
	if err != nil {
		return FeatureAccess{}, err
	}
	var storeCount int64
	if feature == FeatureAdditionalStore {
		if storeCount, err = uow.Stores().CountByUserID(userID); err != nil {
			return FeatureAccess{}, err
		}
	}
	return ent.Check(feature, storeCount)
}

// CheckPhotoQuota fails with QuotaExceeded("maxPhotosPerStore") when the
// store already holds as many photos as the owner's plan allows.
func (s *Service) CheckPhotoQuota(ctx context.Context, userID, storeID uint, currentCount int) error {
	uow := s.store.WithContext(ctx)
	store, err := uow.Stores().GetByID(storeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("store", storeID)
		}
		return err
	}
	if store.UserID != userID {
		return apperror.Forbidden("store is not owned by the caller")
	}
	ent, err := EvaluateAt(uow, userID, s.now())
	if err != nil {
		return err
	}
	if !ent.CanAddPhoto(currentCount) {
		return apperror.QuotaExceeded("maxPhotosPerStore")
	}
	return nil
}
