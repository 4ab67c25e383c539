package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/app/repository"
	"github.com/ManuelReschke/StoreFox/internal/pkg/apperror"
	"github.com/ManuelReschke/StoreFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/StoreFox/internal/pkg/metrics"
	"github.com/ManuelReschke/StoreFox/internal/pkg/sideeffects"
)

const maxSlugAttempts = 50

// Dispatcher receives committed transitions. It must not block.
type Dispatcher interface {
	Dispatch(t sideeffects.Transition, store models.Store)
}

// Actor is the verified caller of an operation.
type Actor struct {
	UserID  uint
	IsAdmin bool
}

// CreateStoreInput is the typed input of CreateStore.
type CreateStoreInput struct {
	Name        string `json:"name" validate:"required,min=2,max=150"`
	Slug        string `json:"slug" validate:"omitempty,max=120"`
	Category    string `json:"category" validate:"max=100"`
	City        string `json:"city" validate:"max=100"`
	State       string `json:"state" validate:"max=100"`
	Description string `json:"description" validate:"max=5000"`
}

// ActivateResult is returned by ActivateStore.
type ActivateResult struct {
	Store         *models.Store `json:"store"`
	AlreadyActive bool          `json:"alreadyActive"`
}

// TransferInput is the typed input of TransferStore.
type TransferInput struct {
	StoreID    uint `json:"store_id" validate:"required"`
	FromUserID uint `json:"from_user_id" validate:"required"`
	ToUserID   uint `json:"to_user_id" validate:"required"`
}

// TransferResult is returned by TransferStore.
type TransferResult struct {
	Store    *models.Store         `json:"store"`
	Transfer *models.StoreTransfer `json:"transfer"`
}

// Service is the store lifecycle state machine. Every operation validates
// and commits in one transaction and hands the committed store to the
// dispatcher only after the commit succeeded.
type Service struct {
	store    repository.DataStore
	effects  Dispatcher
	validate *validator.Validate
}

// NewService creates a lifecycle service.
func NewService(store repository.DataStore, effects Dispatcher) *Service {
	return &Service{
		store:    store,
		effects:  effects,
		validate: validator.New(),
	}
}

// CreateStore creates an inactive store for userID if the owned store count
// is below the plan's maxStores.
func (s *Service) CreateStore(ctx context.Context, userID uint, in CreateStoreInput) (*models.Store, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	var created *models.Store
	err := s.store.Transaction(ctx, func(tx repository.UnitOfWork) error {
		if err := lockUser(tx, userID); err != nil {
			return err
		}
		ent, err := entitlements.Evaluate(tx, userID)
		if err != nil {
			return err
		}
		count, err := tx.Stores().CountByUserID(userID)
		if err != nil {
			return err
		}
		if !ent.CanAddStore(count) {
			return apperror.QuotaExceeded("maxStores")
		}

		base := in.Slug
		if base == "" {
			base = in.Name
		}
		storeSlug, err := uniqueSlug(tx.Stores(), base)
		if err != nil {
			return err
		}

		store := &models.Store{
			UserID:       userID,
			Slug:         storeSlug,
			Name:         strings.TrimSpace(in.Name),
			IsActive:     false,
			Category:     strings.TrimSpace(in.Category),
			CategorySlug: slug.Make(in.Category),
			City:         strings.TrimSpace(in.City),
			CitySlug:     slug.Make(in.City),
			State:        strings.TrimSpace(in.State),
			Description:  in.Description,
		}
		if err := tx.Stores().Create(store); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Another owner took the slug between the check and the insert.
				return apperror.InvalidTransition(fmt.Sprintf("slug %q was taken concurrently, retry the request", storeSlug))
			}
			return err
		}
		created = store
		return nil
	})
	record("create", err)
	if err != nil {
		return nil, err
	}
	log.Infof("[Lifecycle] Store %d (%s) created for user %d", created.ID, created.Slug, userID)
	return created, nil
}

// ActivateStore turns an owned inactive store on. Activating an active
// store is a no-op reporting AlreadyActive.
func (s *Service) ActivateStore(ctx context.Context, userID, storeID uint) (*ActivateResult, error) {
	var result ActivateResult
	err := s.store.Transaction(ctx, func(tx repository.UnitOfWork) error {
		if err := lockUser(tx, userID); err != nil {
			return err
		}
		store, err := getStoreForUpdate(tx, storeID)
		if err != nil {
			return err
		}
		if store.UserID != userID {
			return apperror.Forbidden("store is not owned by the caller")
		}
		if store.IsActive {
			result = ActivateResult{Store: store, AlreadyActive: true}
			return nil
		}

		ent, err := entitlements.Evaluate(tx, userID)
		if err != nil {
			return err
		}
		if !ent.HasActiveSubscription {
			return apperror.QuotaExceeded("subscription")
		}
		active, err := tx.Stores().CountActiveByUserID(userID)
		if err != nil {
			return err
		}
		// Activation is capped by the active count, not by the owned count.
		if !ent.CanAddStore(active) {
			return apperror.QuotaExceeded("maxStores")
		}

		if err := tx.Stores().SetActive(store.ID, true); err != nil {
			return err
		}
		store.IsActive = true
		result = ActivateResult{Store: store}
		return nil
	})
	if err != nil {
		record("activate", err)
		return nil, err
	}
	if result.AlreadyActive {
		metrics.LifecycleTransitions.WithLabelValues("activate", "noop").Inc()
		return &result, nil
	}
	record("activate", nil)
	log.Infof("[Lifecycle] Store %d activated by user %d", storeID, userID)
	s.effects.Dispatch(sideeffects.TransitionActivated, *result.Store)
	return &result, nil
}

// DeactivateStore turns a store off. It never needs an entitlement.
func (s *Service) DeactivateStore(ctx context.Context, actor Actor, storeID uint) (*models.Store, error) {
	if !actor.IsAdmin {
		record("deactivate", apperror.ErrForbidden)
		return nil, apperror.Forbidden("admin role required")
	}
	store, err := s.setActive(ctx, storeID, false)
	record("deactivate", err)
	if err != nil {
		return nil, err
	}
	log.Infof("[Lifecycle] Store %d deactivated by admin %d", storeID, actor.UserID)
	s.effects.Dispatch(sideeffects.TransitionDeactivated, *store)
	return store, nil
}

// ToggleStoreStatus is the operator override: it sets isActive without any
// quota or subscription check.
func (s *Service) ToggleStoreStatus(ctx context.Context, actor Actor, storeID uint, isActive bool) (*models.Store, error) {
	if !actor.IsAdmin {
		record("toggle", apperror.ErrForbidden)
		return nil, apperror.Forbidden("admin role required")
	}
	store, err := s.setActive(ctx, storeID, isActive)
	record("toggle", err)
	if err != nil {
		return nil, err
	}
	log.Infof("[Lifecycle] Store %d set to active=%t by admin %d", storeID, isActive, actor.UserID)
	s.effects.Dispatch(sideeffects.TransitionFor(isActive), *store)
	return store, nil
}

func (s *Service) setActive(ctx context.Context, storeID uint, active bool) (*models.Store, error) {
	var store *models.Store
	err := s.store.Transaction(ctx, func(tx repository.UnitOfWork) error {
		st, err := getStoreForUpdate(tx, storeID)
		if err != nil {
			return err
		}
		if err := tx.Stores().SetActive(st.ID, active); err != nil {
			return err
		}
		st.IsActive = active
		store = st
		return nil
	})
	return store, err
}

// TransferStore re-parents a store. Activation is re-evaluated against the
// destination only: the store ends up active exactly when the destination
// has a current subscription and owned fewer than maxStores stores before
// the transfer.
func (s *Service) TransferStore(ctx context.Context, actor Actor, in TransferInput) (*TransferResult, error) {
	if !actor.IsAdmin {
		record("transfer", apperror.ErrForbidden)
		return nil, apperror.Forbidden("admin role required")
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	if in.FromUserID == in.ToUserID {
		return nil, apperror.InvalidTransition("source and destination owner are the same user")
	}

	var (
		result    TransferResult
		wasActive bool
	)
	err := s.store.Transaction(ctx, func(tx repository.UnitOfWork) error {
		// Lock both owners in id order so concurrent transfers cannot deadlock.
		first, second := in.FromUserID, in.ToUserID
		if first > second {
			first, second = second, first
		}
		if err := lockUser(tx, first); err != nil {
			return err
		}
		if err := lockUser(tx, second); err != nil {
			return err
		}

		store, err := getStoreForUpdate(tx, in.StoreID)
		if err != nil {
			return err
		}
		if store.UserID != in.FromUserID {
			return apperror.InvalidTransition(fmt.Sprintf("store %d is not owned by user %d", store.ID, in.FromUserID))
		}
		wasActive = store.IsActive

		ent, err := entitlements.Evaluate(tx, in.ToUserID)
		if err != nil {
			return err
		}
		countBefore, err := tx.Stores().CountByUserID(in.ToUserID)
		if err != nil {
			return err
		}
		shouldActivate := ent.HasActiveSubscription && ent.CanAddStore(countBefore)

		if err := tx.Stores().SetOwner(store.ID, in.ToUserID, shouldActivate); err != nil {
			return err
		}
		transfer := &models.StoreTransfer{
			StoreID:      store.ID,
			FromUserID:   in.FromUserID,
			ToUserID:     in.ToUserID,
			AdminID:      actor.UserID,
			WasActivated: shouldActivate,
		}
		if err := tx.Transfers().Create(transfer); err != nil {
			return err
		}

		store.UserID = in.ToUserID
		store.IsActive = shouldActivate
		result = TransferResult{Store: store, Transfer: transfer}
		return nil
	})
	record("transfer", err)
	if err != nil {
		return nil, err
	}

	log.Infof("[Lifecycle] Store %d transferred from user %d to user %d by admin %d (activated=%t)",
		in.StoreID, in.FromUserID, in.ToUserID, actor.UserID, result.Store.IsActive)
	switch {
	case result.Store.IsActive:
		s.effects.Dispatch(sideeffects.TransitionActivated, *result.Store)
	case wasActive:
		s.effects.Dispatch(sideeffects.TransitionDeactivated, *result.Store)
	}
	return &result, nil
}

// DeleteStore hard-deletes an owned store. Subsequent quota checks see the
// reduced store count.
func (s *Service) DeleteStore(ctx context.Context, userID, storeID uint) error {
	var deleted *models.Store
	err := s.store.Transaction(ctx, func(tx repository.UnitOfWork) error {
		if err := lockUser(tx, userID); err != nil {
			return err
		}
		store, err := getStoreForUpdate(tx, storeID)
		if err != nil {
			return err
		}
		if store.UserID != userID {
			return apperror.Forbidden("store is not owned by the caller")
		}
		if err := tx.Stores().Delete(store.ID); err != nil {
			return err
		}
		deleted = store
		return nil
	})
	record("delete", err)
	if err != nil {
		return err
	}
	log.Infof("[Lifecycle] Store %d (%s) deleted by user %d", deleted.ID, deleted.Slug, userID)
	if deleted.IsActive {
		s.effects.Dispatch(sideeffects.TransitionDeactivated, *deleted)
	}
	return nil
}

// HandleSubscriptionLapse deactivates every active store of a user whose
// subscription stopped being current. It is driven by the billing webhook.
func (s *Service) HandleSubscriptionLapse(ctx context.Context, userID uint) error {
	var stores []models.Store
	err := s.store.Transaction(ctx, func(tx repository.UnitOfWork) error {
		if err := lockUser(tx, userID); err != nil {
			return err
		}
		ent, err := entitlements.Evaluate(tx, userID)
		if err != nil {
			return err
		}
		if ent.HasActiveSubscription {
			// A newer subscription took over; nothing lapsed.
			return nil
		}
		active, err := tx.Stores().ListActiveByUserID(userID)
		if err != nil {
			return err
		}
		for i := range active {
			if err := tx.Stores().SetActive(active[i].ID, false); err != nil {
				return err
			}
			active[i].IsActive = false
		}
		stores = active
		return nil
	})
	record("lapse", err)
	if err != nil {
		return err
	}
	if len(stores) > 0 {
		log.Infof("[Lifecycle] Deactivated %d store(s) of user %d after subscription lapse", len(stores), userID)
	}
	for _, st := range stores {
		s.effects.Dispatch(sideeffects.TransitionDeactivated, st)
	}
	return nil
}

// ListIncomingTransfers returns transfers received by userID, newest first.
func (s *Service) ListIncomingTransfers(ctx context.Context, userID uint, since time.Time) ([]models.StoreTransfer, error) {
	return s.store.WithContext(ctx).Transfers().ListIncoming(userID, since)
}

// GetStore returns a store visible to the actor.
func (s *Service) GetStore(ctx context.Context, actor Actor, storeID uint) (*models.Store, error) {
	store, err := s.store.WithContext(ctx).Stores().GetByID(storeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("store", storeID)
		}
		return nil, err
	}
	if !actor.IsAdmin && store.UserID != actor.UserID {
		return nil, apperror.Forbidden("store is not owned by the caller")
	}
	return store, nil
}

func lockUser(tx repository.UnitOfWork, userID uint) error {
	if _, err := tx.Users().LockByID(userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("user", userID)
		}
		return err
	}
	return nil
}

func getStoreForUpdate(tx repository.UnitOfWork, storeID uint) (*models.Store, error) {
	store, err := tx.Stores().GetByIDForUpdate(storeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("store", storeID)
		}
		return nil, err
	}
	return store, nil
}

func uniqueSlug(stores repository.StoreRepository, base string) (string, error) {
	root := slug.Make(base)
	if root == "" {
		return "", apperror.InvalidTransition("store name does not produce a usable slug")
	}
	for i := 1; i <= maxSlugAttempts; i++ {
		candidate := root
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", root, i)
		}
		exists, err := stores.SlugExists(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free slug for %q after %d attempts", root, maxSlugAttempts)
}

func record(op string, err error) {
	outcome := "committed"
	if err != nil {
		outcome = string(apperror.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.LifecycleTransitions.WithLabelValues(op, outcome).Inc()
}
