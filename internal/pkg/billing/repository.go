package billing

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/StoreFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	// Transaction runs fn against a repository bound to one transaction.
	Transaction(ctx context.Context, fn func(tx Repository) error) error
	UserExists(userID uint) (bool, error)
	PlanExists(planID uint) (bool, error)
	// UpsertSubscription inserts or updates the mirror row keyed by provider
	// and provider subscription id. The usage counter is never touched.
	UpsertSubscription(sub *models.Subscription) error
	// CancelOtherCurrent cancels every ACTIVE or TRIALING row of the user
	// except keepID and returns how many rows changed.
	CancelOtherCurrent(userID, keepID uint) (int64, error)
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) UserExists(userID uint) (bool, error) {
	return exists(r.db.Model(&models.User{}).Where("id = ?", userID))
}

func (r *gormRepository) PlanExists(planID uint) (bool, error) {
	return exists(r.db.Model(&models.Plan{}).Where("id = ?", planID))
}

func exists(q *gorm.DB) (bool, error) {
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"plan_id",
			"status",
			"cancel_at_period_end",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID and counter columns are populated after upsert.
	return r.db.Where("provider = ? AND provider_subscription_id = ?", sub.Provider, sub.ProviderSubscriptionID).
		First(sub).Error
}

func (r *gormRepository) CancelOtherCurrent(userID, keepID uint) (int64, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("user_id = ? AND id <> ? AND status IN ?", userID, keepID, models.CurrentSubscriptionStatuses).
		Update("status", models.SubscriptionStatusCanceled)
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		if !errors.Is(tx.Error, gorm.ErrDuplicatedKey) {
			return false, nil, tx.Error
		}
	}

	created := tx.Error == nil && tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
