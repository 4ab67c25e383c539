package repository

import (
	"time"

	"github.com/ManuelReschke/StoreFox/app/models"
	"gorm.io/gorm"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create inserts a subscription row
func (r *subscriptionRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

// GetByID retrieves a subscription by ID
func (r *subscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.First(&sub, id).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindCurrentByUserID uses idx_subscriptions_user_status_created
func (r *subscriptionRepository) FindCurrentByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND status IN ?", userID, models.CurrentSubscriptionStatuses).
		Order("created_at DESC").
		Order("id DESC").
		Limit(1).
		Take(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CompareAndSwapUsage performs a conditional update keyed on usage_version
func (r *subscriptionRepository) CompareAndSwapUsage(id uint, expectedVersion uint64, used int, resetAt *time.Time) (bool, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND usage_version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"ai_rewrites_used_this_month": used,
			"ai_rewrites_reset_at":        resetAt,
			"usage_version":               gorm.Expr("usage_version + 1"),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}
