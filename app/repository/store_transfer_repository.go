package repository

import (
	"time"

	"github.com/ManuelReschke/StoreFox/app/models"
	"gorm.io/gorm"
)

// storeTransferRepository implements the StoreTransferRepository interface
type storeTransferRepository struct {
	db *gorm.DB
}

// NewStoreTransferRepository creates a new transfer log repository instance
func NewStoreTransferRepository(db *gorm.DB) StoreTransferRepository {
	return &storeTransferRepository{db: db}
}

// Create appends a transfer audit row
func (r *storeTransferRepository) Create(transfer *models.StoreTransfer) error {
	return r.db.Create(transfer).Error
}

// ListIncoming lists transfers received by a user since the given time, newest first
func (r *storeTransferRepository) ListIncoming(toUserID uint, since time.Time) ([]models.StoreTransfer, error) {
	var transfers []models.StoreTransfer
	err := r.db.Where("to_user_id = ? AND created_at >= ?", toUserID, since).
		Order("created_at DESC").
		Find(&transfers).Error
	return transfers, err
}
