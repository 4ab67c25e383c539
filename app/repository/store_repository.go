package repository

import (
	"github.com/ManuelReschke/StoreFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// storeRepository implements the StoreRepository interface
type storeRepository struct {
	db *gorm.DB
}

// NewStoreRepository creates a new store repository instance
func NewStoreRepository(db *gorm.DB) StoreRepository {
	return &storeRepository{db: db}
}

// Create inserts a new store. A slug collision surfaces as gorm.ErrDuplicatedKey.
func (r *storeRepository) Create(store *models.Store) error {
	return r.db.Create(store).Error
}

// GetByID retrieves a store with its service pages
func (r *storeRepository) GetByID(id uint) (*models.Store, error) {
	var store models.Store
	err := r.db.Preload("Services").First(&store, id).Error
	if err != nil {
		return nil, err
	}
	return &store, nil
}

// GetByIDForUpdate retrieves a store and locks its row until the transaction ends
func (r *storeRepository) GetByIDForUpdate(id uint) (*models.Store, error) {
	var store models.Store
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&store, id).Error
	if err != nil {
		return nil, err
	}
	if err := r.db.Where("store_id = ?", store.ID).Find(&store.Services).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

// GetBySlug retrieves a store by its public slug
func (r *storeRepository) GetBySlug(slug string) (*models.Store, error) {
	var store models.Store
	err := r.db.Preload("Services").Where("slug = ?", slug).First(&store).Error
	if err != nil {
		return nil, err
	}
	return &store, nil
}

// SlugExists checks if a slug is already taken
func (r *storeRepository) SlugExists(slug string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Store{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

// CountByUserID counts all stores owned by a user
func (r *storeRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Store{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// CountActiveByUserID counts the active stores owned by a user
func (r *storeRepository) CountActiveByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Store{}).Where("user_id = ? AND is_active = ?", userID, true).Count(&count).Error
	return count, err
}

// ListActiveByUserID lists a user's active stores with their service pages
func (r *storeRepository) ListActiveByUserID(userID uint) ([]models.Store, error) {
	var stores []models.Store
	err := r.db.Preload("Services").
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("id ASC").
		Find(&stores).Error
	return stores, err
}

// ListActive pages through all active stores
func (r *storeRepository) ListActive(offset, limit int) ([]models.Store, error) {
	var stores []models.Store
	err := r.db.Preload("Services").
		Where("is_active = ?", true).
		Order("id ASC").
		Offset(offset).Limit(limit).
		Find(&stores).Error
	return stores, err
}

// ListActiveByCategory lists active stores of a category, optionally
// narrowed to one city
func (r *storeRepository) ListActiveByCategory(categorySlug, citySlug string, offset, limit int) ([]models.Store, error) {
	q := r.db.Preload("Services").Where("is_active = ? AND category_slug = ?", true, categorySlug)
	if citySlug != "" {
		q = q.Where("city_slug = ?", citySlug)
	}
	var stores []models.Store
	err := q.Order("name ASC").Order("id ASC").Offset(offset).Limit(limit).Find(&stores).Error
	return stores, err
}

// SetActive updates the activation flag of a store
func (r *storeRepository) SetActive(id uint, active bool) error {
	return r.db.Model(&models.Store{}).Where("id = ?", id).Update("is_active", active).Error
}

// SetOwner re-parents a store and sets its activation flag in one statement
func (r *storeRepository) SetOwner(id, userID uint, active bool) error {
	return r.db.Model(&models.Store{}).Where("id = ?", id).Updates(map[string]interface{}{
		"user_id":   userID,
		"is_active": active,
	}).Error
}

// Delete hard-deletes a store; service pages cascade
func (r *storeRepository) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("store_id = ?", id).Delete(&models.StoreService{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Store{}, id).Error
	})
}
