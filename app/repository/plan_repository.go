package repository

import (
	"github.com/ManuelReschke/StoreFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// planRepository implements the PlanRepository interface
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

// GetByID retrieves a plan by ID, including deactivated plans
func (r *planRepository) GetByID(id uint) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.First(&plan, id).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListActive lists purchasable plans in display order
func (r *planRepository) ListActive() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("is_active = ?", true).Order("sort_order ASC").Order("id ASC").Find(&plans).Error
	return plans, err
}

// Upsert creates or updates a plan by ID
func (r *planRepository) Upsert(plan *models.Plan) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"type",
			"price_monthly",
			"price_yearly",
			"features",
			"is_active",
			"sort_order",
			"updated_at",
		}),
	}).Create(plan).Error
}
