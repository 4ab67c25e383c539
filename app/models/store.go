package models

import (
	"fmt"
	"time"
)

// Store is a published local-business microsite owned by one user.
type Store struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UserID       uint           `gorm:"not null;index" json:"user_id"`
	Slug         string         `gorm:"type:varchar(191);not null;uniqueIndex" json:"slug"`
	Name         string         `gorm:"type:varchar(150);not null" json:"name"`
	IsActive     bool           `gorm:"not null;default:false;index" json:"is_active"`
	Category     string         `gorm:"type:varchar(100)" json:"category"`
	CategorySlug string         `gorm:"type:varchar(120);index:idx_stores_category_city,priority:1" json:"category_slug"`
	City         string         `gorm:"type:varchar(100)" json:"city"`
	CitySlug     string         `gorm:"type:varchar(120);index:idx_stores_category_city,priority:2" json:"city_slug"`
	State        string         `gorm:"type:varchar(100)" json:"state"`
	Description  string         `gorm:"type:text" json:"description"`
	Services     []StoreService `gorm:"constraint:OnDelete:CASCADE" json:"services,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// StoreService is a per-service sub-page of a store.
type StoreService struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	StoreID   uint      `gorm:"not null;index" json:"store_id"`
	Name      string    `gorm:"type:varchar(150);not null" json:"name"`
	Slug      string    `gorm:"type:varchar(191);not null" json:"slug"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublicPaths returns the public page paths of the store: the root page
// followed by every active service page.
func (s *Store) PublicPaths() []string {
	paths := []string{fmt.Sprintf("/s/%s", s.Slug)}
	for _, svc := range s.Services {
		if !svc.IsActive {
			continue
		}
		paths = append(paths, fmt.Sprintf("/s/%s/services/%s", s.Slug, svc.Slug))
	}
	return paths
}

// Snapshot returns a copy safe to hand to another goroutine.
func (s *Store) Snapshot() Store {
	cp := *s
	cp.Services = append([]StoreService(nil), s.Services...)
	return cp
}
