package models

import "time"

type PlanType string

const (
	PlanTypeFree         PlanType = "free"
	PlanTypeStarter      PlanType = "starter"
	PlanTypeProfessional PlanType = "professional"
	PlanTypeAgency       PlanType = "agency"
)

// PlanFeaturesVersion is the only feature bundle layout the catalog accepts.
const PlanFeaturesVersion = 1

// PlanFeatures is the quota and feature-flag bundle of a plan.
// AIRewritesPerMonth == nil means unlimited.
type PlanFeatures struct {
	Version            int  `json:"version" yaml:"version" validate:"eq=1"`
	MaxStores          int  `json:"maxStores" yaml:"maxStores" validate:"gte=1"`
	MaxPhotosPerStore  int  `json:"maxPhotosPerStore" yaml:"maxPhotosPerStore" validate:"gte=0"`
	AIRewritesPerMonth *int `json:"aiRewritesPerMonth" yaml:"aiRewritesPerMonth" validate:"omitempty,gte=0"`
	CustomDomain       bool `json:"customDomain" yaml:"customDomain"`
	GMBSync            bool `json:"gmbSync" yaml:"gmbSync"`
	GMBAutoUpdate      bool `json:"gmbAutoUpdate" yaml:"gmbAutoUpdate"`
	UnifiedDashboard   bool `json:"unifiedDashboard" yaml:"unifiedDashboard"`
}

// UnlimitedAIRewrites reports whether the plan has no monthly rewrite ceiling.
func (f PlanFeatures) UnlimitedAIRewrites() bool {
	return f.AIRewritesPerMonth == nil
}

// Plan is a priced tier. Plans are never deleted, only deactivated.
type Plan struct {
	ID           uint         `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name         string       `gorm:"type:varchar(100);not null" json:"name"`
	Type         PlanType     `gorm:"type:varchar(32);not null;index" json:"type"`
	PriceMonthly int64        `gorm:"not null;default:0" json:"price_monthly"`
	PriceYearly  int64        `gorm:"not null;default:0" json:"price_yearly"`
	Features     PlanFeatures `gorm:"type:json;serializer:json;not null" json:"features"`
	IsActive     bool         `gorm:"default:true;index" json:"is_active"`
	SortOrder    int          `gorm:"default:0" json:"sort_order"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}
