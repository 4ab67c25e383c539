package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// CurrentSubscriptionStatuses are the statuses a user's current subscription may have.
var CurrentSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusTrialing,
}

// IsCurrent reports whether the status makes a subscription the user's current one.
func (s SubscriptionStatus) IsCurrent() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Subscription mirrors the payment provider's subscription object. Rows are
// never deleted; the current subscription of a user is the most recent row
// in ACTIVE or TRIALING.
type Subscription struct {
	ID                      uint               `gorm:"primaryKey" json:"id"`
	UserID                  uint               `gorm:"not null;index:idx_subscriptions_user_status_created,priority:1" json:"user_id"`
	PlanID                  uint               `gorm:"not null;index" json:"plan_id"`
	Provider                string             `gorm:"type:varchar(20);not null;default:'stripe';index:ux_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID  string             `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	Status                  SubscriptionStatus `gorm:"type:varchar(16);not null;index:idx_subscriptions_user_status_created,priority:2" json:"status"`
	CancelAtPeriodEnd       *time.Time         `gorm:"type:timestamp;default:null" json:"cancel_at_period_end,omitempty"`
	AIRewritesUsedThisMonth int                `gorm:"not null;default:0" json:"ai_rewrites_used_this_month"`
	AIRewritesResetAt       *time.Time         `gorm:"type:timestamp;default:null" json:"ai_rewrites_reset_at,omitempty"`
	UsageVersion            uint64             `gorm:"not null;default:0" json:"-"`
	CreatedAt               time.Time          `gorm:"autoCreateTime;index:idx_subscriptions_user_status_created,priority:3" json:"created_at"`
	UpdatedAt               time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}
