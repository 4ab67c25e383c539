package billing

import "time"

// NormalizedSubscription is the provider-agnostic shape used by the billing
// service when syncing external subscription state into the local mirror.
type NormalizedSubscription struct {
	UserID                 uint
	PlanID                 uint
	Provider               string
	ProviderSubscriptionID string
	// Status is the provider's raw status string.
	Status            string
	CancelAtPeriodEnd *time.Time
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
