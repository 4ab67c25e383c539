package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const ProviderStripe = "stripe"

// Stripe metadata keys set on the subscription at checkout.
const (
	MetadataUserID = "user_id"
	MetadataPlanID = "plan_id"
)

// WebhookOutcome tells the HTTP layer how a webhook delivery ended.
type WebhookOutcome string

const (
	WebhookProcessed        WebhookOutcome = "processed"
	WebhookDuplicate        WebhookOutcome = "duplicate"
	WebhookIgnored          WebhookOutcome = "ignored"
	WebhookInvalidSignature WebhookOutcome = "invalid_signature"
	WebhookInvalidPayload   WebhookOutcome = "invalid_payload"
	WebhookFailed           WebhookOutcome = "failed"
)

// ErrInvalidSignature is returned for deliveries that fail verification.
var ErrInvalidSignature = errors.New("invalid stripe webhook signature")

// StripeWebhook verifies Stripe webhook deliveries and applies subscription
// events to the local mirror.
type StripeWebhook struct {
	svc    *Service
	secret string
}

// NewStripeWebhook creates a webhook processor for the given signing secret.
func NewStripeWebhook(svc *Service, secret string) *StripeWebhook {
	return &StripeWebhook{svc: svc, secret: strings.TrimSpace(secret)}
}

func isSubscriptionEvent(t stripe.EventType) bool {
	switch t {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		return true
	}
	return false
}

// Handle verifies, records and applies one delivery. Every delivery is
// recorded, including rejected ones; redeliveries of an event that was
// already recorded are acknowledged without being applied twice.
func (h *StripeWebhook) Handle(ctx context.Context, payload []byte, signatureHeader string) (WebhookOutcome, error) {
	event, verifyErr := webhook.ConstructEventWithOptions(payload, signatureHeader, h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	signatureValid := verifyErr == nil && h.secret != ""

	created, stored, err := h.svc.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return WebhookFailed, fmt.Errorf("failed to persist webhook event: %w", err)
	}
	if !created {
		return WebhookDuplicate, nil
	}
	if !signatureValid {
		_ = h.svc.MarkWebhookProcessed(ctx, stored.ID, ErrInvalidSignature)
		if verifyErr != nil {
			log.Warnf("[Billing] Rejected stripe webhook: %v", verifyErr)
		}
		return WebhookInvalidSignature, ErrInvalidSignature
	}
	if !isSubscriptionEvent(event.Type) {
		_ = h.svc.MarkWebhookProcessed(ctx, stored.ID, nil)
		return WebhookIgnored, nil
	}

	in, err := subscriptionFromEvent(event)
	if err != nil {
		_ = h.svc.MarkWebhookProcessed(ctx, stored.ID, err)
		return WebhookInvalidPayload, err
	}
	if _, err := h.svc.SyncSubscription(ctx, in); err != nil {
		_ = h.svc.MarkWebhookProcessed(ctx, stored.ID, err)
		return WebhookFailed, err
	}
	_ = h.svc.MarkWebhookProcessed(ctx, stored.ID, nil)
	return WebhookProcessed, nil
}

func subscriptionFromEvent(event stripe.Event) (NormalizedSubscription, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return NormalizedSubscription{}, errors.New("event has no data object")
	}
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return NormalizedSubscription{}, fmt.Errorf("failed to decode subscription: %w", err)
	}
	if sub.ID == "" {
		return NormalizedSubscription{}, errors.New("subscription id is missing")
	}
	userID, err := parseMetadataID(sub.Metadata, MetadataUserID)
	if err != nil {
		return NormalizedSubscription{}, err
	}
	planID, err := parseMetadataID(sub.Metadata, MetadataPlanID)
	if err != nil {
		return NormalizedSubscription{}, err
	}

	status := string(sub.Status)
	if event.Type == "customer.subscription.deleted" {
		status = string(stripe.SubscriptionStatusCanceled)
	}

	var cancelAt *time.Time
	switch {
	case sub.CancelAt > 0:
		t := time.Unix(sub.CancelAt, 0).UTC()
		cancelAt = &t
	case sub.CancelAtPeriodEnd && sub.CurrentPeriodEnd > 0:
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		cancelAt = &t
	}

	return NormalizedSubscription{
		UserID:                 userID,
		PlanID:                 planID,
		Provider:               ProviderStripe,
		ProviderSubscriptionID: sub.ID,
		Status:                 status,
		CancelAtPeriodEnd:      cancelAt,
	}, nil
}
