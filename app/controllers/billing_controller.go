package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StoreFox/app/repository"
	"github.com/ManuelReschke/StoreFox/internal/pkg/billing"
	"github.com/ManuelReschke/StoreFox/internal/pkg/plancatalog"
)

const webhookTimeout = 15 * time.Second

// BillingController receives provider webhooks and serves the plan catalog.
type BillingController struct {
	stripe *billing.StripeWebhook
	store  repository.DataStore
}

// NewBillingController creates a new billing controller
func NewBillingController(stripe *billing.StripeWebhook, store repository.DataStore) *BillingController {
	return &BillingController{stripe: stripe, store: store}
}

// HandleListPlans returns the purchasable plans.
func (bc *BillingController) HandleListPlans(c *fiber.Ctx) error {
	plans, err := plancatalog.ActivePlans(c.UserContext(), bc.store)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandleStripeWebhook mirrors a Stripe subscription event. Replays and
// unrelated events are acknowledged with 200 so Stripe stops retrying them.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	outcome, err := bc.stripe.Handle(ctx, rawBody, signature)
	switch outcome {
	case billing.WebhookProcessed:
		return c.JSON(fiber.Map{"ok": true})
	case billing.WebhookDuplicate:
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	case billing.WebhookIgnored:
		return c.JSON(fiber.Map{"ok": true, "ignored": true})
	case billing.WebhookInvalidSignature:
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	case billing.WebhookInvalidPayload:
		log.Warnf("[Billing] Rejected Stripe webhook: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	default:
		log.Errorf("[Billing] Stripe webhook failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_sync_failed"})
	}
}
