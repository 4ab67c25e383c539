package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/internal/pkg/apperror"
)

// LapseHandler is told when a user's subscription stopped entitling them.
type LapseHandler interface {
	HandleSubscriptionLapse(ctx context.Context, userID uint) error
}

// Service keeps the local subscription mirror in sync with the payment
// provider.
type Service struct {
	repo  Repository
	lapse LapseHandler
}

// NewService creates a billing service from an injected repository. lapse
// may be nil.
func NewService(repo Repository, lapse LapseHandler) *Service {
	return &Service{repo: repo, lapse: lapse}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, lapse LapseHandler) *Service {
	return NewService(NewRepository(db), lapse)
}

// SyncSubscription upserts provider subscription data. A subscription that
// becomes current cancels any older current row of the same user, so a user
// never has two. A subscription that is not current triggers the lapse
// handler after the commit.
func (s *Service) SyncSubscription(ctx context.Context, in NormalizedSubscription) (*models.Subscription, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	providerSubID := strings.TrimSpace(in.ProviderSubscriptionID)
	if in.UserID == 0 || in.PlanID == 0 || provider == "" || providerSubID == "" {
		return nil, errors.New("user_id, plan_id, provider and provider_subscription_id are required")
	}
	status := NormalizeStatus(in.Status)

	sub := &models.Subscription{
		UserID:                 in.UserID,
		PlanID:                 in.PlanID,
		Provider:               provider,
		ProviderSubscriptionID: providerSubID,
		Status:                 status,
		CancelAtPeriodEnd:      in.CancelAtPeriodEnd,
	}
	var superseded int64
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		ok, err := tx.UserExists(in.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.NotFound("user", in.UserID)
		}
		if ok, err = tx.PlanExists(in.PlanID); err != nil {
			return err
		}
		if !ok {
			return apperror.NotFound("plan", in.PlanID)
		}

		if err := tx.UpsertSubscription(sub); err != nil {
			return err
		}
		if status.IsCurrent() {
			if superseded, err = tx.CancelOtherCurrent(sub.UserID, sub.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[Billing] Subscription %s of user %d synced: plan=%d status=%s", providerSubID, sub.UserID, sub.PlanID, sub.Status)
	if superseded > 0 {
		log.Infof("[Billing] Canceled %d superseded subscription(s) of user %d", superseded, sub.UserID)
	}

	if !status.IsCurrent() && s.lapse != nil {
		if err := s.lapse.HandleSubscriptionLapse(ctx, sub.UserID); err != nil {
			// The mirror is already correct; stores stay active until the
			// next sync or an operator deactivates them.
			log.Errorw("[Billing] Lapse handling failed", "user_id", sub.UserID, "subscription", providerSubID, "error", err)
		}
	}
	return sub, nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}
