package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StoreFox/app/repository"
	"github.com/ManuelReschke/StoreFox/internal/pkg/apperror"
	"github.com/ManuelReschke/StoreFox/internal/pkg/metrics"
)

// MaxAttempts bounds the compare-and-swap retries of one consumption.
const MaxAttempts = 16

// ErrContention is returned when a consumption lost the race MaxAttempts times.
var ErrContention = errors.New("usage counter is under contention, try again")

// Result describes the counter after a successful consumption.
type Result struct {
	Used      int       `json:"used"`
	Limit     *int      `json:"limit"`
	ResetAt   time.Time `json:"resetAt"`
	Unlimited bool      `json:"unlimited"`
}

// Service consumes metered features against the subscription counter.
type Service struct {
	store repository.DataStore
	now   func() time.Time
}

// NewService creates a usage service.
func NewService(store repository.DataStore) *Service {
	return &Service{store: store, now: time.Now}
}

// SetClock overrides the clock. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ConsumeAIRewrite consumes one AI rewrite from the user's current
// subscription. Users without a current subscription are on the free tier,
// which includes no rewrites.
func (s *Service) ConsumeAIRewrite(ctx context.Context, userID uint) (*Result, error) {
	sub, err := s.store.WithContext(ctx).Subscriptions().FindCurrentByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.AIRewrites.WithLabelValues("quota_exceeded").Inc()
			return nil, apperror.QuotaExceeded("aiRewrites")
		}
		return nil, err
	}
	return s.Consume(ctx, sub.ID)
}

// Consume consumes one AI rewrite from a subscription. The read-check-write
// is a compare-and-swap on the row's usage version, retried when another
// request got there first.
func (s *Service) Consume(ctx context.Context, subscriptionID uint) (*Result, error) {
	uow := s.store.WithContext(ctx)

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sub, err := uow.Subscriptions().GetByID(subscriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperror.NotFound("subscription", subscriptionID)
			}
			return nil, err
		}
		plan, err := uow.Plans().GetByID(sub.PlanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("subscription %d references missing plan %d: %w", sub.ID, sub.PlanID, err)
			}
			return nil, err
		}

		limit := plan.Features.AIRewritesPerMonth
		now := s.now()
		current := Counter{Used: sub.AIRewritesUsedThisMonth, ResetAt: sub.AIRewritesResetAt}
		next, ok := Advance(current, limit, now)
		if !ok {
			metrics.AIRewrites.WithLabelValues("quota_exceeded").Inc()
			return nil, apperror.QuotaExceeded("aiRewrites")
		}

		swapped, err := uow.Subscriptions().CompareAndSwapUsage(sub.ID, sub.UsageVersion, next.Used, next.ResetAt)
		if err != nil {
			return nil, err
		}
		if !swapped {
			metrics.CASRetries.Inc()
			continue
		}

		if current.Expired(now) {
			log.Debugf("[Usage] AI rewrite counter of subscription %d reset, next reset at %s", sub.ID, next.ResetAt.Format(time.RFC3339))
		}
		metrics.AIRewrites.WithLabelValues("consumed").Inc()
		return &Result{
			Used:      next.Used,
			Limit:     limit,
			ResetAt:   *next.ResetAt,
			Unlimited: limit == nil,
		}, nil
	}

	log.Warnf("[Usage] Gave up consuming AI rewrite on subscription %d after %d attempts", subscriptionID, MaxAttempts)
	metrics.AIRewrites.WithLabelValues("contention").Inc()
	return nil, ErrContention
}
