package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/app/repository/memory"
	"github.com/ManuelReschke/StoreFox/internal/pkg/apperror"
)

func intPtr(n int) *int { return &n }

func timePtr(t time.Time) *time.Time { return &t }

var now = time.Date(2026, time.March, 14, 15, 9, 26, 0, time.UTC)

func TestNextMonthStart(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{now, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, time.December, 31, 23, 59, 59, 0, time.UTC), time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, time.January, 31, 12, 0, 0, 0, time.UTC), time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)},
		// 23:30 on Mar 31 in UTC-5 is already April in UTC.
		{time.Date(2026, time.March, 31, 23, 30, 0, 0, time.FixedZone("EST", -5*3600)), time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextMonthStart(tt.in), tt.in.String())
	}
}

func TestAdvance(t *testing.T) {
	future := timePtr(NextMonthStart(now))
	past := timePtr(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name     string
		in       Counter
		limit    *int
		wantOK   bool
		wantUsed int
		wantNew  bool
	}{
		{"increments in place", Counter{Used: 1, ResetAt: future}, intPtr(5), true, 2, false},
		{"last slot", Counter{Used: 4, ResetAt: future}, intPtr(5), true, 5, false},
		{"limit reached", Counter{Used: 5, ResetAt: future}, intPtr(5), false, 5, false},
		{"full but expired rolls over", Counter{Used: 2, ResetAt: past}, intPtr(2), true, 1, true},
		{"no watermark starts a period", Counter{Used: 7}, intPtr(10), true, 1, true},
		{"zero limit never admits", Counter{}, intPtr(0), false, 0, false},
		{"unlimited ignores usage", Counter{Used: 100000, ResetAt: future}, nil, true, 100001, false},
		{"unlimited still rolls over", Counter{Used: 9, ResetAt: past}, nil, true, 1, true},
		{"watermark equal to now is expired", Counter{Used: 3, ResetAt: timePtr(now)}, intPtr(3), true, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := Advance(tt.in, tt.limit, now)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantUsed, next.Used)
			if !ok {
				assert.Equal(t, tt.in, next)
				return
			}
			require.NotNil(t, next.ResetAt)
			if tt.wantNew {
				assert.Equal(t, NextMonthStart(now), *next.ResetAt)
			} else {
				assert.Equal(t, *tt.in.ResetAt, *next.ResetAt)
			}
		})
	}
}

type fixture struct {
	data *memory.Store
	svc  *Service
}

func newFixture(t *testing.T, limit *int) (*fixture, models.Subscription) {
	t.Helper()
	data := memory.New()
	data.AddPlan(models.Plan{
		ID: 1, Name: "Professional", Type: models.PlanTypeProfessional, IsActive: true,
		Features: models.PlanFeatures{Version: 1, MaxStores: 2, AIRewritesPerMonth: limit},
	})
	user := data.AddUser(models.User{Name: "alice", Role: models.ROLE_USER})
	sub := data.AddSubscription(models.Subscription{
		UserID: user.ID, PlanID: 1, Status: models.SubscriptionStatusActive,
	})
	svc := NewService(data)
	svc.SetClock(func() time.Time { return now })
	return &fixture{data: data, svc: svc}, sub
}

func TestConsumeAIRewrite_FreeTierHasNone(t *testing.T) {
	data := memory.New()
	user := data.AddUser(models.User{Name: "bob", Role: models.ROLE_USER})

	_, err := NewService(data).ConsumeAIRewrite(context.Background(), user.ID)
	assert.ErrorIs(t, err, apperror.ErrQuotaExceeded)
}

func TestConsumeAIRewrite_UnlimitedNeverFails(t *testing.T) {
	f, sub := newFixture(t, nil)
	ctx := context.Background()

	for i := 1; i <= 50; i++ {
		res, err := f.svc.ConsumeAIRewrite(ctx, sub.UserID)
		require.NoError(t, err)
		assert.True(t, res.Unlimited)
		assert.Equal(t, i, res.Used)
	}
}

func TestConsumeAIRewrite_LimitReached(t *testing.T) {
	f, sub := newFixture(t, intPtr(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.ConsumeAIRewrite(ctx, sub.UserID)
		require.NoError(t, err)
	}
	_, err := f.svc.ConsumeAIRewrite(ctx, sub.UserID)
	assert.ErrorIs(t, err, apperror.ErrQuotaExceeded)

	got, _ := f.data.SubscriptionByID(sub.ID)
	assert.Equal(t, 2, got.AIRewritesUsedThisMonth)
}

func TestConsume_RolloverResetsInsteadOfFailing(t *testing.T) {
	f, sub := newFixture(t, intPtr(2))
	past := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.data.WithContext(context.Background()).Subscriptions().
		CompareAndSwapUsage(sub.ID, 0, 2, &past)
	require.NoError(t, err)

	res, err := f.svc.Consume(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Used)
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), res.ResetAt)

	got, _ := f.data.SubscriptionByID(sub.ID)
	assert.Equal(t, 1, got.AIRewritesUsedThisMonth)
	require.NotNil(t, got.AIRewritesResetAt)
	assert.Equal(t, res.ResetAt, *got.AIRewritesResetAt)
}

func TestConsume_UnknownSubscription(t *testing.T) {
	f, _ := newFixture(t, intPtr(2))
	_, err := f.svc.Consume(context.Background(), 999)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestConsume_ConcurrentCallsNeverOverAdmit(t *testing.T) {
	const limit = 5
	f, sub := newFixture(t, intPtr(limit))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		rejected int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Consume(context.Background(), sub.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
				return
			}
			if apperror.KindOf(err) == apperror.KindQuotaExceeded {
				rejected++
				return
			}
			t.Errorf("unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, admitted)
	assert.Equal(t, 20-limit, rejected)
	got, _ := f.data.SubscriptionByID(sub.ID)
	assert.Equal(t, limit, got.AIRewritesUsedThisMonth)
}

func TestConsume_CanceledContext(t *testing.T) {
	f, sub := newFixture(t, intPtr(5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Consume(ctx, sub.ID)
	assert.ErrorIs(t, err, context.Canceled)
}
