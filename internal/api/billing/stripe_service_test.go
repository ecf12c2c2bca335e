package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rooftops-ai/entitlements/internal/types"
)

// MockSubscriptionRepo is a mock implementation of subscription.Repository
type MockSubscriptionRepo struct {
	mock.Mock
}

func (m *MockSubscriptionRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*types.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepo) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*types.Subscription, error) {
	args := m.Called(ctx, stripeSubscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepo) Create(ctx context.Context, params types.CreateSubscriptionParams) (*types.Subscription, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepo) Update(ctx context.Context, stripeSubscriptionID string, params types.UpdateSubscriptionParams) (*types.Subscription, error) {
	args := m.Called(ctx, stripeSubscriptionID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepo) Upsert(ctx context.Context, params types.CreateSubscriptionParams) (*types.Subscription, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepo) ClearScheduledPlan(ctx context.Context, userID uuid.UUID) (*types.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Subscription), args.Error(1)
}

// recordingCache captures invalidations so tests can assert cache coherence.
type recordingCache struct {
	mu          sync.Mutex
	invalidated []uuid.UUID
}

func (c *recordingCache) Get(context.Context, uuid.UUID) (*types.Subscription, bool) { return nil, false }
func (c *recordingCache) Set(context.Context, uuid.UUID, *types.Subscription)        {}
func (c *recordingCache) Invalidate(_ context.Context, userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, userID)
}

func newTestBillingService(repo *MockSubscriptionRepo, cache *recordingCache) *ServiceImpl {
	cfg := testStripeConfig()
	return NewBillingService(cfg, NewPriceCatalog(cfg), repo, cache, slog.Default())
}

func eventWithRaw(eventType string, payload any) stripe.Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return stripe.Event{
		ID:   "evt_test",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func storedSubscription(userID uuid.UUID, tier types.PlanTier, periodStart time.Time) *types.Subscription {
	return &types.Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		StripeCustomerID:     "cus_123",
		StripeSubscriptionID: "sub_123",
		Status:               types.StatusActive,
		PlanType:             tier,
		CurrentPeriodStart:   periodStart,
		CurrentPeriodEnd:     periodStart.AddDate(0, 1, 0),
	}
}

func TestCheckoutCompletedUpsertsSubscription(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	cache := &recordingCache{}
	service := newTestBillingService(repo, cache)
	userID := uuid.New()
	periodStart := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	service.fetchSubscription = func(id string) (*subscriptionSnapshot, error) {
		assert.Equal(t, "sub_123", id)
		return &subscriptionSnapshot{
			ID:          "sub_123",
			CustomerID:  "cus_123",
			Status:      types.StatusActive,
			PriceID:     "price_premium_monthly",
			PeriodStart: periodStart,
			PeriodEnd:   periodStart.AddDate(0, 1, 0),
		}, nil
	}

	repo.On("Upsert", mock.Anything, mock.MatchedBy(func(p types.CreateSubscriptionParams) bool {
		return p.UserID == userID &&
			p.StripeSubscriptionID == "sub_123" &&
			p.PlanType == types.PlanPremium &&
			p.Status == types.StatusActive
	})).Return(storedSubscription(userID, types.PlanPremium, periodStart), nil).Once()

	event := eventWithRaw("checkout.session.completed", map[string]any{
		"id":           "cs_test",
		"mode":         "subscription",
		"customer":     "cus_123",
		"subscription": "sub_123",
		"metadata":     map[string]string{"userId": userID.String(), "planType": "premium"},
	})

	err := service.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{userID}, cache.invalidated)
	repo.AssertExpectations(t)
}

func TestCheckoutCompletedAbsorbsMissingMetadata(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})

	event := eventWithRaw("checkout.session.completed", map[string]any{
		"id":           "cs_test",
		"mode":         "subscription",
		"subscription": "sub_123",
		"metadata":     map[string]string{},
	})

	// Redelivery cannot produce metadata, so the event must ack, not retry.
	err := service.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestCheckoutCompletedRetriesWhenFetchFails(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})
	userID := uuid.New()

	service.fetchSubscription = func(string) (*subscriptionSnapshot, error) {
		return nil, fmt.Errorf("stripe API unavailable")
	}

	event := eventWithRaw("checkout.session.completed", map[string]any{
		"id":           "cs_test",
		"subscription": "sub_123",
		"metadata":     map[string]string{"userId": userID.String(), "planType": "premium"},
	})

	err := service.ProcessEvent(context.Background(), event)
	assert.Error(t, err)
}

func TestSubscriptionUpdatedAppliesUpgradeImmediately(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	cache := &recordingCache{}
	service := newTestBillingService(repo, cache)
	userID := uuid.New()
	periodStart := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	stored := storedSubscription(userID, types.PlanPremium, periodStart)
	repo.On("GetByStripeID", mock.Anything, "sub_123").Return(stored, nil).Once()
	repo.On("Update", mock.Anything, "sub_123", mock.MatchedBy(func(p types.UpdateSubscriptionParams) bool {
		return p.PlanType != nil && *p.PlanType == types.PlanBusiness && p.ClearScheduledPlan
	})).Return(storedSubscription(userID, types.PlanBusiness, periodStart), nil).Once()

	event := eventWithRaw("customer.subscription.updated", map[string]any{
		"id":       "sub_123",
		"customer": "cus_123",
		"status":   "active",
		"items": map[string]any{
			"data": []map[string]any{{
				"price":                map[string]any{"id": "price_business_monthly"},
				"current_period_start": periodStart.Unix(),
				"current_period_end":   periodStart.AddDate(0, 1, 0).Unix(),
			}},
		},
	})

	err := service.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{userID}, cache.invalidated)
	repo.AssertExpectations(t)
}

func TestSubscriptionUpdatedStagesDowngrade(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})
	userID := uuid.New()
	periodStart := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	stored := storedSubscription(userID, types.PlanBusiness, periodStart)
	repo.On("GetByStripeID", mock.Anything, "sub_123").Return(stored, nil).Once()
	repo.On("Update", mock.Anything, "sub_123", mock.MatchedBy(func(p types.UpdateSubscriptionParams) bool {
		// The paid-for tier stays in place; only the scheduled tier is set.
		return p.PlanType == nil &&
			p.ScheduledPlanType != nil && *p.ScheduledPlanType == types.PlanPremium &&
			!p.ClearScheduledPlan
	})).Return(stored, nil).Once()

	event := eventWithRaw("customer.subscription.updated", map[string]any{
		"id":     "sub_123",
		"status": "active",
		"items": map[string]any{
			"data": []map[string]any{{
				"price":                map[string]any{"id": "price_premium_monthly"},
				"current_period_start": periodStart.Unix(),
				"current_period_end":   periodStart.AddDate(0, 1, 0).Unix(),
			}},
		},
	})

	err := service.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestSubscriptionUpdatedCommitsDowngradeOnRollover(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})
	userID := uuid.New()
	oldPeriodStart := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	newPeriodStart := oldPeriodStart.AddDate(0, 1, 0)

	stored := storedSubscription(userID, types.PlanBusiness, oldPeriodStart)
	scheduled := types.PlanPremium
	stored.ScheduledPlanType = &scheduled
	repo.On("GetByStripeID", mock.Anything, "sub_123").Return(stored, nil).Once()
	repo.On("Update", mock.Anything, "sub_123", mock.MatchedBy(func(p types.UpdateSubscriptionParams) bool {
		return p.PlanType != nil && *p.PlanType == types.PlanPremium && p.ClearScheduledPlan
	})).Return(storedSubscription(userID, types.PlanPremium, newPeriodStart), nil).Once()

	event := eventWithRaw("customer.subscription.updated", map[string]any{
		"id":     "sub_123",
		"status": "active",
		"items": map[string]any{
			"data": []map[string]any{{
				"price":                map[string]any{"id": "price_premium_monthly"},
				"current_period_start": newPeriodStart.Unix(),
				"current_period_end":   newPeriodStart.AddDate(0, 1, 0).Unix(),
			}},
		},
	})

	err := service.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestSubscriptionUpdatedStagingReplayIsIdempotent(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})
	userID := uuid.New()
	periodStart := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	stored := storedSubscription(userID, types.PlanBusiness, periodStart)
	staged := storedSubscription(userID, types.PlanBusiness, periodStart)
	scheduled := types.PlanPremium
	staged.ScheduledPlanType = &scheduled

	// First delivery stages the downgrade; the redelivery sees the staged row.
	repo.On("GetByStripeID", mock.Anything, "sub_123").Return(stored, nil).Once()
	repo.On("GetByStripeID", mock.Anything, "sub_123").Return(staged, nil).Once()
	repo.On("Update", mock.Anything, "sub_123", mock.MatchedBy(func(p types.UpdateSubscriptionParams) bool {
		return p.PlanType == nil &&
			p.ScheduledPlanType != nil && *p.ScheduledPlanType == types.PlanPremium &&
			!p.ClearScheduledPlan
	})).Return(staged, nil).Twice()

	event := eventWithRaw("customer.subscription.updated", map[string]any{
		"id":     "sub_123",
		"status": "active",
		"items": map[string]any{
			"data": []map[string]any{{
				"price":                map[string]any{"id": "price_premium_monthly"},
				"current_period_start": periodStart.Unix(),
				"current_period_end":   periodStart.AddDate(0, 1, 0).Unix(),
			}},
		},
	})

	require.NoError(t, service.ProcessEvent(context.Background(), event))
	require.NoError(t, service.ProcessEvent(context.Background(), event))
	repo.AssertExpectations(t)
}

func TestSubscriptionUpdatedCommitReplayIsIdempotent(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})
	userID := uuid.New()
	oldPeriodStart := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	newPeriodStart := oldPeriodStart.AddDate(0, 1, 0)

	stored := storedSubscription(userID, types.PlanBusiness, oldPeriodStart)
	scheduled := types.PlanPremium
	stored.ScheduledPlanType = &scheduled
	committed := storedSubscription(userID, types.PlanPremium, newPeriodStart)

	repo.On("GetByStripeID", mock.Anything, "sub_123").Return(stored, nil).Once()
	repo.On("Update", mock.Anything, "sub_123", mock.MatchedBy(func(p types.UpdateSubscriptionParams) bool {
		return p.PlanType != nil && *p.PlanType == types.PlanPremium && p.ClearScheduledPlan
	})).Return(committed, nil).Once()

	// Redelivery after the commit: equal period start, nothing staged, same
	// tier as stored, so only the absolute status/period fields are reapplied.
	repo.On("GetByStripeID", mock.Anything, "sub_123").Return(committed, nil).Once()
	repo.On("Update", mock.Anything, "sub_123", mock.MatchedBy(func(p types.UpdateSubscriptionParams) bool {
		return p.PlanType == nil && p.ScheduledPlanType == nil && !p.ClearScheduledPlan
	})).Return(committed, nil).Once()

	event := eventWithRaw("customer.subscription.updated", map[string]any{
		"id":     "sub_123",
		"status": "active",
		"items": map[string]any{
			"data": []map[string]any{{
				"price":                map[string]any{"id": "price_premium_monthly"},
				"current_period_start": newPeriodStart.Unix(),
				"current_period_end":   newPeriodStart.AddDate(0, 1, 0).Unix(),
			}},
		},
	})

	require.NoError(t, service.ProcessEvent(context.Background(), event))
	require.NoError(t, service.ProcessEvent(context.Background(), event))
	repo.AssertExpectations(t)
}

func TestRolloverCommitWithoutPriceFallsBackToScheduledTier(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})
	userID := uuid.New()
	oldPeriodStart := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	newPeriodStart := oldPeriodStart.AddDate(0, 1, 0)

	stored := storedSubscription(userID, types.PlanBusiness, oldPeriodStart)
	scheduled := types.PlanPremium
	stored.ScheduledPlanType = &scheduled
	repo.On("GetByStripeID", mock.Anything, "sub_123").Return(stored, nil).Once()
	repo.On("Update", mock.Anything, "sub_123", mock.MatchedBy(func(p types.UpdateSubscriptionParams) bool {
		// The staged tier wins over the unresolvable price, never free.
		return p.PlanType != nil && *p.PlanType == types.PlanPremium && p.ClearScheduledPlan
	})).Return(storedSubscription(userID, types.PlanPremium, newPeriodStart), nil).Once()

	event := eventWithRaw("customer.subscription.updated", map[string]any{
		"id":                   "sub_123",
		"status":               "active",
		"current_period_start": newPeriodStart.Unix(),
		"current_period_end":   newPeriodStart.AddDate(0, 1, 0).Unix(),
	})

	require.NoError(t, service.ProcessEvent(context.Background(), event))
	repo.AssertExpectations(t)
}

func TestSubscriptionUpdatedUnknownRowIsDeferred(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})

	repo.On("GetByStripeID", mock.Anything, "sub_unknown").
		Return(nil, fmt.Errorf("missing: %w", types.ErrNotFound)).Once()

	event := eventWithRaw("customer.subscription.updated", map[string]any{
		"id":     "sub_unknown",
		"status": "active",
	})

	err := service.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscriptionDeletedMarksCanceled(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	cache := &recordingCache{}
	service := newTestBillingService(repo, cache)
	userID := uuid.New()
	periodStart := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	canceled := storedSubscription(userID, types.PlanPremium, periodStart)
	canceled.Status = types.StatusCanceled
	repo.On("Update", mock.Anything, "sub_123", mock.MatchedBy(func(p types.UpdateSubscriptionParams) bool {
		return p.Status != nil && *p.Status == types.StatusCanceled && p.ClearScheduledPlan
	})).Return(canceled, nil).Once()

	event := eventWithRaw("customer.subscription.deleted", map[string]any{
		"id":     "sub_123",
		"status": "canceled",
	})

	err := service.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{userID}, cache.invalidated)
	repo.AssertExpectations(t)
}

func TestPaymentFailedMarksPastDue(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})
	userID := uuid.New()
	periodStart := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	pastDue := storedSubscription(userID, types.PlanPremium, periodStart)
	pastDue.Status = types.StatusPastDue
	repo.On("Update", mock.Anything, "sub_123", mock.MatchedBy(func(p types.UpdateSubscriptionParams) bool {
		return p.Status != nil && *p.Status == types.StatusPastDue
	})).Return(pastDue, nil).Once()

	event := eventWithRaw("invoice.payment_failed", map[string]any{
		"id":           "in_test",
		"subscription": "sub_123",
	})

	err := service.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestUnhandledEventTypesAreIgnored(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})

	event := eventWithRaw("customer.created", map[string]any{"id": "cus_123"})

	err := service.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateCheckoutSessionCarriesUserMetadata(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})
	userID := uuid.New()

	var captured *stripe.CheckoutSessionParams
	service.createCheckoutSession = func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		captured = params
		return &stripe.CheckoutSession{URL: "https://checkout.stripe.test/cs_123"}, nil
	}

	url, err := service.CreateCheckoutSession(context.Background(), userID, "roofer@example.com", types.PlanPremium, false)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_123", url)

	require.NotNil(t, captured)
	assert.Equal(t, "price_premium_monthly", *captured.LineItems[0].Price)
	assert.Equal(t, userID.String(), captured.Metadata["userId"])
	assert.Equal(t, "premium", captured.Metadata["planType"])
	// The subscription itself carries the same metadata for later events.
	assert.Equal(t, userID.String(), captured.SubscriptionData.Metadata["userId"])
}

func TestCreateCheckoutSessionRejectsFreeTier(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})

	_, err := service.CreateCheckoutSession(context.Background(), uuid.New(), "", types.PlanFree, false)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCreatePortalSessionRequiresBillingAccount(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})
	userID := uuid.New()

	repo.On("GetByUserID", mock.Anything, userID).
		Return(nil, fmt.Errorf("missing: %w", types.ErrNotFound)).Once()

	_, err := service.CreatePortalSession(context.Background(), userID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCreatePortalSessionUsesStoredCustomer(t *testing.T) {
	repo := new(MockSubscriptionRepo)
	service := newTestBillingService(repo, &recordingCache{})
	userID := uuid.New()
	periodStart := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	repo.On("GetByUserID", mock.Anything, userID).
		Return(storedSubscription(userID, types.PlanPremium, periodStart), nil).Once()

	var captured *stripe.BillingPortalSessionParams
	service.createPortalSession = func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
		captured = params
		return &stripe.BillingPortalSession{URL: "https://billing.stripe.test/ps_123"}, nil
	}

	url, err := service.CreatePortalSession(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.test/ps_123", url)
	require.NotNil(t, captured)
	assert.Equal(t, "cus_123", *captured.Customer)
}
