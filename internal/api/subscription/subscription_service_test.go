package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rooftops-ai/entitlements/internal/types"
)

// MockSubscriptionRepo is a mock implementation of Repository
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

func activeSubscription(userID uuid.UUID, tier types.PlanTier) *types.Subscription {
	now := time.Now().UTC()
	return &types.Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		StripeCustomerID:     "cus_123",
		StripeSubscriptionID: "sub_123",
		Status:               types.StatusActive,
		PlanType:             tier,
		CurrentPeriodStart:   now,
		CurrentPeriodEnd:     now.AddDate(0, 1, 0),
	}
}

func TestEffectiveTierDefaultsToFreeWithoutRow(t *testing.T) {
	mockRepo := new(MockSubscriptionRepo)
	service := NewSubscriptionService(mockRepo, NoopCache{}, slog.Default())
	ctx := context.Background()
	userID := uuid.New()

	mockRepo.On("GetByUserID", mock.Anything, userID).
		Return(nil, fmt.Errorf("no row: %w", types.ErrNotFound)).Once()

	tier, err := service.EffectiveTier(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, types.PlanFree, tier)
	mockRepo.AssertExpectations(t)
}

func TestEffectiveTierIgnoresLapsedSubscription(t *testing.T) {
	mockRepo := new(MockSubscriptionRepo)
	service := NewSubscriptionService(mockRepo, NoopCache{}, slog.Default())
	ctx := context.Background()
	userID := uuid.New()

	sub := activeSubscription(userID, types.PlanPremium)
	sub.Status = types.StatusPastDue
	mockRepo.On("GetByUserID", mock.Anything, userID).Return(sub, nil).Once()

	tier, err := service.EffectiveTier(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, types.PlanFree, tier)
	mockRepo.AssertExpectations(t)
}

func TestEffectiveTierGrantsPaidTierWhileTrialing(t *testing.T) {
	mockRepo := new(MockSubscriptionRepo)
	service := NewSubscriptionService(mockRepo, NoopCache{}, slog.Default())
	ctx := context.Background()
	userID := uuid.New()

	sub := activeSubscription(userID, types.PlanBusiness)
	sub.Status = types.StatusTrialing
	mockRepo.On("GetByUserID", mock.Anything, userID).Return(sub, nil).Once()

	tier, err := service.EffectiveTier(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, types.PlanBusiness, tier)
	mockRepo.AssertExpectations(t)
}

func TestPendingDowngradeReportsScheduledTier(t *testing.T) {
	mockRepo := new(MockSubscriptionRepo)
	service := NewSubscriptionService(mockRepo, NoopCache{}, slog.Default())
	ctx := context.Background()
	userID := uuid.New()

	sub := activeSubscription(userID, types.PlanBusiness)
	scheduled := types.PlanPremium
	sub.ScheduledPlanType = &scheduled
	mockRepo.On("GetByUserID", mock.Anything, userID).Return(sub, nil).Once()

	info, err := service.PendingDowngrade(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, types.PlanBusiness, info.CurrentTier)
	assert.Equal(t, types.PlanPremium, info.ScheduledTier)
	assert.Equal(t, sub.CurrentPeriodEnd, info.EffectiveDate)
	mockRepo.AssertExpectations(t)
}

func TestPendingDowngradeNilWhenNothingStaged(t *testing.T) {
	mockRepo := new(MockSubscriptionRepo)
	service := NewSubscriptionService(mockRepo, NoopCache{}, slog.Default())
	ctx := context.Background()
	userID := uuid.New()

	mockRepo.On("GetByUserID", mock.Anything, userID).
		Return(activeSubscription(userID, types.PlanPremium), nil).Once()

	info, err := service.PendingDowngrade(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, info)
	mockRepo.AssertExpectations(t)
}

func TestCancelPendingDowngradeClearsAndReturnsRow(t *testing.T) {
	mockRepo := new(MockSubscriptionRepo)
	service := NewSubscriptionService(mockRepo, NoopCache{}, slog.Default())
	ctx := context.Background()
	userID := uuid.New()

	mockRepo.On("ClearScheduledPlan", mock.Anything, userID).
		Return(activeSubscription(userID, types.PlanBusiness), nil).Once()

	sub, err := service.CancelPendingDowngrade(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, sub.ScheduledPlanType)
	assert.Equal(t, types.PlanBusiness, sub.PlanType)
	mockRepo.AssertExpectations(t)
}

func TestGetForUserPropagatesStoreErrors(t *testing.T) {
	mockRepo := new(MockSubscriptionRepo)
	service := NewSubscriptionService(mockRepo, NoopCache{}, slog.Default())
	ctx := context.Background()
	userID := uuid.New()

	mockRepo.On("GetByUserID", mock.Anything, userID).
		Return(nil, errors.New("connection refused")).Once()

	_, err := service.GetForUser(ctx, userID)
	assert.Error(t, err)
	mockRepo.AssertExpectations(t)
}
