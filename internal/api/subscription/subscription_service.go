package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rooftops-ai/entitlements/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

// Service is the read surface over the subscription store plus the
// user-initiated downgrade-cancellation path. All webhook-driven mutations
// live in the billing reconciler, not here.
type Service interface {
	// GetForUser returns the user's subscription, ErrNotFound when they have
	// none (free tier).
	GetForUser(ctx context.Context, userID uuid.UUID) (*types.Subscription, error)

	// EffectiveTier resolves the tier the user's requests are admitted under.
	// Never errors on a missing row: no subscription is the free tier.
	EffectiveTier(ctx context.Context, userID uuid.UUID) (types.PlanTier, error)

	// PendingDowngrade returns the scheduled-downgrade notice, nil when none.
	PendingDowngrade(ctx context.Context, userID uuid.UUID) (*types.ScheduledDowngrade, error)

	// CancelPendingDowngrade clears a staged downgrade so the current plan
	// continues past the period rollover.
	CancelPendingDowngrade(ctx context.Context, userID uuid.UUID) (*types.Subscription, error)
}

type ServiceImpl struct {
	logger *slog.Logger
	repo   Repository
	cache  Cache
}

func NewSubscriptionService(repo Repository, cache Cache, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger: logger,
		repo:   repo,
		cache:  cache,
	}
}

func (s *ServiceImpl) GetForUser(ctx context.Context, userID uuid.UUID) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "GetForUser", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	if cached, ok := s.cache.Get(ctx, userID); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		span.SetStatus(codes.Ok, "Subscription served from cache")
		return cached, nil
	}

	sub, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			span.SetStatus(codes.Ok, "No subscription")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Subscription fetch failed")
		return nil, fmt.Errorf("error fetching subscription: %w", err)
	}

	s.cache.Set(ctx, userID, sub)
	span.SetStatus(codes.Ok, "Subscription fetched")
	return sub, nil
}

func (s *ServiceImpl) EffectiveTier(ctx context.Context, userID uuid.UUID) (types.PlanTier, error) {
	sub, err := s.GetForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.PlanFree, nil
		}
		return types.PlanFree, err
	}
	return sub.EffectiveTier(), nil
}

func (s *ServiceImpl) PendingDowngrade(ctx context.Context, userID uuid.UUID) (*types.ScheduledDowngrade, error) {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "PendingDowngrade", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	sub, err := s.GetForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			span.SetStatus(codes.Ok, "No subscription")
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Subscription fetch failed")
		return nil, err
	}

	if sub.ScheduledPlanType == nil {
		span.SetStatus(codes.Ok, "No pending downgrade")
		return nil, nil
	}

	span.SetStatus(codes.Ok, "Pending downgrade found")
	return &types.ScheduledDowngrade{
		CurrentTier:   sub.PlanType,
		ScheduledTier: *sub.ScheduledPlanType,
		EffectiveDate: sub.CurrentPeriodEnd,
	}, nil
}

func (s *ServiceImpl) CancelPendingDowngrade(ctx context.Context, userID uuid.UUID) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "CancelPendingDowngrade", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "CancelPendingDowngrade"), slog.String("userID", userID.String()))

	sub, err := s.repo.ClearScheduledPlan(ctx, userID)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			l.ErrorContext(ctx, "Failed to cancel pending downgrade", slog.Any("error", err))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Downgrade cancellation failed")
		return nil, err
	}

	s.cache.Invalidate(ctx, userID)
	l.InfoContext(ctx, "Pending downgrade cancelled", slog.String("plan", string(sub.PlanType)))
	span.SetStatus(codes.Ok, "Pending downgrade cancelled")
	return sub, nil
}
