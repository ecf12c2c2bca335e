package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rooftops-ai/entitlements/app/observability/metrics"
	"github.com/rooftops-ai/entitlements/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

// Service tracks consumption after gated actions succeed. The Track methods
// are fire-and-forget: they never block the caller's response and a tracking
// failure is logged, not propagated. Reads fall back to the last-known
// in-memory snapshot when the store is unreachable.
type Service interface {
	// CurrentUsage returns the current month's usage, creating the bucket on
	// first use.
	CurrentUsage(ctx context.Context, userID uuid.UUID) (*types.UserUsage, error)

	TrackReport(ctx context.Context, userID uuid.UUID)
	TrackChat(ctx context.Context, userID uuid.UUID, tier types.ModelTier)
	TrackWebSearch(ctx context.Context, userID uuid.UUID)

	// ResetDaily is the scheduled-job fallback for the lazy daily reset.
	ResetDaily(ctx context.Context, userID uuid.UUID) (*types.UserUsage, error)
}

const trackTimeout = 10 * time.Second

type ServiceImpl struct {
	logger    *slog.Logger
	repo      Repository
	snapshots *gocache.Cache
}

func NewUsageService(repo Repository, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:    logger,
		repo:      repo,
		snapshots: gocache.New(time.Hour, 10*time.Minute),
	}
}

func (s *ServiceImpl) CurrentUsage(ctx context.Context, userID uuid.UUID) (*types.UserUsage, error) {
	ctx, span := otel.Tracer("UsageService").Start(ctx, "CurrentUsage", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "CurrentUsage"), slog.String("userID", userID.String()))

	u, err := s.repo.GetOrCreate(ctx, userID, types.CurrentMonth())
	if err != nil {
		// Stale data is preferable to failing the request outright, and
		// counters only grow, so a snapshot never blocks a user early. A
		// snapshot from an earlier month is useless though: it would report
		// last month's consumption against this month's limits.
		if cached, ok := s.snapshots.Get(userID.String()); ok {
			if snap := cached.(*types.UserUsage); !snap.Month.Before(types.CurrentMonth()) {
				l.WarnContext(ctx, "Usage store unavailable, serving last-known snapshot", slog.Any("error", err))
				span.SetStatus(codes.Ok, "Served snapshot")
				return snap, nil
			}
		}
		l.ErrorContext(ctx, "Failed to fetch usage and no snapshot available", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Usage fetch failed")
		return nil, fmt.Errorf("error fetching current usage: %w", err)
	}

	s.snapshots.SetDefault(userID.String(), u)
	span.SetStatus(codes.Ok, "Usage fetched")
	return u, nil
}

func (s *ServiceImpl) TrackReport(ctx context.Context, userID uuid.UUID) {
	s.trackAsync(ctx, userID, "report", func(ctx context.Context) (*types.UserUsage, error) {
		return s.repo.IncrementReport(ctx, userID)
	})
}

func (s *ServiceImpl) TrackChat(ctx context.Context, userID uuid.UUID, tier types.ModelTier) {
	s.trackAsync(ctx, userID, "chat", func(ctx context.Context) (*types.UserUsage, error) {
		return s.repo.IncrementChat(ctx, userID, tier)
	})
}

func (s *ServiceImpl) TrackWebSearch(ctx context.Context, userID uuid.UUID) {
	s.trackAsync(ctx, userID, "web_search", func(ctx context.Context) (*types.UserUsage, error) {
		return s.repo.IncrementWebSearch(ctx, userID)
	})
}

// trackAsync detaches the increment from the request lifecycle: the response
// must not wait for tracking, and tracking must not fail a successful action.
func (s *ServiceImpl) trackAsync(ctx context.Context, userID uuid.UUID, feature string, fn func(context.Context) (*types.UserUsage, error)) {
	detached := context.WithoutCancel(ctx)
	go func() {
		trackCtx, cancel := context.WithTimeout(detached, trackTimeout)
		defer cancel()
		s.track(trackCtx, userID, feature, fn)
	}()
}

func (s *ServiceImpl) track(ctx context.Context, userID uuid.UUID, feature string, fn func(context.Context) (*types.UserUsage, error)) {
	l := s.logger.With(slog.String("method", "track"), slog.String("feature", feature), slog.String("userID", userID.String()))

	u, err := fn(ctx)
	if err != nil {
		l.WarnContext(ctx, "Usage tracking failed, counter not incremented", slog.Any("error", err))
		if m := metrics.Get(); m != nil {
			m.UsageTrackingErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("feature", feature)))
		}
		return
	}

	s.snapshots.SetDefault(userID.String(), u)
}

func (s *ServiceImpl) ResetDaily(ctx context.Context, userID uuid.UUID) (*types.UserUsage, error) {
	ctx, span := otel.Tracer("UsageService").Start(ctx, "ResetDaily", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "ResetDaily"), slog.String("userID", userID.String()))

	u, err := s.repo.ResetDailyChatCount(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to reset daily chat count", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Daily reset failed")
		return nil, fmt.Errorf("error resetting daily chat count: %w", err)
	}

	s.snapshots.SetDefault(userID.String(), u)
	span.SetStatus(codes.Ok, "Daily chat count reset")
	return u, nil
}
