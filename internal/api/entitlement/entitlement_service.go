package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rooftops-ai/entitlements/app/observability/metrics"
	"github.com/rooftops-ai/entitlements/internal/api/billing"
	"github.com/rooftops-ai/entitlements/internal/api/subscription"
	"github.com/rooftops-ai/entitlements/internal/api/usage"
	"github.com/rooftops-ai/entitlements/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

// Service is the admission authority for gated features. It is purely a
// reader: it combines the subscription's effective tier, the plan catalog,
// and the month's usage counters into a decision, and never mutates either
// store.
type Service interface {
	// CheckAccess answers whether the user may perform one more action of
	// the given feature right now.
	CheckAccess(ctx context.Context, userID uuid.UUID, feature types.Feature) (types.AccessDecision, error)

	// Stats assembles the per-feature consumption snapshot for the UI.
	Stats(ctx context.Context, userID uuid.UUID) (*types.UsageStats, error)
}

type ServiceImpl struct {
	logger        *slog.Logger
	subscriptions subscription.Service
	usage         usage.Service
	now           func() time.Time
}

func NewEntitlementService(subscriptions subscription.Service, usageService usage.Service, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:        logger,
		subscriptions: subscriptions,
		usage:         usageService,
		now:           time.Now,
	}
}

func (s *ServiceImpl) CheckAccess(ctx context.Context, userID uuid.UUID, feature types.Feature) (types.AccessDecision, error) {
	ctx, span := otel.Tracer("EntitlementService").Start(ctx, "CheckAccess", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("feature", string(feature)),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "CheckAccess"),
		slog.String("userID", userID.String()), slog.String("feature", string(feature)))

	tier, err := s.subscriptions.EffectiveTier(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Tier resolution failed")
		return types.AccessDecision{}, fmt.Errorf("error resolving tier: %w", err)
	}
	limits := billing.LimitsFor(tier)

	// The agents gate is tier membership, no counter involved.
	if feature == types.FeatureAgents {
		decision := types.AccessDecision{
			Allowed: limits.Agents,
			Feature: feature,
			Tier:    tier,
		}
		if !decision.Allowed {
			decision.Reason = types.DenialTierRequired
		}
		s.recordDecision(ctx, span, l, decision)
		return decision, nil
	}

	u, err := s.usage.CurrentUsage(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Usage fetch failed")
		return types.AccessDecision{}, fmt.Errorf("error fetching usage: %w", err)
	}

	decision := s.evaluate(tier, limits, feature, u)
	s.recordDecision(ctx, span, l, decision)
	return decision, nil
}

func (s *ServiceImpl) evaluate(tier types.PlanTier, limits billing.TierLimits, feature types.Feature, u *types.UserUsage) types.AccessDecision {
	decision := types.AccessDecision{
		Feature: feature,
		Tier:    tier,
	}

	switch feature {
	case types.FeatureReports:
		decision.Limit = limits.Reports
		decision.CurrentUsage = u.ReportsGenerated

	case types.FeatureWebSearches:
		decision.Limit = limits.WebSearches
		decision.CurrentUsage = u.WebSearches

	case types.FeatureChatMessages:
		decision.Limit = limits.ChatMessages
		decision.CurrentUsage = s.monthlyChatCount(limits, u)

		// The daily cap applies on top of the monthly one.
		if limits.ChatDailyLimit != types.Unlimited {
			daily := s.dailyChatCount(u)
			if daily >= limits.ChatDailyLimit {
				decision.Allowed = false
				decision.Reason = types.DenialDailyLimit
				decision.Limit = limits.ChatDailyLimit
				decision.CurrentUsage = daily
				return decision
			}
		}

	default:
		decision.Allowed = false
		decision.Reason = types.DenialTierRequired
		return decision
	}

	if decision.Limit != types.Unlimited && decision.CurrentUsage >= decision.Limit {
		decision.Allowed = false
		decision.Reason = types.DenialMonthlyLimit
		return decision
	}

	decision.Allowed = true
	return decision
}

// monthlyChatCount picks the counter the tier bills chat against: free-model
// messages for the free tier, premium-model messages for paid tiers.
func (s *ServiceImpl) monthlyChatCount(limits billing.TierLimits, u *types.UserUsage) int {
	if limits.ChatModelTier == types.ModelTierPremium {
		return u.ChatMessagesPremium
	}
	return u.ChatMessagesFree
}

// dailyChatCount reads the lazy-reset daily counter: a stale last_chat_date
// means the day rolled over and the stored count no longer applies.
func (s *ServiceImpl) dailyChatCount(u *types.UserUsage) int {
	if u.LastChatDate == nil || !types.SameDay(*u.LastChatDate, s.now()) {
		return 0
	}
	return u.DailyChatCount
}

func (s *ServiceImpl) recordDecision(ctx context.Context, span trace.Span, l *slog.Logger, d types.AccessDecision) {
	outcome := "allowed"
	if !d.Allowed {
		outcome = string(d.Reason)
		l.InfoContext(ctx, "Feature access denied",
			slog.String("tier", string(d.Tier)), slog.String("reason", string(d.Reason)),
			slog.Int("limit", d.Limit), slog.Int("currentUsage", d.CurrentUsage))
	}
	if m := metrics.Get(); m != nil {
		m.AdmissionDecisionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("feature", string(d.Feature)),
			attribute.String("outcome", outcome),
		))
	}
	span.SetAttributes(attribute.Bool("decision.allowed", d.Allowed))
	span.SetStatus(codes.Ok, "Decision made")
}

func (s *ServiceImpl) Stats(ctx context.Context, userID uuid.UUID) (*types.UsageStats, error) {
	ctx, span := otel.Tracer("EntitlementService").Start(ctx, "Stats", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	var (
		tier types.PlanTier
		u    *types.UserUsage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tier, err = s.subscriptions.EffectiveTier(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		u, err = s.usage.CurrentUsage(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Stats assembly failed")
		return nil, fmt.Errorf("error assembling usage stats: %w", err)
	}

	limits := billing.LimitsFor(tier)
	monthlyChat := s.monthlyChatCount(limits, u)
	dailyChat := s.dailyChatCount(u)

	stats := &types.UsageStats{Tier: tier}
	stats.Usage.Reports = types.QuotaStat{
		Used:      u.ReportsGenerated,
		Limit:     limits.Reports,
		Remaining: types.Remaining(limits.Reports, u.ReportsGenerated),
	}
	stats.Usage.WebSearches = types.QuotaStat{
		Used:      u.WebSearches,
		Limit:     limits.WebSearches,
		Remaining: types.Remaining(limits.WebSearches, u.WebSearches),
	}
	stats.Usage.ChatMessages = types.ChatQuotaStat{
		UsedPremium:      u.ChatMessagesPremium,
		UsedFree:         u.ChatMessagesFree,
		UsedDaily:        dailyChat,
		LimitDaily:       limits.ChatDailyLimit,
		LimitMonthly:     limits.ChatMessages,
		RemainingDaily:   types.Remaining(limits.ChatDailyLimit, dailyChat),
		RemainingMonthly: types.Remaining(limits.ChatMessages, monthlyChat),
	}
	stats.Usage.Agents = types.AgentsStat{Enabled: limits.Agents}

	span.SetStatus(codes.Ok, "Stats assembled")
	return stats, nil
}
