package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rooftops-ai/entitlements/internal/api/billing"
	"github.com/rooftops-ai/entitlements/internal/api/entitlement"
	"github.com/rooftops-ai/entitlements/internal/api/generative"
	"github.com/rooftops-ai/entitlements/internal/api/usage"
	"github.com/rooftops-ai/entitlements/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

// Service is the quota-gated chat surface. Every message passes the
// entitlement check first; usage is tracked only after a successful reply so
// failures never consume quota.
type Service interface {
	SendMessage(ctx context.Context, userID uuid.UUID, message string) (*MessageReply, types.AccessDecision, error)
}

type MessageReply struct {
	Reply     string          `json:"reply"`
	ModelTier types.ModelTier `json:"modelTier"`
}

type ServiceImpl struct {
	logger       *slog.Logger
	entitlements entitlement.Service
	usage        usage.Service
	generator    generative.Generator
}

func NewChatService(entitlements entitlement.Service, usageService usage.Service, generator generative.Generator, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:       logger,
		entitlements: entitlements,
		usage:        usageService,
		generator:    generator,
	}
}

func (s *ServiceImpl) SendMessage(ctx context.Context, userID uuid.UUID, message string) (*MessageReply, types.AccessDecision, error) {
	ctx, span := otel.Tracer("ChatService").Start(ctx, "SendMessage", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "SendMessage"), slog.String("userID", userID.String()))

	decision, err := s.entitlements.CheckAccess(ctx, userID, types.FeatureChatMessages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Admission check failed")
		return nil, types.AccessDecision{}, fmt.Errorf("error checking chat access: %w", err)
	}
	if !decision.Allowed {
		span.SetStatus(codes.Ok, "Chat denied by quota")
		return nil, decision, nil
	}

	modelTier := billing.LimitsFor(decision.Tier).ChatModelTier
	reply, err := s.generator.GenerateContent(ctx, message, modelTier)
	if err != nil {
		l.ErrorContext(ctx, "Chat generation failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Generation failed")
		return nil, decision, fmt.Errorf("error generating chat reply: %w", err)
	}

	s.usage.TrackChat(ctx, userID, modelTier)

	span.SetStatus(codes.Ok, "Chat reply generated")
	return &MessageReply{Reply: reply, ModelTier: modelTier}, decision, nil
}
