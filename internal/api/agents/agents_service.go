package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rooftops-ai/entitlements/internal/api/entitlement"
	"github.com/rooftops-ai/entitlements/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

// Service exposes the agent library. Access is a pure tier gate: paid plans
// see the catalog, the free tier is refused outright, no counter involved.
type Service interface {
	ListAgents(ctx context.Context, userID uuid.UUID) ([]Agent, types.AccessDecision, error)
}

type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// agentCatalog is static: agents ship with the binary, entitlement only
// decides who may see them.
var agentCatalog = []Agent{
	{ID: "estimate-builder", Name: "Estimate Builder", Description: "Drafts itemized roofing estimates from inspection findings."},
	{ID: "lead-qualifier", Name: "Lead Qualifier", Description: "Scores inbound leads by roof age, damage signals, and urgency."},
	{ID: "claim-assistant", Name: "Claim Assistant", Description: "Prepares insurance claim documentation from report data."},
	{ID: "followup-writer", Name: "Follow-up Writer", Description: "Writes customer follow-up emails after inspections and quotes."},
}

type ServiceImpl struct {
	logger       *slog.Logger
	entitlements entitlement.Service
}

func NewAgentsService(entitlements entitlement.Service, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:       logger,
		entitlements: entitlements,
	}
}

func (s *ServiceImpl) ListAgents(ctx context.Context, userID uuid.UUID) ([]Agent, types.AccessDecision, error) {
	ctx, span := otel.Tracer("AgentsService").Start(ctx, "ListAgents", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	decision, err := s.entitlements.CheckAccess(ctx, userID, types.FeatureAgents)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Admission check failed")
		return nil, types.AccessDecision{}, fmt.Errorf("error checking agent access: %w", err)
	}
	if !decision.Allowed {
		span.SetStatus(codes.Ok, "Agents denied by tier")
		return nil, decision, nil
	}

	span.SetStatus(codes.Ok, "Agents listed")
	return agentCatalog, decision, nil
}
