package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

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

// Service generates roof inspection reports behind the monthly report quota.
type Service interface {
	GenerateReport(ctx context.Context, userID uuid.UUID, params GenerateReportParams) (*Report, types.AccessDecision, error)
}

type GenerateReportParams struct {
	Address  string `json:"address"`
	RoofType string `json:"roofType,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type Report struct {
	Address string `json:"address"`
	Content string `json:"content"`
}

type ServiceImpl struct {
	logger       *slog.Logger
	entitlements entitlement.Service
	usage        usage.Service
	generator    generative.Generator
}

func NewReportsService(entitlements entitlement.Service, usageService usage.Service, generator generative.Generator, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:       logger,
		entitlements: entitlements,
		usage:        usageService,
		generator:    generator,
	}
}

func (s *ServiceImpl) GenerateReport(ctx context.Context, userID uuid.UUID, params GenerateReportParams) (*Report, types.AccessDecision, error) {
	ctx, span := otel.Tracer("ReportsService").Start(ctx, "GenerateReport", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "GenerateReport"), slog.String("userID", userID.String()))

	decision, err := s.entitlements.CheckAccess(ctx, userID, types.FeatureReports)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Admission check failed")
		return nil, types.AccessDecision{}, fmt.Errorf("error checking report access: %w", err)
	}
	if !decision.Allowed {
		span.SetStatus(codes.Ok, "Report denied by quota")
		return nil, decision, nil
	}

	modelTier := billing.LimitsFor(decision.Tier).ChatModelTier
	content, err := s.generator.GenerateContent(ctx, buildReportPrompt(params), modelTier)
	if err != nil {
		l.ErrorContext(ctx, "Report generation failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Generation failed")
		return nil, decision, fmt.Errorf("error generating report: %w", err)
	}

	s.usage.TrackReport(ctx, userID)

	l.InfoContext(ctx, "Report generated", slog.String("address", params.Address))
	span.SetStatus(codes.Ok, "Report generated")
	return &Report{Address: params.Address, Content: content}, decision, nil
}

func buildReportPrompt(params GenerateReportParams) string {
	var b strings.Builder
	b.WriteString("Write a professional roof inspection report for the property at ")
	b.WriteString(params.Address)
	b.WriteString(".")
	if params.RoofType != "" {
		b.WriteString(" The roof type is ")
		b.WriteString(params.RoofType)
		b.WriteString(".")
	}
	if params.Notes != "" {
		b.WriteString(" Inspector notes: ")
		b.WriteString(params.Notes)
	}
	b.WriteString(" Include sections for condition summary, observed issues, recommended repairs, and an estimated urgency level.")
	return b.String()
}
