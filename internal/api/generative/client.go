package generative

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/rooftops-ai/entitlements/config"
	"github.com/rooftops-ai/entitlements/internal/types"
)

const (
	freeModel    = "gemini-2.0-flash"
	premiumModel = "gemini-2.5-pro"
)

var _ Generator = (*AIClient)(nil)

// Generator produces model output for the gated routes. The model actually
// used follows the caller's entitlement: paying users get the stronger model.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string, tier types.ModelTier) (string, error)
}

type AIClient struct {
	client       *genai.Client
	freeModel    string
	premiumModel string
}

func NewAIClient(ctx context.Context, cfg config.Config) (*AIClient, error) {
	ctx, span := otel.Tracer("GenerativeAI").Start(ctx, "NewAIClient")
	defer span.End()

	if cfg.Gemini.APIKey == "" {
		err := fmt.Errorf("gemini API key is not configured")
		span.RecordError(err)
		span.SetStatus(codes.Error, "API key not set")
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create Gemini client")
		return nil, err
	}

	c := &AIClient{
		client:       client,
		freeModel:    freeModel,
		premiumModel: premiumModel,
	}
	if cfg.Gemini.Model != "" {
		c.premiumModel = cfg.Gemini.Model
	}

	span.SetStatus(codes.Ok, "AI client created successfully")
	return c, nil
}

func (ai *AIClient) modelFor(tier types.ModelTier) string {
	if tier == types.ModelTierPremium {
		return ai.premiumModel
	}
	return ai.freeModel
}

func (ai *AIClient) GenerateContent(ctx context.Context, prompt string, tier types.ModelTier) (string, error) {
	model := ai.modelFor(tier)
	ctx, span := otel.Tracer("GenerativeAI").Start(ctx, "GenerateContent", trace.WithAttributes(
		attribute.Int("prompt.length", len(prompt)),
		attribute.String("model", model),
	))
	defer span.End()

	result, err := ai.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to generate content")
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	responseText := result.Text()
	span.SetAttributes(attribute.Int("response.length", len(responseText)))
	span.SetStatus(codes.Ok, "Content generated successfully")
	return responseText, nil
}
