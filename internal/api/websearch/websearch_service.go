package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rooftops-ai/entitlements/app/httpclient"
	"github.com/rooftops-ai/entitlements/config"
	"github.com/rooftops-ai/entitlements/internal/api/entitlement"
	"github.com/rooftops-ai/entitlements/internal/api/usage"
	"github.com/rooftops-ai/entitlements/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

// Service proxies web searches to the upstream search API behind the
// per-month search quota.
type Service interface {
	Search(ctx context.Context, userID uuid.UUID, query string) (*SearchResults, types.AccessDecision, error)
}

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type SearchResults struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

type ServiceImpl struct {
	logger       *slog.Logger
	entitlements entitlement.Service
	usage        usage.Service
	client       *httpclient.Client
	baseURL      string
	apiKey       string
}

func NewWebSearchService(cfg config.Config, entitlements entitlement.Service, usageService usage.Service, client *httpclient.Client, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:       logger,
		entitlements: entitlements,
		usage:        usageService,
		client:       client,
		baseURL:      cfg.Search.BaseURL,
		apiKey:       cfg.Search.APIKey,
	}
}

func (s *ServiceImpl) Search(ctx context.Context, userID uuid.UUID, query string) (*SearchResults, types.AccessDecision, error) {
	ctx, span := otel.Tracer("WebSearchService").Start(ctx, "Search", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "Search"), slog.String("userID", userID.String()))

	decision, err := s.entitlements.CheckAccess(ctx, userID, types.FeatureWebSearches)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Admission check failed")
		return nil, types.AccessDecision{}, fmt.Errorf("error checking search access: %w", err)
	}
	if !decision.Allowed {
		span.SetStatus(codes.Ok, "Search denied by quota")
		return nil, decision, nil
	}

	results, err := s.fetch(ctx, query)
	if err != nil {
		l.ErrorContext(ctx, "Upstream search failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Upstream search failed")
		return nil, decision, fmt.Errorf("error executing web search: %w", err)
	}

	s.usage.TrackWebSearch(ctx, userID)

	span.SetAttributes(attribute.Int("results.count", len(results.Results)))
	span.SetStatus(codes.Ok, "Search completed")
	return results, decision, nil
}

func (s *ServiceImpl) fetch(ctx context.Context, query string) (*SearchResults, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid search base URL: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	return &SearchResults{Query: query, Results: payload.Results}, nil
}
