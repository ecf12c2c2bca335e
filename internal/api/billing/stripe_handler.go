package billing

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	appMiddleware "github.com/rooftops-ai/entitlements/app/middleware"
	"github.com/rooftops-ai/entitlements/app/observability/metrics"
	"github.com/rooftops-ai/entitlements/internal/api"
	"github.com/rooftops-ai/entitlements/internal/types"
)

const webhookBodyLimit = 1 << 20 // 1 MiB

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	StripeWebhook(w http.ResponseWriter, r *http.Request)
	CreateCheckoutSession(w http.ResponseWriter, r *http.Request)
	CreatePortalSession(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	billingService Service
	webhookSecret  string
	logger         *slog.Logger

	// Signature verification is a function field so tests can inject events
	// without computing real signatures.
	constructEvent func(payload []byte, sigHeader, secret string) (stripe.Event, error)
}

func NewHandlerImpl(billingService Service, webhookSecret string, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		billingService: billingService,
		webhookSecret:  webhookSecret,
		logger:         logger,
		constructEvent: func(payload []byte, sigHeader, secret string) (stripe.Event, error) {
			return webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
				IgnoreAPIVersionMismatch: true,
			})
		},
	}
}

// StripeWebhook godoc
// @Summary      Stripe Webhook
// @Description  Receives billing events from Stripe. Signature-verified; unauthenticated. Returns 400 on a bad signature (no retry) and 500 on processing failure so Stripe redelivers.
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Success      200 {object} map[string]interface{} "Acknowledgement"
// @Failure      400 {object} map[string]interface{} "Invalid payload or signature"
// @Failure      500 {object} map[string]interface{} "Processing failed"
// @Router       /webhooks/stripe [post]
func (h *HandlerImpl) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "StripeWebhook"))
	start := time.Now()

	eventType := "unknown"
	outcome := "ok"
	defer func() {
		if m := metrics.Get(); m != nil {
			attrs := metric.WithAttributes(
				attribute.String("event_type", eventType),
				attribute.String("outcome", outcome),
			)
			m.WebhookEventsTotal.Add(ctx, 1, attrs)
			m.WebhookDurationSeconds.Record(ctx, time.Since(start).Seconds(), attrs)
		}
	}()

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		outcome = "bad_payload"
		l.WarnContext(ctx, "Failed to read webhook body", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, "Failed to read request body")
		return
	}

	event, err := h.constructEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		outcome = "bad_signature"
		l.WarnContext(ctx, "Webhook signature verification failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid webhook signature")
		return
	}
	eventType = string(event.Type)

	if err := h.billingService.ProcessEvent(ctx, event); err != nil {
		outcome = "error"
		l.ErrorContext(ctx, "Webhook processing failed",
			slog.String("eventType", eventType), slog.String("eventID", event.ID), slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Webhook processing failed")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{"received": true})
}

type checkoutRequest struct {
	PlanType string `json:"planType"`
	Interval string `json:"interval,omitempty"`
}

// CreateCheckoutSession godoc
// @Summary      Create Checkout Session
// @Description  Opens a Stripe Checkout session for a paid plan and returns the redirect URL.
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Param        body body checkoutRequest true "Plan selection"
// @Success      200 {object} map[string]interface{} "Checkout URL"
// @Failure      400 {object} map[string]interface{} "Invalid plan"
// @Failure      401 {object} map[string]interface{} "Unauthorized"
// @Failure      500 {object} map[string]interface{} "Internal Server Error"
// @Security     BearerAuth
// @Router       /billing/checkout [post]
func (h *HandlerImpl) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "CreateCheckoutSession"))

	userID, err := appMiddleware.GetUserIDFromContext(ctx)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req checkoutRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	tier := types.NormalizePlanTier(req.PlanType)
	if tier == types.PlanFree {
		api.ErrorResponse(w, r, http.StatusBadRequest, "planType must be a paid plan")
		return
	}

	email, _ := appMiddleware.GetUserEmailFromContext(ctx)

	url, err := h.billingService.CreateCheckoutSession(ctx, userID, email, tier, req.Interval == "annual")
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusBadRequest, "Selected plan is not purchasable")
			return
		}
		l.ErrorContext(ctx, "Failed to create checkout session", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to create checkout session")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{"url": url})
}

// CreatePortalSession godoc
// @Summary      Create Billing Portal Session
// @Description  Opens the Stripe billing portal for the authenticated user's billing account.
// @Tags         Billing
// @Produce      json
// @Success      200 {object} map[string]interface{} "Portal URL"
// @Failure      401 {object} map[string]interface{} "Unauthorized"
// @Failure      404 {object} map[string]interface{} "No billing account"
// @Failure      500 {object} map[string]interface{} "Internal Server Error"
// @Security     BearerAuth
// @Router       /billing/portal [post]
func (h *HandlerImpl) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "CreatePortalSession"))

	userID, err := appMiddleware.GetUserIDFromContext(ctx)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	url, err := h.billingService.CreatePortalSession(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "No billing account for this user")
			return
		}
		l.ErrorContext(ctx, "Failed to create portal session", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to create portal session")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{"url": url})
}
