package subscription

import (
	"errors"
	"log/slog"
	"net/http"

	appMiddleware "github.com/rooftops-ai/entitlements/app/middleware"
	"github.com/rooftops-ai/entitlements/internal/api"
	"github.com/rooftops-ai/entitlements/internal/types"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	GetSubscription(w http.ResponseWriter, r *http.Request)
	GetPendingDowngrade(w http.ResponseWriter, r *http.Request)
	CancelPendingDowngrade(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	subscriptionService Service
	logger              *slog.Logger
}

func NewHandlerImpl(subscriptionService Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		subscriptionService: subscriptionService,
		logger:              logger,
	}
}

// GetSubscription godoc
// @Summary      Get Subscription
// @Description  Returns the authenticated user's subscription, or null for free-tier users.
// @Tags         Subscription
// @Produce      json
// @Success      200 {object} map[string]interface{} "Subscription payload"
// @Failure      401 {object} map[string]interface{} "Unauthorized"
// @Failure      500 {object} map[string]interface{} "Internal Server Error"
// @Security     BearerAuth
// @Router       /subscription [get]
func (h *HandlerImpl) GetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "GetSubscription"))

	userID, err := appMiddleware.GetUserIDFromContext(ctx)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	sub, err := h.subscriptionService.GetForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{
				"subscription": nil,
				"tier":         types.PlanFree,
			})
			return
		}
		l.ErrorContext(ctx, "Failed to fetch subscription", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to fetch subscription")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{
		"subscription": sub,
		"tier":         sub.EffectiveTier(),
	})
}

// GetPendingDowngrade godoc
// @Summary      Get Pending Downgrade
// @Description  Returns the scheduled downgrade notice for the authenticated user, or null when no downgrade is staged.
// @Tags         Subscription
// @Produce      json
// @Success      200 {object} map[string]interface{} "Downgrade info payload"
// @Failure      401 {object} map[string]interface{} "Unauthorized"
// @Failure      500 {object} map[string]interface{} "Internal Server Error"
// @Security     BearerAuth
// @Router       /subscription/downgrade [get]
func (h *HandlerImpl) GetPendingDowngrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "GetPendingDowngrade"))

	userID, err := appMiddleware.GetUserIDFromContext(ctx)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	info, err := h.subscriptionService.PendingDowngrade(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch pending downgrade", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to fetch downgrade info")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{
		"downgradeInfo": info,
	})
}

// CancelPendingDowngrade godoc
// @Summary      Cancel Pending Downgrade
// @Description  Removes a staged downgrade so the current plan continues past the period rollover.
// @Tags         Subscription
// @Produce      json
// @Success      200 {object} map[string]interface{} "Updated subscription"
// @Failure      401 {object} map[string]interface{} "Unauthorized"
// @Failure      404 {object} map[string]interface{} "No subscription"
// @Failure      500 {object} map[string]interface{} "Internal Server Error"
// @Security     BearerAuth
// @Router       /subscription/downgrade [delete]
func (h *HandlerImpl) CancelPendingDowngrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "CancelPendingDowngrade"))

	userID, err := appMiddleware.GetUserIDFromContext(ctx)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	sub, err := h.subscriptionService.CancelPendingDowngrade(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "No subscription found")
			return
		}
		l.ErrorContext(ctx, "Failed to cancel pending downgrade", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to cancel downgrade")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{
		"message":      "Scheduled downgrade cancelled",
		"subscription": sub,
	})
}
