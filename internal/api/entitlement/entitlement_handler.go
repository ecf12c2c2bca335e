package entitlement

import (
	"log/slog"
	"net/http"

	appMiddleware "github.com/rooftops-ai/entitlements/app/middleware"
	"github.com/rooftops-ai/entitlements/internal/api"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	GetUsageStats(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	entitlementService Service
	logger             *slog.Logger
}

func NewHandlerImpl(entitlementService Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		entitlementService: entitlementService,
		logger:             logger,
	}
}

// GetUsageStats godoc
// @Summary      Get Usage Stats
// @Description  Returns the authenticated user's tier plus per-feature used/limit/remaining counters for the current month.
// @Tags         Entitlement
// @Produce      json
// @Success      200 {object} types.UsageStats "Usage stats"
// @Failure      401 {object} map[string]interface{} "Unauthorized"
// @Failure      500 {object} map[string]interface{} "Internal Server Error"
// @Security     BearerAuth
// @Router       /usage/stats [get]
func (h *HandlerImpl) GetUsageStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "GetUsageStats"))

	userID, err := appMiddleware.GetUserIDFromContext(ctx)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	stats, err := h.entitlementService.Stats(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to assemble usage stats", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to fetch usage stats")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, stats)
}
