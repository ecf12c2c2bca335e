package usage

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rooftops-ai/entitlements/internal/api"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	ResetDailyChatCount(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	usageService Service
	logger       *slog.Logger
}

func NewHandlerImpl(usageService Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		usageService: usageService,
		logger:       logger,
	}
}

// ResetDailyChatCount godoc
// @Summary      Reset Daily Chat Count
// @Description  Zeroes a user's daily chat counter. Fallback for the lazy day-rollover reset, invoked by the maintenance scheduler.
// @Tags         Usage
// @Produce      json
// @Param        userID path string true "User ID"
// @Success      200 {object} types.UserUsage "Updated usage"
// @Failure      400 {object} map[string]interface{} "Invalid user ID"
// @Failure      500 {object} map[string]interface{} "Internal Server Error"
// @Security     BearerAuth
// @Router       /admin/usage/{userID}/reset-daily [post]
func (h *HandlerImpl) ResetDailyChatCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "ResetDailyChatCount"))

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		l.WarnContext(ctx, "Invalid user ID format", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	u, err := h.usageService.ResetDaily(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to reset daily chat count", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to reset daily chat count")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, u)
}
