package agents

import (
	"log/slog"
	"net/http"

	appMiddleware "github.com/rooftops-ai/entitlements/app/middleware"
	"github.com/rooftops-ai/entitlements/internal/api"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	ListAgents(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	agentsService Service
	logger        *slog.Logger
}

func NewHandlerImpl(agentsService Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		agentsService: agentsService,
		logger:        logger,
	}
}

// ListAgents godoc
// @Summary      List Agents
// @Description  Returns the agent library. Requires a premium or business plan.
// @Tags         Agents
// @Produce      json
// @Success      200 {object} map[string]interface{} "Agent list"
// @Failure      401 {object} map[string]interface{} "Unauthorized"
// @Failure      403 {object} map[string]interface{} "Plan upgrade required"
// @Failure      500 {object} map[string]interface{} "Internal Server Error"
// @Security     BearerAuth
// @Router       /agents [get]
func (h *HandlerImpl) ListAgents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "ListAgents"))

	userID, err := appMiddleware.GetUserIDFromContext(ctx)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	list, decision, err := h.agentsService.ListAgents(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list agents", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to list agents")
		return
	}
	if list == nil {
		api.QuotaExceededResponse(w, r, decision)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{"agents": list})
}
