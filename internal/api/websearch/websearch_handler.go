package websearch

import (
	"log/slog"
	"net/http"
	"strings"

	appMiddleware "github.com/rooftops-ai/entitlements/app/middleware"
	"github.com/rooftops-ai/entitlements/internal/api"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	Search(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	searchService Service
	logger        *slog.Logger
}

func NewHandlerImpl(searchService Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		searchService: searchService,
		logger:        logger,
	}
}

type searchRequest struct {
	Query string `json:"query"`
}

// Search godoc
// @Summary      Web Search
// @Description  Runs one web search through the monthly search quota.
// @Tags         Search
// @Accept       json
// @Produce      json
// @Param        body body searchRequest true "Query"
// @Success      200 {object} SearchResults "Search results"
// @Failure      400 {object} map[string]interface{} "Invalid request"
// @Failure      401 {object} map[string]interface{} "Unauthorized"
// @Failure      402 {object} map[string]interface{} "Quota exceeded"
// @Failure      500 {object} map[string]interface{} "Internal Server Error"
// @Security     BearerAuth
// @Router       /search [post]
func (h *HandlerImpl) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "Search"))

	userID, err := appMiddleware.GetUserIDFromContext(ctx)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req searchRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "query must not be empty")
		return
	}

	results, decision, err := h.searchService.Search(ctx, userID, req.Query)
	if err != nil {
		l.ErrorContext(ctx, "Failed to execute search", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to execute search")
		return
	}
	if results == nil {
		api.QuotaExceededResponse(w, r, decision)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, results)
}
