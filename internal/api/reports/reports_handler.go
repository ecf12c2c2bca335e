package reports

import (
	"log/slog"
	"net/http"
	"strings"

	appMiddleware "github.com/rooftops-ai/entitlements/app/middleware"
	"github.com/rooftops-ai/entitlements/internal/api"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	GenerateReport(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	reportsService Service
	logger         *slog.Logger
}

func NewHandlerImpl(reportsService Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		reportsService: reportsService,
		logger:         logger,
	}
}

// GenerateReport godoc
// @Summary      Generate Report
// @Description  Generates a roof inspection report behind the monthly report quota.
// @Tags         Reports
// @Accept       json
// @Produce      json
// @Param        body body GenerateReportParams true "Report parameters"
// @Success      200 {object} Report "Generated report"
// @Failure      400 {object} map[string]interface{} "Invalid request"
// @Failure      401 {object} map[string]interface{} "Unauthorized"
// @Failure      402 {object} map[string]interface{} "Quota exceeded"
// @Failure      500 {object} map[string]interface{} "Internal Server Error"
// @Security     BearerAuth
// @Router       /reports [post]
func (h *HandlerImpl) GenerateReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "GenerateReport"))

	userID, err := appMiddleware.GetUserIDFromContext(ctx)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	var params GenerateReportParams
	if err := api.DecodeJSONBody(w, r, &params); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(params.Address) == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "address must not be empty")
		return
	}

	report, decision, err := h.reportsService.GenerateReport(ctx, userID, params)
	if err != nil {
		l.ErrorContext(ctx, "Failed to generate report", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to generate report")
		return
	}
	if report == nil {
		api.QuotaExceededResponse(w, r, decision)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, report)
}
