package chat

import (
	"log/slog"
	"net/http"
	"strings"

	appMiddleware "github.com/rooftops-ai/entitlements/app/middleware"
	"github.com/rooftops-ai/entitlements/internal/api"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	SendMessage(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	chatService Service
	logger      *slog.Logger
}

func NewHandlerImpl(chatService Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		chatService: chatService,
		logger:      logger,
	}
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessage godoc
// @Summary      Send Chat Message
// @Description  Sends one chat message through the quota gate. Free-tier users are limited per month and per day; denials carry the limit that was hit.
// @Tags         Chat
// @Accept       json
// @Produce      json
// @Param        body body sendMessageRequest true "Message"
// @Success      200 {object} MessageReply "Model reply"
// @Failure      400 {object} map[string]interface{} "Invalid request"
// @Failure      401 {object} map[string]interface{} "Unauthorized"
// @Failure      402 {object} map[string]interface{} "Quota exceeded"
// @Failure      500 {object} map[string]interface{} "Internal Server Error"
// @Security     BearerAuth
// @Router       /chat [post]
func (h *HandlerImpl) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "SendMessage"))

	userID, err := appMiddleware.GetUserIDFromContext(ctx)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req sendMessageRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "message must not be empty")
		return
	}

	reply, decision, err := h.chatService.SendMessage(ctx, userID, req.Message)
	if err != nil {
		l.ErrorContext(ctx, "Failed to process chat message", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to process message")
		return
	}
	if reply == nil {
		api.QuotaExceededResponse(w, r, decision)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, reply)
}
