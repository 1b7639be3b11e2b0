package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lukaszKielar/lokai-web/internal/model"
	"github.com/lukaszKielar/lokai-web/internal/service"
	"github.com/lukaszKielar/lokai-web/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         log,
	}
}

// List handles GET /api/v1/conversations/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := model.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.messageService.List(r.Context(), conversationID)
	if err != nil {
		if !writeServiceError(w, err, "failed to list messages") {
			h.logger.Error("failed to list messages", zap.String("conversation_id", conversationID), zap.Error(err))
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
