// README: Chat history and send handlers.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"roadside/internal/http/middleware"
	"roadside/internal/modules/chat"
	"roadside/internal/types"
)

type ChatService interface {
	Send(ctx context.Context, cmd chat.SendCommand) (*chat.Message, error)
	History(ctx context.Context, requestID types.ID) ([]*chat.Message, error)
}

type ChatHandler struct {
	chat ChatService
}

func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{chat: svc}
}

func (h *ChatHandler) History(c *gin.Context) {
	msgs, err := h.chat.History(c.Request.Context(), types.ID(c.Param("requestId")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	writeData(c, http.StatusOK, msgs)
}

type sendMessageReq struct {
	RequestID  string `json:"requestId"`
	SenderID   string `json:"senderId"`
	SenderRole string `json:"senderRole"`
	Message    string `json:"message"`
}

func (h *ChatHandler) Send(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	senderID, ok := actingAs(c, "", req.SenderID)
	if !ok {
		return
	}
	if middleware.Authenticated(c) {
		role := middleware.CallerRole(c)
		if req.SenderRole == "" {
			req.SenderRole = role
		} else if !strings.EqualFold(req.SenderRole, role) {
			writeError(c, http.StatusForbidden, "forbidden: senderRole does not match authenticated user")
			return
		}
	}
	m, err := h.chat.Send(c.Request.Context(), chat.SendCommand{
		RequestID:  types.ID(req.RequestID),
		SenderID:   senderID,
		SenderRole: req.SenderRole,
		Message:    req.Message,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusCreated, m)
}
