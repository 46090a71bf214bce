package handler

import (
	"errors"
	"net/http"

	"github.com/SergeiKhy/qrcode-manager/internal/assistant"
	"github.com/SergeiKhy/qrcode-manager/internal/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ChatHandler struct {
	assistant *assistant.Dispatcher
	logger    *zap.Logger
}

func NewChatHandler(assistant *assistant.Dispatcher, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{assistant: assistant, logger: logger}
}

type ChatRequest struct {
	Message string `json:"message"`
}

type UpdateModelRequest struct {
	Model string `json:"model" binding:"required"`
}

type ErrorResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Response string `json:"response"`
}

// Chat передаёт сообщение ассистенту и возвращает {success, response, function_call?}
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Response: "Request body must be JSON like {\"message\": \"...\"}"})
		return
	}

	reply, err := h.assistant.Process(c.Request.Context(), req.Message)
	if err != nil {
		status, body := h.chatError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Chat request failed",
				zap.String("request_id", middleware.GetRequestID(c)),
				zap.String("api_key", middleware.APIKeyName(c)),
				zap.Error(err),
			)
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, reply)
}

func (h *ChatHandler) chatError(err error) (int, ErrorResponse) {
	var vErr *assistant.ValidationError
	switch {
	case errors.Is(err, assistant.ErrEmptyMessage):
		return http.StatusBadRequest, ErrorResponse{Error: "empty_message", Response: "Please enter a message."}
	case errors.As(err, &vErr):
		return http.StatusBadRequest, ErrorResponse{Error: "validation_error", Response: vErr.Message}
	case errors.Is(err, assistant.ErrNotConfigured):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "not_configured", Response: assistant.NotConfiguredMessage}
	case errors.Is(err, assistant.ErrUpstreamRateLimited):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "rate_limited", Response: assistant.RateLimitedMessage}
	case errors.Is(err, assistant.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "upstream_unavailable", Response: assistant.UnavailableMessage}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Response: internalErrorMessage}
	}
}

// UpdateModel переключает модель; допускаются только значения из assistant.AllowedModels
func (h *ChatHandler) UpdateModel(c *gin.Context) {
	var req UpdateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request", "message": "model is required"})
		return
	}

	if err := h.assistant.SetModel(req.Model); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "unsupported_model",
			"message": "Unsupported model: " + req.Model,
			"allowed": assistant.AllowedModels,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "model": h.assistant.Model()})
}
