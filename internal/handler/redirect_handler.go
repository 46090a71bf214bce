package handler

import (
	"errors"
	"net/http"

	"github.com/SergeiKhy/qrcode-manager/internal/repository"
	"github.com/SergeiKhy/qrcode-manager/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RedirectHandler struct {
	resolver *service.RedirectResolver
	logger   *zap.Logger
}

func NewRedirectHandler(resolver *service.RedirectResolver, logger *zap.Logger) *RedirectHandler {
	return &RedirectHandler{resolver: resolver, logger: logger}
}

// Redirect возвращает обработчик /r или /d в зависимости от mode
func (h *RedirectHandler) Redirect(mode service.RedirectMode) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Param("short_code")

		target, err := h.resolver.Resolve(c.Request.Context(), code, mode)
		if err != nil {
			if errors.Is(err, repository.ErrQRCodeNotFound) {
				h.logger.Debug("Short code not found", zap.String("code", code))
				renderError(c, http.StatusNotFound, "QR code not found or inactive")
				return
			}
			h.logger.Error("Failed to resolve short code", zap.String("code", code), zap.Error(err))
			renderError(c, http.StatusInternalServerError, internalErrorMessage)
			return
		}

		c.Redirect(http.StatusFound, target)
	}
}
