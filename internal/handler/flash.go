package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const flashCookie = "qr_flash"

type Flash struct {
	Kind    string // success | error
	Message string
}

// setFlash сохраняет сообщение до следующего запроса (gin экранирует значение cookie)
func setFlash(c *gin.Context, kind, message string) {
	c.SetCookie(flashCookie, kind+"|"+message, 60, "/", "", false, true)
}

// popFlash читает и сразу сбрасывает flash сообщение
func popFlash(c *gin.Context) *Flash {
	raw, err := c.Cookie(flashCookie)
	if err != nil || raw == "" {
		return nil
	}
	c.SetCookie(flashCookie, "", -1, "/", "", false, true)

	kind, message, ok := strings.Cut(raw, "|")
	if !ok || message == "" {
		return nil
	}
	return &Flash{Kind: kind, Message: message}
}
