package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	APIKeyHeader  = "X-API-Key"
	apiKeyNameCtx = "api_key_name"
)

// RequireAPIKey пропускает только запросы с ключом из validKeys (X-API-Key или Authorization: Bearer)
func RequireAPIKey(validKeys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(APIKeyHeader)
		if apiKey == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "missing_api_key",
				"message": "API key required: pass it in the X-API-Key header or as Authorization: Bearer",
			})
			return
		}

		// сравнение за постоянное время
		for validKey, name := range validKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
				c.Set(apiKeyNameCtx, name)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "invalid_api_key",
			"message": "Invalid API key",
		})
	}
}

// APIKeyName возвращает имя ключа, которым аутентифицирован запрос
func APIKeyName(c *gin.Context) string {
	return c.GetString(apiKeyNameCtx)
}
