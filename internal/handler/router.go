package handler

import (
	"net/http"

	"github.com/SergeiKhy/qrcode-manager/internal/assistant"
	"github.com/SergeiKhy/qrcode-manager/internal/middleware"
	"github.com/SergeiKhy/qrcode-manager/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const serviceName = "qrcode-manager"

type RouterConfig struct {
	ImageDir string
	BaseURL  string
}

func NewRouter(
	cfg RouterConfig,
	qrService service.QRCodeService,
	resolver *service.RedirectResolver,
	dispatcher *assistant.Dispatcher,
	rateLimiter *middleware.RateLimiter,
	apiKeyMiddleware gin.HandlerFunc,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()
	router.SetHTMLTemplate(parseTemplates())

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))

	// Rate limiting для всех запросов
	if rateLimiter != nil {
		router.Use(rateLimiter.Middleware())
	}

	qrHandler := NewQRCodeHandler(qrService, dispatcher, cfg.BaseURL, apiKeyMiddleware != nil, logger)
	redirectHandler := NewRedirectHandler(resolver, logger)
	chatHandler := NewChatHandler(dispatcher, logger)

	router.GET("/health", HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// HTML страницы
	router.GET("/", qrHandler.Index)
	router.POST("/generate", qrHandler.Generate)
	router.GET("/qr/:id/edit", qrHandler.EditForm)
	router.POST("/qr/:id/edit", qrHandler.Edit)
	router.POST("/qr/:id/delete", qrHandler.Delete)
	router.GET("/qr/:id/view", qrHandler.View)
	router.Static("/qr_codes", cfg.ImageDir)

	// Редиректы по short code
	router.GET("/r/:short_code", redirectHandler.Redirect(service.RedirectStatic))
	router.GET("/d/:short_code", redirectHandler.Redirect(service.RedirectDynamic))

	// Ассистент; API key только если ключи настроены
	api := router.Group("/")
	if apiKeyMiddleware != nil {
		api.Use(apiKeyMiddleware)
	}
	api.POST("/chat", chatHandler.Chat)
	api.POST("/update_model", chatHandler.UpdateModel)

	router.NoRoute(func(c *gin.Context) {
		renderError(c, http.StatusNotFound, "Page not found")
	})

	return router
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
}
