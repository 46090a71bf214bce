package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeiKhy/qrcode-manager/internal/assistant"
	"github.com/SergeiKhy/qrcode-manager/internal/config"
	"github.com/SergeiKhy/qrcode-manager/internal/handler"
	"github.com/SergeiKhy/qrcode-manager/internal/logger"
	"github.com/SergeiKhy/qrcode-manager/internal/middleware"
	"github.com/SergeiKhy/qrcode-manager/internal/qrimage"
	"github.com/SergeiKhy/qrcode-manager/internal/repository"
	"github.com/SergeiKhy/qrcode-manager/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Ключ общей блокировки LLM квоты между экземплярами
const llmSlotKey = "qrcode:llm:slot"

func main() {
	root := &cobra.Command{
		Use:          "qrcode-manager",
		Short:        "QR code manager with dynamic redirects and an LLM assistant",
		SilenceUsage: true,
		RunE:         func(cmd *cobra.Command, args []string) error { return serve(cmd.Context()) },
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE:  func(cmd *cobra.Command, args []string) error { return serve(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the database schema and exit",
			RunE:  func(cmd *cobra.Command, args []string) error { return migrate(cmd.Context()) },
		},
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Инициализация логгера
	log, err := logger.New(logger.Config{Development: !cfg.App.IsProduction(), Level: cfg.App.LogLevel})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, log, nil
}

func migrate(ctx context.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	db, err := repository.NewDatabase(cfg.DB)
	if err != nil {
		return err
	}
	defer repository.Close(db)

	if err := repository.AutoMigrate(ctx, db); err != nil {
		return err
	}
	log.Info("Database schema is up to date")
	return nil
}

// writeTimeout покрывает худший /chat: ожидание лимитера и вызов LLM на каждую попытку, плюс запас на ответ
func writeTimeout(a config.AssistantConfig) time.Duration {
	attempts := time.Duration(1)
	if a.Reprompt {
		attempts = 2
	}
	return attempts*(a.Timeout+a.MinInterval) + 15*time.Second
}

func serve(ctx context.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Подключение к БД (postgres или sqlite по DATABASE_URL)
	db, err := repository.NewDatabase(cfg.DB)
	if err != nil {
		return err
	}
	defer repository.Close(db)

	if err := repository.AutoMigrate(ctx, db); err != nil {
		return err
	}
	log.Info("Connected to database")

	if err := qrimage.EnsureDir(cfg.App.QRCodeDir); err != nil {
		return err
	}

	// Ограничение частоты запросов к LLM: через Redis, если он задан
	var limiter assistant.Limiter
	if cfg.Redis.Enabled() {
		rdb, err := repository.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		limiter = assistant.NewRedisLimiter(rdb, llmSlotKey, cfg.Assistant.MinInterval)
		log.Info("Connected to Redis")
	} else {
		limiter = assistant.NewLocalLimiter(cfg.Assistant.MinInterval)
	}

	// Инициализация репозитория и сервисов
	qrRepo := repository.NewQRCodeRepository(db)
	qrService := service.NewQRCodeService(qrRepo, qrimage.NewEncoder(log), service.Options{
		ImageDir: cfg.App.QRCodeDir,
		BaseURL:  cfg.App.BaseURL,
	}, log)
	resolver := service.NewRedirectResolver(qrRepo, log)

	dispatcher, err := assistant.NewDispatcher(assistant.Options{
		APIKey:      cfg.Assistant.APIKey,
		BaseURL:     cfg.Assistant.BaseURL,
		Model:       cfg.Assistant.Model,
		Timeout:     cfg.Assistant.Timeout,
		MinInterval: cfg.Assistant.MinInterval,
		Reprompt:    cfg.Assistant.Reprompt,
	}, qrService, limiter, log)
	if err != nil {
		return err
	}
	if !dispatcher.Configured() {
		log.Warn("GROQ_API_KEY is not set, assistant is disabled")
	}

	// Инициализация middleware
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		CleanupInterval:   time.Minute,
	})

	var apiKeyMiddleware gin.HandlerFunc
	if len(cfg.Auth.APIKeys) > 0 {
		apiKeyMiddleware = middleware.RequireAPIKey(cfg.Auth.APIKeys)
		log.Info("API key authentication enabled", zap.Int("keys_count", len(cfg.Auth.APIKeys)))
	}

	router := handler.NewRouter(handler.RouterConfig{
		ImageDir: cfg.App.QRCodeDir,
		BaseURL:  cfg.App.BaseURL,
	}, qrService, resolver, dispatcher, rateLimiter, apiKeyMiddleware, log)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg.Assistant),
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("port", cfg.App.Port), zap.String("base_url", cfg.App.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exited")
	return nil
}
