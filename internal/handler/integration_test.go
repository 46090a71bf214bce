package handler_test

import (
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/SergeiKhy/qrcode-manager/internal/assistant"
	"github.com/SergeiKhy/qrcode-manager/internal/config"
	"github.com/SergeiKhy/qrcode-manager/internal/handler"
	"github.com/SergeiKhy/qrcode-manager/internal/middleware"
	"github.com/SergeiKhy/qrcode-manager/internal/qrimage"
	"github.com/SergeiKhy/qrcode-manager/internal/repository"
	"github.com/SergeiKhy/qrcode-manager/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupIntegration собирает приложение на SQLite в памяти с настоящим кодировщиком
func setupIntegration(t *testing.T) (*gin.Engine, repository.QRCodeRepository, string) {
	t.Helper()
	logger := zap.NewNop()

	db, err := repository.NewDatabase(config.DBConfig{URL: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repository.Close(db) })
	require.NoError(t, repository.AutoMigrate(t.Context(), db))

	dir := t.TempDir()
	require.NoError(t, qrimage.EnsureDir(dir))

	repo := repository.NewQRCodeRepository(db)
	svc := service.NewQRCodeService(repo, qrimage.NewEncoder(logger), service.Options{ImageDir: dir, BaseURL: "http://127.0.0.1:8080"}, logger)
	dispatcher, err := assistant.NewDispatcher(assistant.Options{}, svc, nil, logger)
	require.NoError(t, err)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{RequestsPerSecond: 100, BurstSize: 100})
	router := handler.NewRouter(
		handler.RouterConfig{ImageDir: dir, BaseURL: "http://127.0.0.1:8080"},
		svc, service.NewRedirectResolver(repo, logger), dispatcher, rateLimiter, nil, logger,
	)
	return router, repo, dir
}

func TestIntegration_FullFlow(t *testing.T) {
	router, repo, _ := setupIntegration(t)
	ctx := t.Context()

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("генерация динамического кода", func(t *testing.T) {
		w := serve(postForm("/generate", url.Values{
			"url":         {"https://example.com"},
			"is_dynamic":  {"on"},
			"fill_color":  {"black"},
			"back_color":  {"#ffffff"},
			"description": {"Integration"},
		}))
		assert.Equal(t, http.StatusFound, w.Code)
	})

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	qr := list[0]

	t.Run("изображение доступно и является PNG", func(t *testing.T) {
		w := serve(httptest.NewRequest(http.MethodGet, "/qr_codes/"+qr.Filename, nil))
		require.Equal(t, http.StatusOK, w.Code)
		_, err := png.Decode(w.Body)
		assert.NoError(t, err)
	})

	t.Run("редирект увеличивает счётчик", func(t *testing.T) {
		w := serve(httptest.NewRequest(http.MethodGet, "/r/"+qr.Code(), nil))
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://example.com", w.Header().Get("Location"))

		got, err := repo.GetByID(ctx, qr.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.AccessCount)
	})

	t.Run("удаление", func(t *testing.T) {
		w := serve(httptest.NewRequest(http.MethodPost, fmt.Sprintf("/qr/%d/delete", qr.ID), nil))
		assert.Equal(t, http.StatusFound, w.Code)

		w = serve(httptest.NewRequest(http.MethodGet, "/qr_codes/"+qr.Filename, nil))
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = serve(httptest.NewRequest(http.MethodGet, "/r/"+qr.Code(), nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// TestIntegration_FilenameConflict: переименование в чужой файл отклоняется, изображение владельца цело
func TestIntegration_FilenameConflict(t *testing.T) {
	router, repo, dir := setupIntegration(t)
	ctx := t.Context()

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	for _, target := range []string{"https://alpha.example.com", "https://beta.example.com"} {
		require.Equal(t, http.StatusFound, serve(postForm("/generate", url.Values{"url": {target}})).Code)
	}

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	beta, alpha := list[0], list[1]
	assert.NotEqual(t, alpha.Filename, beta.Filename)

	before, err := os.ReadFile(filepath.Join(dir, alpha.Filename))
	require.NoError(t, err)

	w := serve(postForm(fmt.Sprintf("/qr/%d/edit", beta.ID), url.Values{
		"url":       {beta.URL},
		"filename":  {alpha.Filename},
		"is_active": {"on"},
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "already used by another QR code")

	after, err := os.ReadFile(filepath.Join(dir, alpha.Filename))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.Equal(t, http.StatusFound, serve(httptest.NewRequest(http.MethodPost, fmt.Sprintf("/qr/%d/delete", beta.ID), nil)).Code)
	assert.FileExists(t, filepath.Join(dir, alpha.Filename))
}
