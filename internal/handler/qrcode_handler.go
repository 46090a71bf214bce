package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/SergeiKhy/qrcode-manager/internal/assistant"
	"github.com/SergeiKhy/qrcode-manager/internal/middleware"
	"github.com/SergeiKhy/qrcode-manager/internal/models"
	"github.com/SergeiKhy/qrcode-manager/internal/repository"
	"github.com/SergeiKhy/qrcode-manager/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const internalErrorMessage = "Sorry, something went wrong. Please try again later."

type QRCodeHandler struct {
	service   service.QRCodeService
	assistant *assistant.Dispatcher
	baseURL   string
	logger    *zap.Logger

	// apiKeyRequired: /chat и /update_model закрыты API ключом, виджет просит ключ
	apiKeyRequired bool
}

func NewQRCodeHandler(service service.QRCodeService, assistant *assistant.Dispatcher, baseURL string, apiKeyRequired bool, logger *zap.Logger) *QRCodeHandler {
	return &QRCodeHandler{
		service:        service,
		assistant:      assistant,
		baseURL:        baseURL,
		logger:         logger,
		apiKeyRequired: apiKeyRequired,
	}
}

type GenerateForm struct {
	URL         string `form:"url"`
	IsDynamic   string `form:"is_dynamic"`
	FillColor   string `form:"fill_color"`
	BackColor   string `form:"back_color"`
	Description string `form:"description"`
}

// qrView добавляет к записи ссылки для шаблонов
type qrView struct {
	models.QRCode
	ImageURL    string
	ShortLink   string
	DynamicLink string
}

func (h *QRCodeHandler) view(qr models.QRCode) qrView {
	v := qrView{
		QRCode:    qr,
		ImageURL:  "/qr_codes/" + url.PathEscape(qr.Filename),
		ShortLink: h.service.ShortLink(&qr),
	}
	if qr.IsDynamic {
		v.DynamicLink = h.baseURL + "/d/" + qr.Code()
	}
	return v
}

// Index показывает все коды, новые первыми
func (h *QRCodeHandler) Index(c *gin.Context) {
	codes, err := h.service.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list QR codes", zap.Error(err))
		h.renderError(c, http.StatusInternalServerError, internalErrorMessage)
		return
	}

	views := make([]qrView, 0, len(codes))
	for _, qr := range codes {
		views = append(views, h.view(qr))
	}

	c.HTML(http.StatusOK, "index.html", gin.H{
		"Title": "QR codes",
		"Flash": popFlash(c),
		"Codes": views,
	})
}

// Generate создаёт код из формы и возвращает на главную с flash сообщением
func (h *QRCodeHandler) Generate(c *gin.Context) {
	var form GenerateForm
	if err := c.ShouldBind(&form); err != nil {
		setFlash(c, "error", "Invalid form submission")
		c.Redirect(http.StatusFound, "/")
		return
	}

	qr, err := h.service.Create(c.Request.Context(), models.CreateQRCodeInput{
		URL:         form.URL,
		IsDynamic:   form.IsDynamic == "on",
		FillColor:   form.FillColor,
		BackColor:   form.BackColor,
		Description: form.Description,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidURL):
			setFlash(c, "error", "Invalid URL provided")
		case errors.Is(err, service.ErrInvalidColor):
			setFlash(c, "error", "Invalid color. Use a color name like 'red' or a hex value like '#ff0000'.")
		default:
			h.logger.Error("Failed to create QR code", zap.Error(err))
			setFlash(c, "error", internalErrorMessage)
		}
		c.Redirect(http.StatusFound, "/")
		return
	}

	h.logger.Info("QR code generated via form", zap.Uint("id", qr.ID))
	setFlash(c, "success", "QR Code generated successfully!")
	c.Redirect(http.StatusFound, "/")
}

func (h *QRCodeHandler) EditForm(c *gin.Context) {
	qr, ok := h.load(c)
	if !ok {
		return
	}
	h.renderEdit(c, http.StatusOK, qr, "")
}

// Edit сохраняет форму; ошибки проверки возвращают форму с кодом 400
func (h *QRCodeHandler) Edit(c *gin.Context) {
	qr, ok := h.load(c)
	if !ok {
		return
	}

	input := models.UpdateQRCodeInput{IsActive: new(bool)}
	_, *input.IsActive = c.GetPostForm("is_active")
	if v, ok := c.GetPostForm("url"); ok {
		input.URL = &v
	}
	if v, ok := c.GetPostForm("fill_color"); ok {
		input.FillColor = &v
	}
	if v, ok := c.GetPostForm("back_color"); ok {
		input.BackColor = &v
	}
	if v, ok := c.GetPostForm("description"); ok {
		input.Description = &v
	}
	if v, ok := c.GetPostForm("filename"); ok {
		input.Filename = &v
	}
	if v, ok := c.GetPostForm("redirect_url"); ok && qr.IsDynamic {
		input.RedirectURL = &v
	}

	_, err := h.service.Update(c.Request.Context(), qr.ID, input)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFilenameTaken):
			h.renderEdit(c, http.StatusBadRequest, qr, "That filename is already used by another QR code.")
		case errors.Is(err, service.ErrInvalidFilename):
			h.renderEdit(c, http.StatusBadRequest, qr, "Invalid filename. Use only letters, numbers, hyphens and underscores.")
		case errors.Is(err, service.ErrInvalidURL):
			h.renderEdit(c, http.StatusBadRequest, qr, "Invalid URL provided")
		case errors.Is(err, service.ErrInvalidColor):
			h.renderEdit(c, http.StatusBadRequest, qr, "Invalid color. Use a color name like 'red' or a hex value like '#ff0000'.")
		case errors.Is(err, repository.ErrQRCodeNotFound):
			h.renderError(c, http.StatusNotFound, "QR code not found")
		default:
			h.logger.Error("Failed to update QR code", zap.Uint("id", qr.ID), zap.Error(err))
			h.renderEdit(c, http.StatusInternalServerError, qr, internalErrorMessage)
		}
		return
	}

	setFlash(c, "success", "QR Code updated successfully!")
	c.Redirect(http.StatusFound, "/")
}

func (h *QRCodeHandler) Delete(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrQRCodeNotFound) {
			h.renderError(c, http.StatusNotFound, "QR code not found")
			return
		}
		h.logger.Error("Failed to delete QR code", zap.Uint("id", id), zap.Error(err))
		h.renderError(c, http.StatusInternalServerError, internalErrorMessage)
		return
	}

	setFlash(c, "success", "QR Code deleted successfully!")
	c.Redirect(http.StatusFound, "/")
}

// View показывает подробности и состояние ассистента
func (h *QRCodeHandler) View(c *gin.Context) {
	qr, ok := h.load(c)
	if !ok {
		return
	}

	c.HTML(http.StatusOK, "view.html", gin.H{
		"Title":               "QR code #" + strconv.FormatUint(uint64(qr.ID), 10),
		"Flash":               popFlash(c),
		"QR":                  h.view(*qr),
		"AssistantConfigured": h.assistant != nil && h.assistant.Configured(),
		"Model":               h.currentModel(),
		"Models":              assistant.AllowedModels,
		"APIKeyRequired":      h.apiKeyRequired,
		"APIKeyHeader":        middleware.APIKeyHeader,
	})
}

func (h *QRCodeHandler) currentModel() string {
	if h.assistant == nil {
		return ""
	}
	return h.assistant.Model()
}

func (h *QRCodeHandler) load(c *gin.Context) (*models.QRCode, bool) {
	id, ok := h.parseID(c)
	if !ok {
		return nil, false
	}

	qr, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrQRCodeNotFound) {
			h.renderError(c, http.StatusNotFound, "QR code not found")
			return nil, false
		}
		h.logger.Error("Failed to load QR code", zap.Uint("id", id), zap.Error(err))
		h.renderError(c, http.StatusInternalServerError, internalErrorMessage)
		return nil, false
	}
	return qr, true
}

func (h *QRCodeHandler) parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		h.renderError(c, http.StatusNotFound, "QR code not found")
		return 0, false
	}
	return uint(id), true
}

func (h *QRCodeHandler) renderEdit(c *gin.Context, status int, qr *models.QRCode, message string) {
	c.HTML(status, "edit.html", gin.H{
		"Title": "Edit QR code",
		"Flash": nil,
		"QR":    qr,
		"Error": message,
	})
}

func (h *QRCodeHandler) renderError(c *gin.Context, status int, message string) {
	renderError(c, status, message)
}

func renderError(c *gin.Context, status int, message string) {
	c.HTML(status, "error.html", gin.H{
		"Title":   http.StatusText(status),
		"Flash":   nil,
		"Status":  status,
		"Message": message,
	})
}
