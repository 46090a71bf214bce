package qrimage

import (
	"errors"
	"fmt"
	"image/color"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/image/colornames"
)

// Размер модуля QR кода в пикселях
const modulePixels = 10

var (
	ErrInvalidURL   = errors.New("invalid url")
	ErrInvalidColor = errors.New("invalid color")
)

var validate = validator.New()

// ValidateURL проверяет, что адрес абсолютный http(s) и не указывает на localhost
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if err := validate.Var(raw, "required,url"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	host := u.Hostname()
	switch {
	case host == "":
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	case strings.EqualFold(host, "localhost"):
		return fmt.Errorf("%w: localhost is not allowed", ErrInvalidURL)
	case net.ParseIP(host) == nil && !strings.Contains(host, "."):
		return fmt.Errorf("%w: host %q is not a domain name", ErrInvalidURL, host)
	}
	return nil
}

// ParseColor принимает CSS имя цвета или hex (#rgb, #rrggbb)
func ParseColor(name string) (color.Color, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidColor)
	}

	if strings.HasPrefix(name, "#") {
		c, err := colorful.Hex(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidColor, name)
		}
		return c, nil
	}

	c, ok := colornames.Map[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidColor, name)
	}
	return c, nil
}

// EnsureDir создаёт каталог для изображений
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

type Encoder struct {
	logger *zap.Logger
}

func NewEncoder(logger *zap.Logger) *Encoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Encoder{logger: logger}
}

// Encode растеризует payloadURL в PNG по пути path, перезаписывая существующий файл.
// Ошибки не возвращаются: они логируются, результат false.
func (e *Encoder) Encode(payloadURL, path, fillColor, backColor string) bool {
	log := e.logger.With(zap.String("path", path))

	if err := ValidateURL(payloadURL); err != nil {
		log.Warn("Refusing to encode invalid URL", zap.String("url", payloadURL), zap.Error(err))
		return false
	}

	fill, err := ParseColor(fillColor)
	if err != nil {
		log.Warn("Invalid fill color", zap.Error(err))
		return false
	}
	back, err := ParseColor(backColor)
	if err != nil {
		log.Warn("Invalid background color", zap.Error(err))
		return false
	}

	code, err := qrcode.New(payloadURL, qrcode.Medium)
	if err != nil {
		log.Error("Failed to encode QR code", zap.Error(err))
		return false
	}
	code.ForegroundColor = fill
	code.BackgroundColor = back

	// отрицательный размер: modulePixels пикселей на модуль
	if err := code.WriteFile(-modulePixels, path); err != nil {
		log.Error("Failed to write QR code image", zap.Error(err))
		return false
	}

	log.Debug("QR code image written", zap.String("url", payloadURL))
	return true
}
