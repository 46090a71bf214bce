package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/SergeiKhy/qrcode-manager/internal/metrics"
	"github.com/SergeiKhy/qrcode-manager/internal/models"
	"github.com/SergeiKhy/qrcode-manager/internal/qrimage"
	"github.com/SergeiKhy/qrcode-manager/internal/repository"
	"go.uber.org/zap"
)

// Ошибки сервиса
var (
	ErrInvalidURL      = qrimage.ErrInvalidURL
	ErrInvalidColor    = qrimage.ErrInvalidColor
	ErrInvalidFilename = errors.New("invalid filename")
	ErrFilenameTaken   = fmt.Errorf("%w: already used by another QR code", ErrInvalidFilename)
	ErrImageGeneration = errors.New("failed to generate QR code image")
)

const (
	defaultFillColor  = "red"
	defaultBackColor  = "white"
	maxCreateAttempts = 5
	maxFilenameSuffix = 100
	filenameLayout    = "20060102150405"
)

var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.png)?$`)

// ImageEncoder растеризует URL в файл; false означает неудачу (причина уже залогирована)
type ImageEncoder interface {
	Encode(payloadURL, path, fillColor, backColor string) bool
}

type QRCodeService interface {
	Create(ctx context.Context, input models.CreateQRCodeInput) (*models.QRCode, error)
	Get(ctx context.Context, id uint) (*models.QRCode, error)
	List(ctx context.Context) ([]models.QRCode, error)
	Search(ctx context.Context, filter models.SearchFilter) ([]models.QRCode, error)
	Update(ctx context.Context, id uint, input models.UpdateQRCodeInput) (*models.QRCode, error)
	Delete(ctx context.Context, id uint) error
	ImagePath(qr *models.QRCode) string
	ShortLink(qr *models.QRCode) string
}

type Options struct {
	ImageDir string
	BaseURL  string // база для короткой ссылки, закодированной в динамических QR
	Clock    func() time.Time
}

type qrCodeService struct {
	repo    repository.QRCodeRepository
	encoder ImageEncoder
	codes   *ShortCodeGenerator
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func NewQRCodeService(repo repository.QRCodeRepository, encoder ImageEncoder, opts Options, logger *zap.Logger) QRCodeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &qrCodeService{
		repo:    repo,
		encoder: encoder,
		codes:   NewShortCodeGenerator(repo),
		opts:    opts,
		logger:  logger,
		now:     clock,
	}
}

func (s *qrCodeService) Create(ctx context.Context, input models.CreateQRCodeInput) (*models.QRCode, error) {
	url := strings.TrimSpace(input.URL)
	if err := qrimage.ValidateURL(url); err != nil {
		return nil, err
	}

	fill, err := normalizeColor(input.FillColor, defaultFillColor)
	if err != nil {
		return nil, err
	}
	back, err := normalizeColor(input.BackColor, defaultBackColor)
	if err != nil {
		return nil, err
	}

	filename, err := s.chooseFilename(ctx, input.Filename)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		qr := &models.QRCode{
			URL:         url,
			Filename:    filename,
			FillColor:   fill,
			BackColor:   back,
			Description: strings.TrimSpace(input.Description),
			IsActive:    true,
			IsDynamic:   input.IsDynamic,
		}

		if input.IsDynamic {
			code, err := s.codes.Generate(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to generate short code: %w", err)
			}
			qr.ShortCode = &code
		}

		err := s.insertWithImage(ctx, qr)
		if errors.Is(err, repository.ErrShortCodeExists) && input.IsDynamic {
			// код заняли между проверкой и вставкой
			s.logger.Warn("Short code collision, retrying", zap.String("code", qr.Code()), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}

		metrics.QRCodesCreated.WithLabelValues(metrics.Kind(qr.IsDynamic)).Inc()
		s.logger.Info("QR code created",
			zap.Uint("id", qr.ID),
			zap.Bool("dynamic", qr.IsDynamic),
			zap.String("filename", qr.Filename),
		)
		return qr, nil
	}

	return nil, fmt.Errorf("no free short code after %d attempts: %w", maxCreateAttempts, repository.ErrShortCodeExists)
}

// chooseFilename проверяет имя пользователя или генерирует QRCode_<ts>.png,
// добавляя суффикс _2, _3... если файл уже принадлежит другой записи
func (s *qrCodeService) chooseFilename(ctx context.Context, requested string) (string, error) {
	if strings.TrimSpace(requested) != "" {
		filename, err := normalizeFilename(requested)
		if err != nil {
			return "", err
		}
		if err := s.ensureFilenameFree(ctx, filename, 0); err != nil {
			return "", err
		}
		return filename, nil
	}

	base := "QRCode_" + s.now().Format(filenameLayout)
	for n := 1; n <= maxFilenameSuffix; n++ {
		filename := base + ".png"
		if n > 1 {
			filename = fmt.Sprintf("%s_%d.png", base, n)
		}
		taken, err := s.repo.FilenameExists(ctx, filename, 0)
		if err != nil {
			return "", err
		}
		if !taken {
			return filename, nil
		}
	}
	return "", fmt.Errorf("no free filename for %s after %d attempts: %w", base, maxFilenameSuffix, ErrFilenameTaken)
}

func (s *qrCodeService) ensureFilenameFree(ctx context.Context, filename string, ownerID uint) error {
	taken, err := s.repo.FilenameExists(ctx, filename, ownerID)
	if err != nil {
		return err
	}
	if taken {
		return ErrFilenameTaken
	}
	return nil
}

// insertWithImage вставляет запись и пишет изображение в одной транзакции
func (s *qrCodeService) insertWithImage(ctx context.Context, qr *models.QRCode) error {
	path := s.ImagePath(qr)
	written := false

	err := s.repo.WithinTransaction(ctx, func(tx repository.QRCodeRepository) error {
		if err := tx.Create(ctx, qr); err != nil {
			return err
		}
		if !s.encoder.Encode(s.payload(qr), path, qr.FillColor, qr.BackColor) {
			return ErrImageGeneration
		}
		written = true
		return nil
	})
	if err != nil && written {
		// изображение записано, но коммит не прошёл
		s.removeImage(path)
	}
	return err
}

func (s *qrCodeService) Get(ctx context.Context, id uint) (*models.QRCode, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *qrCodeService) List(ctx context.Context) ([]models.QRCode, error) {
	return s.repo.List(ctx)
}

func (s *qrCodeService) Search(ctx context.Context, filter models.SearchFilter) ([]models.QRCode, error) {
	return s.repo.Search(ctx, filter)
}

func (s *qrCodeService) Update(ctx context.Context, id uint, input models.UpdateQRCodeInput) (*models.QRCode, error) {
	qr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := *qr

	if err := s.apply(qr, input); err != nil {
		return nil, err
	}
	if qr.Filename != previous.Filename {
		if err := s.ensureFilenameFree(ctx, qr.Filename, qr.ID); err != nil {
			return nil, err
		}
	}

	// у динамического кода закодирована короткая ссылка, она не меняется
	regenerate := !qr.IsDynamic ||
		qr.FillColor != previous.FillColor ||
		qr.BackColor != previous.BackColor ||
		qr.Filename != previous.Filename

	path := s.ImagePath(qr)
	oldPath := s.ImagePath(&previous)
	written := false

	err = s.repo.WithinTransaction(ctx, func(tx repository.QRCodeRepository) error {
		if err := tx.Update(ctx, qr); err != nil {
			return err
		}
		if regenerate {
			if !s.encoder.Encode(s.payload(qr), path, qr.FillColor, qr.BackColor) {
				return ErrImageGeneration
			}
			written = true
		}
		return nil
	})
	if err != nil {
		switch {
		case written && path != oldPath:
			s.removeImage(path)
		case written:
			// файл перезаписан на месте, а строка откатилась
			s.logger.Error("QR code image was regenerated but the update was rolled back, storage is inconsistent",
				zap.Uint("id", id),
				zap.String("path", path),
				zap.Error(err),
			)
		}
		return nil, err
	}

	if written && path != oldPath {
		s.removeImage(oldPath)
	}

	s.logger.Info("QR code updated", zap.Uint("id", id), zap.Bool("image_regenerated", regenerate))
	return s.repo.GetByID(ctx, id)
}

// apply переносит изменения из input; is_dynamic и short_code не трогаются
func (s *qrCodeService) apply(qr *models.QRCode, input models.UpdateQRCodeInput) error {
	if input.URL != nil {
		url := strings.TrimSpace(*input.URL)
		if err := qrimage.ValidateURL(url); err != nil {
			return err
		}
		qr.URL = url
	}

	if input.FillColor != nil {
		fill, err := normalizeColor(*input.FillColor, defaultFillColor)
		if err != nil {
			return err
		}
		qr.FillColor = fill
	}
	if input.BackColor != nil {
		back, err := normalizeColor(*input.BackColor, defaultBackColor)
		if err != nil {
			return err
		}
		qr.BackColor = back
	}

	if input.Description != nil {
		qr.Description = strings.TrimSpace(*input.Description)
	}
	if input.IsActive != nil {
		qr.IsActive = *input.IsActive
	}

	if input.RedirectURL != nil {
		redirect := strings.TrimSpace(*input.RedirectURL)
		if redirect == "" {
			qr.RedirectURL = nil
		} else {
			if err := qrimage.ValidateURL(redirect); err != nil {
				return fmt.Errorf("redirect %w", err)
			}
			qr.RedirectURL = &redirect
		}
	}

	if input.Filename != nil && strings.TrimSpace(*input.Filename) != "" {
		filename, err := normalizeFilename(*input.Filename)
		if err != nil {
			return err
		}
		qr.Filename = filename
	}
	return nil
}

func (s *qrCodeService) Delete(ctx context.Context, id uint) error {
	qr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.WithinTransaction(ctx, func(tx repository.QRCodeRepository) error {
		return tx.Delete(ctx, id)
	}); err != nil {
		return err
	}

	s.removeImage(s.ImagePath(qr))
	s.logger.Info("QR code deleted", zap.Uint("id", id))
	return nil
}

func (s *qrCodeService) ImagePath(qr *models.QRCode) string {
	return filepath.Join(s.opts.ImageDir, qr.Filename)
}

// ShortLink возвращает закодированную короткую ссылку или пустую строку
func (s *qrCodeService) ShortLink(qr *models.QRCode) string {
	if !qr.IsDynamic || qr.Code() == "" {
		return ""
	}
	return s.opts.BaseURL + "/r/" + qr.Code()
}

// payload: что кодируется в изображении
func (s *qrCodeService) payload(qr *models.QRCode) string {
	if link := s.ShortLink(qr); link != "" {
		return link
	}
	return qr.URL
}

// removeImage удаляет файл; отсутствие файла не ошибка
func (s *qrCodeService) removeImage(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Error("Failed to remove QR code image, storage is inconsistent",
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

func normalizeColor(raw, fallback string) (string, error) {
	c := strings.TrimSpace(raw)
	if c == "" {
		c = fallback
	}
	if _, err := qrimage.ParseColor(c); err != nil {
		return "", err
	}
	return c, nil
}

func normalizeFilename(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if !filenamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q (letters, digits, '_' and '-' only)", ErrInvalidFilename, raw)
	}
	if !strings.HasSuffix(name, ".png") {
		name += ".png"
	}
	return name, nil
}
