package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/SergeiKhy/qrcode-manager/internal/models"
	"gorm.io/gorm"
)

var (
	ErrQRCodeNotFound  = errors.New("qr code not found")
	ErrShortCodeExists = errors.New("short code already exists")
)

type QRCodeRepository interface {
	Create(ctx context.Context, qr *models.QRCode) error
	GetByID(ctx context.Context, id uint) (*models.QRCode, error)
	List(ctx context.Context) ([]models.QRCode, error)
	Search(ctx context.Context, filter models.SearchFilter) ([]models.QRCode, error)
	Update(ctx context.Context, qr *models.QRCode) error
	Delete(ctx context.Context, id uint) error
	GetActiveByShortCode(ctx context.Context, code string) (*models.QRCode, error)
	ShortCodeExists(ctx context.Context, code string) (bool, error)
	// FilenameExists проверяет, занят ли файл изображения другой записью (excludeID не учитывается)
	FilenameExists(ctx context.Context, filename string, excludeID uint) (bool, error)
	IncrementAccessCount(ctx context.Context, id uint) error
	// WithinTransaction выполняет fn в одной транзакции; ошибка fn откатывает её
	WithinTransaction(ctx context.Context, fn func(repo QRCodeRepository) error) error
}

type qrCodeRepository struct {
	db *gorm.DB
}

func NewQRCodeRepository(db *gorm.DB) QRCodeRepository {
	return &qrCodeRepository{db: db}
}

func (r *qrCodeRepository) Create(ctx context.Context, qr *models.QRCode) error {
	if err := r.db.WithContext(ctx).Create(qr).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrShortCodeExists
		}
		return fmt.Errorf("failed to create qr code: %w", err)
	}
	return nil
}

func (r *qrCodeRepository) GetByID(ctx context.Context, id uint) (*models.QRCode, error) {
	var qr models.QRCode
	if err := r.db.WithContext(ctx).First(&qr, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQRCodeNotFound
		}
		return nil, fmt.Errorf("failed to get qr code: %w", err)
	}
	return &qr, nil
}

func (r *qrCodeRepository) List(ctx context.Context) ([]models.QRCode, error) {
	var result []models.QRCode
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Find(&result).Error; err != nil {
		return nil, fmt.Errorf("failed to list qr codes: %w", err)
	}
	return result, nil
}

func (r *qrCodeRepository) Search(ctx context.Context, filter models.SearchFilter) ([]models.QRCode, error) {
	query := r.db.WithContext(ctx).Model(&models.QRCode{})

	if filter.URL != "" {
		query = query.Where("LOWER(url) LIKE ?", likePattern(filter.URL))
	}
	if filter.Description != "" {
		query = query.Where("LOWER(description) LIKE ?", likePattern(filter.Description))
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var result []models.QRCode
	if err := query.Order("created_at DESC").Order("id DESC").Find(&result).Error; err != nil {
		return nil, fmt.Errorf("failed to search qr codes: %w", err)
	}
	return result, nil
}

func (r *qrCodeRepository) Update(ctx context.Context, qr *models.QRCode) error {
	// is_dynamic и short_code после создания не меняются
	result := r.db.WithContext(ctx).
		Model(&models.QRCode{ID: qr.ID}).
		Select("url", "filename", "fill_color", "back_color", "description", "is_active", "redirect_url").
		Updates(qr)

	if result.Error != nil {
		return fmt.Errorf("failed to update qr code: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrQRCodeNotFound
	}
	return nil
}

func (r *qrCodeRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.QRCode{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete qr code: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrQRCodeNotFound
	}
	return nil
}

func (r *qrCodeRepository) GetActiveByShortCode(ctx context.Context, code string) (*models.QRCode, error) {
	var qr models.QRCode
	err := r.db.WithContext(ctx).
		Where("short_code = ? AND is_active = ?", code, true).
		First(&qr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQRCodeNotFound
		}
		return nil, fmt.Errorf("failed to get qr code by short code: %w", err)
	}
	return &qr, nil
}

func (r *qrCodeRepository) ShortCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.QRCode{}).
		Where("short_code = ?", code).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check short code: %w", err)
	}
	return count > 0, nil
}

func (r *qrCodeRepository) FilenameExists(ctx context.Context, filename string, excludeID uint) (bool, error) {
	var count int64
	query := r.db.WithContext(ctx).
		Model(&models.QRCode{}).
		Where("filename = ?", filename)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check filename: %w", err)
	}
	return count > 0, nil
}

func (r *qrCodeRepository) IncrementAccessCount(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).
		Model(&models.QRCode{ID: id}).
		Update("access_count", gorm.Expr("access_count + ?", 1))
	if result.Error != nil {
		return fmt.Errorf("failed to increment access count: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrQRCodeNotFound
	}
	return nil
}

func (r *qrCodeRepository) WithinTransaction(ctx context.Context, fn func(repo QRCodeRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&qrCodeRepository{db: tx})
	})
}

func likePattern(s string) string {
	return "%" + strings.ToLower(s) + "%"
}
