package models

import (
	"time"
)

// QRCode: единственная сохраняемая сущность
type QRCode struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	URL         string    `json:"url" gorm:"size:500;not null"`
	Filename    string    `json:"filename" gorm:"size:255;not null"`
	FillColor   string    `json:"fill_color" gorm:"size:50;default:red"`
	BackColor   string    `json:"back_color" gorm:"size:50;default:white"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time `json:"updated_at"`
	IsActive    bool      `json:"is_active" gorm:"not null;default:true"`
	Description string    `json:"description" gorm:"size:500"`
	AccessCount int64     `json:"access_count" gorm:"not null;default:0"`
	IsDynamic   bool      `json:"is_dynamic" gorm:"not null;default:false"`
	ShortCode   *string   `json:"short_code,omitempty" gorm:"size:16;uniqueIndex"`
	// RedirectURL переопределяет цель для /d/{short_code}
	RedirectURL *string `json:"redirect_url,omitempty" gorm:"size:500"`
}

func (QRCode) TableName() string {
	return "qr_codes"
}

// DynamicTarget возвращает адрес для динамического редиректа
func (q *QRCode) DynamicTarget() string {
	if q.RedirectURL != nil && *q.RedirectURL != "" {
		return *q.RedirectURL
	}
	return q.URL
}

// Code возвращает short code или пустую строку для статических кодов
func (q *QRCode) Code() string {
	if q.ShortCode == nil {
		return ""
	}
	return *q.ShortCode
}

type CreateQRCodeInput struct {
	URL         string
	IsDynamic   bool
	FillColor   string
	BackColor   string
	Description string
	Filename    string
}

// UpdateQRCodeInput: nil означает "без изменений"
type UpdateQRCodeInput struct {
	URL         *string
	FillColor   *string
	BackColor   *string
	Description *string
	IsActive    *bool
	RedirectURL *string // пустая строка сбрасывает переопределение
	Filename    *string
}

type SearchFilter struct {
	URL          string
	Description  string
	IsActive     *bool
	CreatedAfter *time.Time
	Limit        int
}
