package assistant

import (
	"fmt"
	"strings"
	"time"

	"github.com/SergeiKhy/qrcode-manager/internal/models"
	"github.com/samber/lo"
)

const timeLayout = "2006-01-02 15:04"

// qrItem: структурированное представление кода для function_call.result
type qrItem struct {
	ID          uint    `json:"id"`
	URL         string  `json:"url"`
	Filename    string  `json:"filename"`
	Description string  `json:"description,omitempty"`
	IsActive    bool    `json:"is_active"`
	IsDynamic   bool    `json:"is_dynamic"`
	ShortCode   string  `json:"short_code,omitempty"`
	RedirectURL *string `json:"redirect_url,omitempty"`
	AccessCount int64   `json:"access_count"`
	CreatedAt   string  `json:"created_at"`
}

func toItem(qr models.QRCode) qrItem {
	return qrItem{
		ID:          qr.ID,
		URL:         qr.URL,
		Filename:    qr.Filename,
		Description: qr.Description,
		IsActive:    qr.IsActive,
		IsDynamic:   qr.IsDynamic,
		ShortCode:   qr.Code(),
		RedirectURL: qr.RedirectURL,
		AccessCount: qr.AccessCount,
		CreatedAt:   qr.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toItems(codes []models.QRCode) []qrItem {
	return lo.Map(codes, func(qr models.QRCode, _ int) qrItem { return toItem(qr) })
}

func describe(qr models.QRCode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QR Code #%d\n", qr.ID)
	fmt.Fprintf(&b, "URL: %s\n", qr.URL)
	if qr.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", qr.Description)
	}
	if qr.IsDynamic {
		fmt.Fprintf(&b, "Short code: %s\n", qr.Code())
	}
	if !qr.IsActive {
		b.WriteString("Status: inactive\n")
	}
	fmt.Fprintf(&b, "Created: %s\n", qr.CreatedAt.Format(timeLayout))
	fmt.Fprintf(&b, "Access count: %d", qr.AccessCount)
	return b.String()
}

func describeAll(codes []models.QRCode) string {
	return strings.Join(lo.Map(codes, func(qr models.QRCode, _ int) string { return describe(qr) }), "\n\n")
}

func summarizeList(codes []models.QRCode) string {
	if len(codes) == 0 {
		return "No QR codes found."
	}
	return "Here are your QR codes:\n\n" + describeAll(codes)
}

func summarizeSearch(codes []models.QRCode) string {
	if len(codes) == 0 {
		return "No QR codes matched your search."
	}
	return fmt.Sprintf("Found %d matching QR code(s):\n\n%s", len(codes), describeAll(codes))
}

func summarizeCreate(qr *models.QRCode, shortLink string) string {
	kind := "static"
	if qr.IsDynamic {
		kind = "dynamic"
	}
	text := fmt.Sprintf("I've created %s QR code #%d for %s (image %s).", kind, qr.ID, qr.URL, qr.Filename)
	if shortLink != "" {
		text += "\nShort link: " + shortLink
	}
	return text
}

func summarizeUpdate(qr *models.QRCode) string {
	return "I've updated the QR code.\n\n" + describe(*qr)
}
