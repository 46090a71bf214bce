package mocks

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SergeiKhy/qrcode-manager/internal/models"
	"github.com/SergeiKhy/qrcode-manager/internal/repository"
)

// MockQRCodeRepository implements repository.QRCodeRepository for testing
type MockQRCodeRepository struct {
	mu     sync.RWMutex
	codes  map[uint]*models.QRCode
	nextID uint

	// CreateErrors возвращаются по очереди из Create до реальной вставки
	CreateErrors []error
	// IncrementError, если задан, возвращается из IncrementAccessCount
	IncrementError error
	// ExistsCalls считает обращения к ShortCodeExists
	ExistsCalls int
	// CommitError имитирует сбой коммита: fn выполнена, изменения откатываются
	CommitError error
}

func NewMockQRCodeRepository() *MockQRCodeRepository {
	return &MockQRCodeRepository{
		codes:  make(map[uint]*models.QRCode),
		nextID: 1,
	}
}

func (m *MockQRCodeRepository) Create(ctx context.Context, qr *models.QRCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.CreateErrors) > 0 {
		err := m.CreateErrors[0]
		m.CreateErrors = m.CreateErrors[1:]
		return err
	}

	if qr.ShortCode != nil {
		for _, existing := range m.codes {
			if existing.ShortCode != nil && *existing.ShortCode == *qr.ShortCode {
				return repository.ErrShortCodeExists
			}
		}
	}

	now := time.Now()
	qr.ID = m.nextID
	qr.CreatedAt = now
	qr.UpdatedAt = now
	m.nextID++

	stored := *qr
	m.codes[qr.ID] = &stored
	return nil
}

func (m *MockQRCodeRepository) GetByID(ctx context.Context, id uint) (*models.QRCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	qr, exists := m.codes[id]
	if !exists {
		return nil, repository.ErrQRCodeNotFound
	}
	copied := *qr
	return &copied, nil
}

func (m *MockQRCodeRepository) List(ctx context.Context) ([]models.QRCode, error) {
	return m.Search(ctx, models.SearchFilter{})
}

func (m *MockQRCodeRepository) Search(ctx context.Context, filter models.SearchFilter) ([]models.QRCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.QRCode, 0, len(m.codes))
	for _, qr := range m.codes {
		if filter.URL != "" && !containsFold(qr.URL, filter.URL) {
			continue
		}
		if filter.Description != "" && !containsFold(qr.Description, filter.Description) {
			continue
		}
		if filter.IsActive != nil && qr.IsActive != *filter.IsActive {
			continue
		}
		if filter.CreatedAfter != nil && qr.CreatedAt.Before(*filter.CreatedAfter) {
			continue
		}
		result = append(result, *qr)
	}

	// новые первыми
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MockQRCodeRepository) Update(ctx context.Context, qr *models.QRCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.codes[qr.ID]
	if !exists {
		return repository.ErrQRCodeNotFound
	}

	stored.URL = qr.URL
	stored.Filename = qr.Filename
	stored.FillColor = qr.FillColor
	stored.BackColor = qr.BackColor
	stored.Description = qr.Description
	stored.IsActive = qr.IsActive
	stored.RedirectURL = qr.RedirectURL
	stored.UpdatedAt = time.Now()
	return nil
}

func (m *MockQRCodeRepository) Delete(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.codes[id]; !exists {
		return repository.ErrQRCodeNotFound
	}
	delete(m.codes, id)
	return nil
}

func (m *MockQRCodeRepository) GetActiveByShortCode(ctx context.Context, code string) (*models.QRCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, qr := range m.codes {
		if qr.ShortCode != nil && *qr.ShortCode == code && qr.IsActive {
			copied := *qr
			return &copied, nil
		}
	}
	return nil, repository.ErrQRCodeNotFound
}

func (m *MockQRCodeRepository) ShortCodeExists(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExistsCalls++
	for _, qr := range m.codes {
		if qr.ShortCode != nil && *qr.ShortCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockQRCodeRepository) FilenameExists(ctx context.Context, filename string, excludeID uint) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, qr := range m.codes {
		if id != excludeID && qr.Filename == filename {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockQRCodeRepository) IncrementAccessCount(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IncrementError != nil {
		return m.IncrementError
	}
	qr, exists := m.codes[id]
	if !exists {
		return repository.ErrQRCodeNotFound
	}
	qr.AccessCount++
	return nil
}

// WithinTransaction восстанавливает снимок данных, если fn вернула ошибку
func (m *MockQRCodeRepository) WithinTransaction(ctx context.Context, fn func(repo repository.QRCodeRepository) error) error {
	snapshot, nextID := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snapshot, nextID)
		return err
	}
	if m.CommitError != nil {
		m.restore(snapshot, nextID)
		return m.CommitError
	}
	return nil
}

func (m *MockQRCodeRepository) snapshot() (map[uint]models.QRCode, uint) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := make(map[uint]models.QRCode, len(m.codes))
	for id, qr := range m.codes {
		copied[id] = *qr
	}
	return copied, m.nextID
}

func (m *MockQRCodeRepository) restore(snapshot map[uint]models.QRCode, nextID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.codes = make(map[uint]*models.QRCode, len(snapshot))
	for id, qr := range snapshot {
		qr := qr
		m.codes[id] = &qr
	}
	m.nextID = nextID
}

func (m *MockQRCodeRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.codes)
}

func (m *MockQRCodeRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = make(map[uint]*models.QRCode)
	m.nextID = 1
}

// EncodeCall фиксирует аргументы вызова MockEncoder
type EncodeCall struct {
	Payload   string
	Path      string
	FillColor string
	BackColor string
}

// MockEncoder пишет заглушку вместо PNG и запоминает вызовы
type MockEncoder struct {
	mu    sync.Mutex
	Fail  bool
	Calls []EncodeCall
}

func (e *MockEncoder) Encode(payloadURL, path, fillColor, backColor string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Calls = append(e.Calls, EncodeCall{Payload: payloadURL, Path: path, FillColor: fillColor, BackColor: backColor})
	if e.Fail {
		return false
	}
	return os.WriteFile(path, []byte("png:"+payloadURL), 0o644) == nil
}

func (e *MockEncoder) LastCall() (EncodeCall, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Calls) == 0 {
		return EncodeCall{}, false
	}
	return e.Calls[len(e.Calls)-1], true
}

func (e *MockEncoder) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
