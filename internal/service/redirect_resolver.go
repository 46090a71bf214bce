package service

import (
	"context"

	"github.com/SergeiKhy/qrcode-manager/internal/metrics"
	"github.com/SergeiKhy/qrcode-manager/internal/repository"
	"go.uber.org/zap"
)

type RedirectMode int

const (
	// RedirectStatic всегда ведёт на сохранённый url (/r)
	RedirectStatic RedirectMode = iota
	// RedirectDynamic ведёт на redirect_url, если он задан (/d)
	RedirectDynamic
)

func (m RedirectMode) String() string {
	if m == RedirectDynamic {
		return "d"
	}
	return "r"
}

type RedirectResolver struct {
	repo   repository.QRCodeRepository
	logger *zap.Logger
}

func NewRedirectResolver(repo repository.QRCodeRepository, logger *zap.Logger) *RedirectResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectResolver{repo: repo, logger: logger}
}

// Resolve находит активный код и возвращает адрес для редиректа.
// Неактивный и отсутствующий код неразличимы: repository.ErrQRCodeNotFound.
func (r *RedirectResolver) Resolve(ctx context.Context, shortCode string, mode RedirectMode) (string, error) {
	qr, err := r.repo.GetActiveByShortCode(ctx, shortCode)
	if err != nil {
		metrics.Redirects.WithLabelValues(mode.String(), "not_found").Inc()
		return "", err
	}

	// счётчик фиксируется до ответа, но его ошибка не блокирует редирект
	if err := r.repo.IncrementAccessCount(ctx, qr.ID); err != nil {
		r.logger.Warn("Failed to increment access count",
			zap.Uint("id", qr.ID),
			zap.String("code", shortCode),
			zap.Error(err),
		)
	}
	metrics.Redirects.WithLabelValues(mode.String(), "hit").Inc()

	if mode == RedirectDynamic {
		return qr.DynamicTarget(), nil
	}
	return qr.URL, nil
}
