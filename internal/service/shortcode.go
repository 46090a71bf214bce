package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	codeLength = 8
	charset    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"
)

// ShortCodeChecker проверяет занятость кода в хранилище
type ShortCodeChecker interface {
	ShortCodeExists(ctx context.Context, code string) (bool, error)
}

// ShortCodeGenerator выдаёт случайные URL-safe коды, свободные в хранилище
type ShortCodeGenerator struct {
	checker ShortCodeChecker
}

func NewShortCodeGenerator(checker ShortCodeChecker) *ShortCodeGenerator {
	return &ShortCodeGenerator{checker: checker}
}

// Generate перебирает кандидатов, пока не найдёт свободный; каждая попытка проверяется в БД
func (g *ShortCodeGenerator) Generate(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code, err := randomCode()
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}

		exists, err := g.checker.ShortCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
}

func randomCode() (string, error) {
	result := make([]byte, codeLength)
	max := big.NewInt(int64(len(charset)))
	for i := range result {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		result[i] = charset[num.Int64()]
	}
	return string(result), nil
}
