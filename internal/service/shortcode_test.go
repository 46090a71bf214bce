package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubChecker сообщает "занято" первые busy раз
type stubChecker struct {
	busy  int
	calls int
	err   error
}

func (c *stubChecker) ShortCodeExists(ctx context.Context, code string) (bool, error) {
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.calls <= c.busy, nil
}

func TestShortCodeGenerator_Generate(t *testing.T) {
	checker := &stubChecker{}
	code, err := NewShortCodeGenerator(checker).Generate(context.Background())
	require.NoError(t, err)

	assert.Len(t, code, codeLength)
	assert.Regexp(t, `^[A-Za-z0-9_-]+$`, code)
	assert.Equal(t, 1, checker.calls)
}

// TestShortCodeGenerator_RetriesOnCollision проверяет проверку в хранилище на каждой попытке
func TestShortCodeGenerator_RetriesOnCollision(t *testing.T) {
	checker := &stubChecker{busy: 3}
	_, err := NewShortCodeGenerator(checker).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, checker.calls)
}

func TestShortCodeGenerator_CheckerError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := NewShortCodeGenerator(&stubChecker{err: boom}).Generate(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestShortCodeGenerator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checker := &stubChecker{busy: 1 << 30}
	_, err := NewShortCodeGenerator(checker).Generate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRandomCode_Distribution(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		code, err := randomCode()
		require.NoError(t, err)
		seen[code] = true
	}
	assert.Len(t, seen, 1000)
}
