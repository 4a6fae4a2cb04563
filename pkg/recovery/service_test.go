package recovery

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/blogpress/authguard/pkg/errors"
)

func newTestService() *Service {
	return NewService(NewInMemCodeRepository(), WithBcryptCost(bcrypt.MinCost))
}

func TestGenerateBatchFormat(t *testing.T) {
	service := newTestService()
	userID := uuid.New()

	codes, err := service.GenerateBatch(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, codes, BatchSize)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Len(t, code, 11)
		assert.Equal(t, byte('-'), code[5])
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "1")
		assert.NotContains(t, code, "I")
		assert.False(t, seen[code], "duplicate code in batch")
		seen[code] = true
	}

	remaining, err := service.Remaining(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, BatchSize, remaining)
}

func TestConsumeBurnsCode(t *testing.T) {
	service := newTestService()
	userID := uuid.New()

	codes, err := service.GenerateBatch(context.Background(), userID)
	require.NoError(t, err)

	require.NoError(t, service.Consume(context.Background(), userID, codes[0]))

	// A burned code is a replay, not a plain failure.
	err = service.Consume(context.Background(), userID, codes[0])
	assert.True(t, errors.IsCode(err, errors.ErrCodeReplayDetected))

	// A code that never existed is still a plain failure.
	err = service.Consume(context.Background(), userID, "AAAAA-AAAAA")
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthFailed))

	remaining, err := service.Remaining(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, BatchSize-1, remaining)
}

func TestConsumeNormalizesInput(t *testing.T) {
	service := newTestService()
	userID := uuid.New()

	codes, err := service.GenerateBatch(context.Background(), userID)
	require.NoError(t, err)

	lowered := strings.ToLower(strings.ReplaceAll(codes[1], "-", ""))
	assert.NoError(t, service.Consume(context.Background(), userID, lowered))
}

func TestConsumeMalformedCode(t *testing.T) {
	service := newTestService()
	userID := uuid.New()

	_, err := service.GenerateBatch(context.Background(), userID)
	require.NoError(t, err)

	for _, code := range []string{"", "ABC", "ABCDE-FGH10", "ABCDE-FGHJ!"} {
		err := service.Consume(context.Background(), userID, code)
		assert.True(t, errors.IsCode(err, errors.ErrCodeValidation), "code %q", code)
	}
}

func TestConcurrentConsumeExactlyOneWins(t *testing.T) {
	service := newTestService()
	userID := uuid.New()

	codes, err := service.GenerateBatch(context.Background(), userID)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- service.Consume(context.Background(), userID, codes[0])
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.IsCode(err, errors.ErrCodeReplayDetected))
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestRegenerateInvalidatesPreviousBatch(t *testing.T) {
	service := newTestService()
	userID := uuid.New()

	first, err := service.GenerateBatch(context.Background(), userID)
	require.NoError(t, err)

	second, err := service.GenerateBatch(context.Background(), userID)
	require.NoError(t, err)

	err = service.Consume(context.Background(), userID, first[0])
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthFailed))

	assert.NoError(t, service.Consume(context.Background(), userID, second[0]))

	remaining, err := service.Remaining(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, BatchSize-1, remaining)
}
