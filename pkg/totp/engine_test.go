package totp

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogpress/authguard/pkg/errors"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	engine := NewEngine("BlogPress", NewInMemUsedStepStore())
	key, err := engine.GenerateSecret("alice@example.com")
	require.NoError(t, err)
	return engine, key.Secret()
}

func TestVerifyRoundTrip(t *testing.T) {
	engine, secret := newTestEngine(t)
	userID := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	code, err := engine.GenerateCode(secret, at)
	require.NoError(t, err)
	assert.Len(t, code, 6)

	err = engine.Verify(context.Background(), userID, secret, code, at)
	assert.NoError(t, err)
}

func TestVerifyAcceptsAdjacentSteps(t *testing.T) {
	engine, secret := newTestEngine(t)
	at := time.Unix(1700000000, 0).UTC()

	tests := []struct {
		name    string
		codeAt  time.Time
		wantErr bool
	}{
		{name: "previous step", codeAt: at.Add(-30 * time.Second), wantErr: false},
		{name: "next step", codeAt: at.Add(30 * time.Second), wantErr: false},
		{name: "two steps back", codeAt: at.Add(-90 * time.Second), wantErr: true},
		{name: "two steps ahead", codeAt: at.Add(90 * time.Second), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := engine.GenerateCode(secret, tt.codeAt)
			require.NoError(t, err)

			err = engine.Verify(context.Background(), uuid.New(), secret, code, at)
			if tt.wantErr {
				assert.True(t, errors.IsCode(err, errors.ErrCodeAuthFailed))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifyRejectsReplay(t *testing.T) {
	engine, secret := newTestEngine(t)
	userID := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	code, err := engine.GenerateCode(secret, at)
	require.NoError(t, err)

	require.NoError(t, engine.Verify(context.Background(), userID, secret, code, at))

	// Same code again inside the validity window.
	err = engine.Verify(context.Background(), userID, secret, code, at.Add(10*time.Second))
	assert.True(t, errors.IsCode(err, errors.ErrCodeReplayDetected))
	assert.True(t, errors.CountsTowardLockout(err))

	// Another user replaying the step is unaffected.
	err = engine.Verify(context.Background(), uuid.New(), secret, code, at)
	assert.NoError(t, err)
}

func TestVerifyMalformedCode(t *testing.T) {
	engine, secret := newTestEngine(t)
	at := time.Unix(1700000000, 0).UTC()

	for _, code := range []string{"", "123", "12345678", "12a456", "abcdef"} {
		err := engine.Verify(context.Background(), uuid.New(), secret, code, at)
		assert.True(t, errors.IsCode(err, errors.ErrCodeValidation), "code %q", code)
		assert.False(t, errors.CountsTowardLockout(err), "code %q", code)
	}
}

func TestVerifyWrongCode(t *testing.T) {
	engine, secret := newTestEngine(t)
	at := time.Unix(1700000000, 0).UTC()

	code, err := engine.GenerateCode(secret, at)
	require.NoError(t, err)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	err = engine.Verify(context.Background(), uuid.New(), secret, wrong, at)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthFailed))
	assert.True(t, errors.CountsTowardLockout(err))
}

func TestInMemUsedStepStoreExpiry(t *testing.T) {
	store := NewInMemUsedStepStore()
	userID := uuid.New()

	ok, err := store.Consume(context.Background(), userID, 42, time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Consume(context.Background(), userID, 42, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = store.Consume(context.Background(), userID, 42, time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPasscodeRoundTrip(t *testing.T) {
	engine := NewEngine("BlogPress", NewInMemUsedStepStore(), WithPeriod(PasscodePeriod))
	key, err := engine.GenerateSecret("alice@example.com")
	require.NoError(t, err)
	secret := key.Secret()
	at := time.Unix(1700000000, 0).UTC()

	code, err := engine.GenerateCode(secret, at)
	require.NoError(t, err)

	// Still valid after a delivery round-trip inside the window.
	err = engine.Verify(context.Background(), uuid.New(), secret, code, at.Add(2*time.Minute))
	assert.NoError(t, err)

	// Stale after the window has passed.
	err = engine.Verify(context.Background(), uuid.New(), secret, code, at.Add(15*time.Minute))
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthFailed))
}
