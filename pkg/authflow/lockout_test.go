package authflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemLockoutThreshold(t *testing.T) {
	store := NewInMemLockoutStore()
	ctx := context.Background()
	policy := LockoutPolicy{Threshold: 3, Window: time.Minute, Cooldown: time.Minute}

	for i := 1; i <= 2; i++ {
		locked, failures, err := store.RegisterFailure(ctx, "user:a", policy)
		require.NoError(t, err)
		assert.False(t, locked)
		assert.Equal(t, i, failures)
	}

	locked, failures, err := store.RegisterFailure(ctx, "user:a", policy)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, 3, failures)

	isLocked, until, err := store.IsLocked(ctx, "user:a")
	require.NoError(t, err)
	assert.True(t, isLocked)
	assert.True(t, until.After(time.Now().UTC()))
}

func TestInMemLockoutKeysAreIndependent(t *testing.T) {
	store := NewInMemLockoutStore()
	ctx := context.Background()
	policy := LockoutPolicy{Threshold: 2, Window: time.Minute, Cooldown: time.Minute}

	_, _, err := store.RegisterFailure(ctx, "user:a", policy)
	require.NoError(t, err)
	locked, _, err := store.RegisterFailure(ctx, "user:a", policy)
	require.NoError(t, err)
	assert.True(t, locked)

	isLocked, _, err := store.IsLocked(ctx, "user:b")
	require.NoError(t, err)
	assert.False(t, isLocked)
}

func TestInMemLockoutCooldownExpires(t *testing.T) {
	store := NewInMemLockoutStore()
	ctx := context.Background()
	policy := LockoutPolicy{Threshold: 1, Window: time.Minute, Cooldown: 10 * time.Millisecond}

	locked, _, err := store.RegisterFailure(ctx, "user:a", policy)
	require.NoError(t, err)
	require.True(t, locked)

	time.Sleep(20 * time.Millisecond)

	isLocked, _, err := store.IsLocked(ctx, "user:a")
	require.NoError(t, err)
	assert.False(t, isLocked)
}

func TestInMemLockoutReset(t *testing.T) {
	store := NewInMemLockoutStore()
	ctx := context.Background()
	policy := LockoutPolicy{Threshold: 2, Window: time.Minute, Cooldown: time.Minute}

	_, _, err := store.RegisterFailure(ctx, "user:a", policy)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx, "user:a"))

	locked, failures, err := store.RegisterFailure(ctx, "user:a", policy)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Equal(t, 1, failures)
}

func TestInMemLockoutWindowSlides(t *testing.T) {
	store := NewInMemLockoutStore()
	ctx := context.Background()
	policy := LockoutPolicy{Threshold: 2, Window: 10 * time.Millisecond, Cooldown: time.Minute}

	_, _, err := store.RegisterFailure(ctx, "user:a", policy)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	// The first failure fell out of the window.
	locked, failures, err := store.RegisterFailure(ctx, "user:a", policy)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Equal(t, 1, failures)
}
