package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

func TestCacheRepositoryMemoryFallback(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	var out map[string]int
	assert.ErrorIs(t, repo.Get(ctx, "registry:stats", &out), appErrors.ErrCacheMiss)

	require.NoError(t, repo.Set(ctx, "registry:stats", map[string]int{"grants": 2}, time.Minute))
	require.NoError(t, repo.Get(ctx, "registry:stats", &out))
	assert.Equal(t, 2, out["grants"])

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, repo.Get(ctx, "registry:stats", &out), appErrors.ErrCacheMiss)
	assert.Equal(t, "memory", repo.Backend())
}

func TestCacheRepositoryDeleteByPattern(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	ctx := context.Background()
	require.NoError(t, repo.Set(ctx, "registry:stats", 1, time.Minute))
	require.NoError(t, repo.Set(ctx, "grants:list", 2, time.Minute))

	require.NoError(t, repo.DeleteByPattern(ctx, "registry:*"))

	var v int
	assert.ErrorIs(t, repo.Get(ctx, "registry:stats", &v), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Get(ctx, "grants:list", &v))
	assert.Equal(t, 2, v)
}
