package telephony

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uicc-server/uicc-server-pro/internal/models"
	"github.com/uicc-server/uicc-server-pro/internal/storage"
)

func TestBrandCacheLoadsPersistedOverrides(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SetBrandOverride(ctx, &models.BrandOverride{ICCID: "8901", Brand: "Alpha"}))
	require.NoError(t, store.SetBrandOverride(ctx, &models.BrandOverride{ICCID: "8902", Brand: "Beta"}))

	cache, err := NewBrandCache(ctx, store)
	require.NoError(t, err)

	brand, ok := cache.BrandOverride("8901")
	assert.True(t, ok)
	assert.Equal(t, "Alpha", brand)

	brand, ok = cache.BrandOverride("8902")
	assert.True(t, ok)
	assert.Equal(t, "Beta", brand)

	_, ok = cache.BrandOverride("8903")
	assert.False(t, ok)
}

func TestBrandCacheSetWritesThrough(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	cache, err := NewBrandCache(ctx, store)
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, "8901", "Gamma"))

	brand, ok := cache.BrandOverride("8901")
	assert.True(t, ok)
	assert.Equal(t, "Gamma", brand)

	persisted, err := store.GetBrandOverride(ctx, "8901")
	require.NoError(t, err)
	assert.Equal(t, "Gamma", persisted.Brand)

	// Updating an existing override replaces it in both places.
	require.NoError(t, cache.Set(ctx, "8901", "Delta"))
	brand, _ = cache.BrandOverride("8901")
	assert.Equal(t, "Delta", brand)
	persisted, err = store.GetBrandOverride(ctx, "8901")
	require.NoError(t, err)
	assert.Equal(t, "Delta", persisted.Brand)
}

func TestBrandCacheDelete(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	cache, err := NewBrandCache(ctx, store)
	require.NoError(t, err)
	require.NoError(t, cache.Set(ctx, "8901", "Alpha"))

	require.NoError(t, cache.Delete(ctx, "8901"))

	_, ok := cache.BrandOverride("8901")
	assert.False(t, ok)

	_, err = store.GetBrandOverride(ctx, "8901")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestBrandCacheDeleteMissing(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	cache, err := NewBrandCache(ctx, store)
	require.NoError(t, err)

	err = cache.Delete(ctx, "8901")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
