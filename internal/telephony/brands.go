package telephony

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/uicc-server/uicc-server-pro/internal/models"
	"github.com/uicc-server/uicc-server-pro/internal/storage"
)

// BrandCache serves operator-brand overrides to the card tree. Lookups
// happen while the tree lock is held, so they hit an in-memory map only;
// the backing store is read once at startup and written through on update.
type BrandCache struct {
	store storage.Store

	mu     sync.RWMutex
	brands map[string]string
}

// NewBrandCache creates a brand cache and loads all persisted overrides
func NewBrandCache(ctx context.Context, store storage.Store) (*BrandCache, error) {
	c := &BrandCache{
		store:  store,
		brands: make(map[string]string),
	}

	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		overrides, total, err := store.ListBrandOverrides(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, o := range overrides {
			c.brands[o.ICCID] = o.Brand
		}
		if int64(offset+len(overrides)) >= total || len(overrides) == 0 {
			break
		}
	}

	log.Info().Int("overrides", len(c.brands)).Msg("Brand overrides loaded")
	return c, nil
}

// BrandOverride returns the override for iccid, if one exists
func (c *BrandCache) BrandOverride(iccid string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	brand, ok := c.brands[iccid]
	return brand, ok
}

// Set persists an override and applies it to the cache
func (c *BrandCache) Set(ctx context.Context, iccid, brand string) error {
	if err := c.store.SetBrandOverride(ctx, &models.BrandOverride{
		ICCID: iccid,
		Brand: brand,
	}); err != nil {
		return err
	}

	c.mu.Lock()
	c.brands[iccid] = brand
	c.mu.Unlock()
	return nil
}

// Delete removes an override from the store and the cache
func (c *BrandCache) Delete(ctx context.Context, iccid string) error {
	if err := c.store.DeleteBrandOverride(ctx, iccid); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.brands, iccid)
	c.mu.Unlock()
	return nil
}
