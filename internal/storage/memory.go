package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uicc-server/uicc-server-pro/internal/models"
)

// MemoryStore implements Store in memory. It backs tests and single-process
// deployments without a database.
type MemoryStore struct {
	mu        sync.RWMutex
	overrides map[string]*models.BrandOverride
	events    []*models.EventLog
}

// NewMemoryStore creates an in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		overrides: make(map[string]*models.BrandOverride),
	}
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

// SetBrandOverride inserts or replaces a brand override
func (s *MemoryStore) SetBrandOverride(_ context.Context, override *models.BrandOverride) error {
	if override.ICCID == "" {
		return ErrInvalidData
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *override
	cp.UpdatedAt = time.Now()
	s.overrides[cp.ICCID] = &cp
	override.UpdatedAt = cp.UpdatedAt
	return nil
}

// GetBrandOverride fetches the brand override for an ICCID
func (s *MemoryStore) GetBrandOverride(_ context.Context, iccid string) (*models.BrandOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[iccid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// DeleteBrandOverride removes the brand override for an ICCID
func (s *MemoryStore) DeleteBrandOverride(_ context.Context, iccid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.overrides[iccid]; !ok {
		return ErrNotFound
	}
	delete(s.overrides, iccid)
	return nil
}

// ListBrandOverrides lists brand overrides
func (s *MemoryStore) ListBrandOverrides(_ context.Context, limit, offset int) ([]*models.BrandOverride, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.BrandOverride, 0, len(s.overrides))
	for _, o := range s.overrides {
		cp := *o
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })

	return paginate(all, limit, offset), int64(len(all)), nil
}

// CreateEventLog creates an event log entry
func (s *MemoryStore) CreateEventLog(_ context.Context, event *models.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

// ListEventLogs lists event logs with filters
func (s *MemoryStore) ListEventLogs(_ context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.EventLog
	for _, e := range s.events {
		if !matchEventLog(e, filters) {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	return paginate(matched, limit, offset), int64(len(matched)), nil
}

func matchEventLog(e *models.EventLog, f EventLogFilters) bool {
	if f.PhoneID != nil && (e.PhoneID == nil || *e.PhoneID != *f.PhoneID) {
		return false
	}
	if f.SlotIndex != nil && (e.SlotIndex == nil || *e.SlotIndex != *f.SlotIndex) {
		return false
	}
	if f.ICCID != nil && e.ICCID != *f.ICCID {
		return false
	}
	if f.Type != nil && e.Type != *f.Type {
		return false
	}
	if f.Level != nil && e.Level != *f.Level {
		return false
	}
	if f.StartTime != nil && e.CreatedAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.CreatedAt.After(*f.EndTime) {
		return false
	}
	return true
}

func paginate[T any](items []*T, limit, offset int) []*T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
