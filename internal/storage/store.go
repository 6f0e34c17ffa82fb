package storage

import (
	"context"
	"errors"
	"time"

	"github.com/uicc-server/uicc-server-pro/internal/models"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Brand override methods
	SetBrandOverride(ctx context.Context, override *models.BrandOverride) error
	GetBrandOverride(ctx context.Context, iccid string) (*models.BrandOverride, error)
	DeleteBrandOverride(ctx context.Context, iccid string) error
	ListBrandOverrides(ctx context.Context, limit, offset int) ([]*models.BrandOverride, int64, error)

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Close the store
	Close() error
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	PhoneID   *int
	SlotIndex *int
	ICCID     *string
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}
