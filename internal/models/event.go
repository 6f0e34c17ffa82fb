package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventLog records one observable UICC event for operators and the API.
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	PhoneID   *int   `json:"phoneId,omitempty" db:"phone_id"`
	SlotIndex *int   `json:"slotIndex,omitempty" db:"slot_index"`
	ICCID     string `json:"iccid,omitempty" db:"iccid"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	EventTypeCardAdded   EventType = "CARD_ADDED"
	EventTypeCardRemoved EventType = "CARD_REMOVED"
	EventTypeSimState    EventType = "SIM_STATE"
	EventTypeOperator    EventType = "OPERATOR"
	EventTypeSimRefresh  EventType = "SIM_REFRESH"
	EventTypeSlotStatus  EventType = "SLOT_STATUS"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)

// Variables represents a JSON object for storing arbitrary data
type Variables map[string]interface{}

// Value implements driver.Valuer interface
func (v Variables) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner interface
func (v *Variables) Scan(value interface{}) error {
	if value == nil {
		*v = make(Variables)
		return nil
	}

	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	default:
		return json.Unmarshal([]byte(data.(string)), v)
	}
}
