package models

import "time"

// BrandOverride is a persisted operator-brand override, keyed by the ICCID
// of the card it applies to.
type BrandOverride struct {
	ICCID     string    `json:"iccid" db:"iccid"`
	Brand     string    `json:"brand" db:"brand"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
