package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProxyCache is the single-row cache of the upstream redirect-target list.
// ID is always 1; FetchedAt drives the TTL check.
type ProxyCache struct {
	ID        uint64         `gorm:"primaryKey"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	FetchedAt time.Time      `gorm:"not null"`
}
