package models

import (
	"encoding/json"
	"time"
)

// Setting stores one key/value configuration entry as raw JSON.
type Setting struct {
	Key       string          `gorm:"type:varchar(255);primaryKey"`
	Value     json.RawMessage `gorm:"type:jsonb"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime;default:CURRENT_TIMESTAMP"`
}
