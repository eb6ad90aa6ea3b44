package models

import "time"

// ScheduledTrigger is a named, time-delayed one-shot event persisted in the
// database so it survives agent restarts. Name encodes the kind and domain
// ("expire_rule_<domain>" or "reapply_rule_<domain>") and Kind is "expire"
// or "reapply". Firing deletes the row before the handler runs, so each
// trigger executes at most once.
type ScheduledTrigger struct {
	Name      string    `gorm:"type:varchar(512);primaryKey"`
	Kind      string    `gorm:"type:varchar(32);not null;index"`
	Domain    string    `gorm:"type:varchar(255);not null"`
	FireAt    time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}
