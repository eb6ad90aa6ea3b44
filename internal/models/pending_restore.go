package models

import "time"

// PendingRestore records a rule suspended during a temporary removal so the
// reapply trigger can recreate it later. At most one row exists per domain;
// a new temporary removal overwrites the prior record (last-write-wins).
// A nil Action means the original action was never resolved and the rule
// must not be restored; ProxyID is only meaningful for redirect rules.
type PendingRestore struct {
	Domain    string    `gorm:"type:varchar(255);primaryKey"`
	Action    *int      `gorm:"type:integer"`
	ProxyID   string    `gorm:"type:varchar(255)"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}
