package db

import (
	"fmt"

	"github.com/tabguard/tabguard/internal/models"
	"gorm.io/gorm"
)

// Migrate applies schema migrations for all agent tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.Setting{},
		&models.PendingRestore{},
		&models.ScheduledTrigger{},
		&models.ProxyCache{},
	); errMigrate != nil {
		return errMigrate
	}
	if IsSQLite(conn) {
		// Refresh the query planner stats after any schema change.
		if sqlDB, errDB := conn.DB(); errDB == nil {
			_, _ = sqlDB.Exec("PRAGMA optimize")
		}
	}
	return nil
}
