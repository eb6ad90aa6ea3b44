package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tabguard/tabguard/internal/models"
	"gorm.io/gorm"
)

// RefreshSnapshot reloads all settings rows from the database and publishes
// them as the new snapshot. Runs once at startup and again after every
// settings write; until the first call readers see an empty snapshot.
func RefreshSnapshot(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := db.WithContext(ctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	values := make(map[string]json.RawMessage, len(rows))
	maxUpdatedAt := time.Time{}
	maxUpdatedKey := ""
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = row.Value
		rowUpdatedAt := row.UpdatedAt.UTC()
		if rowUpdatedAt.After(maxUpdatedAt) || (rowUpdatedAt.Equal(maxUpdatedAt) && key > maxUpdatedKey) {
			maxUpdatedAt = rowUpdatedAt
			maxUpdatedKey = key
		}
	}

	StoreSnapshot(maxUpdatedAt, values)
	return nil
}

// Upsert writes one setting row. The caller refreshes the snapshot afterwards.
func Upsert(ctx context.Context, db *gorm.DB, key string, value any) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("settings: empty key")
	}

	encoded, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("settings: encode %s: %w", key, errMarshal)
	}

	now := time.Now().UTC()
	var existing models.Setting
	errFind := db.WithContext(ctx).Where("key = ?", key).First(&existing).Error
	if errFind == nil {
		return db.WithContext(ctx).
			Model(&models.Setting{}).
			Where("key = ?", key).
			Updates(map[string]any{"value": json.RawMessage(encoded), "updated_at": now}).Error
	}
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		row := models.Setting{Key: key, Value: encoded, UpdatedAt: now}
		return db.WithContext(ctx).Create(&row).Error
	}
	return errFind
}
