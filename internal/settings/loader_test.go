package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/tabguard/tabguard/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestUpsertThenRefreshExposesValue(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	if errUpsert := Upsert(ctx, conn, PolicyCredentialKey, "api.token-abc123"); errUpsert != nil {
		t.Fatalf("upsert: %v", errUpsert)
	}
	if errUpsert := Upsert(ctx, conn, TriggerPollSecondsKey, 30); errUpsert != nil {
		t.Fatalf("upsert int: %v", errUpsert)
	}
	if errRefresh := RefreshSnapshot(ctx, conn); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}

	credential, ok := StringValue(PolicyCredentialKey)
	if !ok || credential != "api.token-abc123" {
		t.Fatalf("credential: got %q ok=%v", credential, ok)
	}
	if got := IntValue(TriggerPollSecondsKey, DefaultTriggerPollSeconds); got != 30 {
		t.Fatalf("poll seconds: got %d", got)
	}
}

func TestUpsertOverwritesExistingKey(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	if errUpsert := Upsert(ctx, conn, PolicyProfileIDKey, "prof_old"); errUpsert != nil {
		t.Fatalf("upsert: %v", errUpsert)
	}
	if errUpsert := Upsert(ctx, conn, PolicyProfileIDKey, "prof_new"); errUpsert != nil {
		t.Fatalf("upsert again: %v", errUpsert)
	}

	var count int64
	if errCount := conn.Model(&models.Setting{}).Where("key = ?", PolicyProfileIDKey).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}

	if errRefresh := RefreshSnapshot(ctx, conn); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}
	profile, _ := StringValue(PolicyProfileIDKey)
	if profile != "prof_new" {
		t.Fatalf("profile: got %q", profile)
	}
}

func TestRefreshSnapshotRecordsRowTimestamp(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	StoreSnapshot(time.Time{}, nil)
	if !SnapshotUpdatedAt().IsZero() {
		t.Fatal("expected zero timestamp before any refresh")
	}

	if errUpsert := Upsert(ctx, conn, PolicyProfileIDKey, "prof_1"); errUpsert != nil {
		t.Fatalf("upsert: %v", errUpsert)
	}
	if errRefresh := RefreshSnapshot(ctx, conn); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}
	if SnapshotUpdatedAt().IsZero() {
		t.Fatal("expected snapshot timestamp after refresh")
	}
}

func TestParseConfigIntShapes(t *testing.T) {
	cases := []struct {
		raw  string
		want int
		ok   bool
	}{
		{`42`, 42, true},
		{`42.6`, 43, true},
		{`"42"`, 42, true},
		{`{"value": 42}`, 42, true},
		{`{"value": "42"}`, 42, true},
		{`"not a number"`, 0, false},
		{`null`, 0, false},
	}
	for _, tc := range cases {
		got, ok := parseConfigInt(json.RawMessage(tc.raw))
		if ok != tc.ok || got != tc.want {
			t.Fatalf("parseConfigInt(%s): got (%d,%v) want (%d,%v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}
