package settings

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"
)

// settingsSnapshot is an immutable view of the settings table. Request
// handlers and the scheduler poll loop read it lock-free; a refresh swaps
// the whole snapshot at once, so readers never see a half-applied update.
type settingsSnapshot struct {
	refreshedAt time.Time
	values      map[string]json.RawMessage
}

var currentSnapshot atomic.Pointer[settingsSnapshot]

func init() {
	currentSnapshot.Store(&settingsSnapshot{values: map[string]json.RawMessage{}})
}

// StoreSnapshot publishes a new settings snapshot. Keys are trimmed and
// values copied, so the caller's map stays free to mutate afterwards.
func StoreSnapshot(refreshedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		next[key] = append(json.RawMessage(nil), value...)
	}
	currentSnapshot.Store(&settingsSnapshot{
		refreshedAt: refreshedAt.UTC(),
		values:      next,
	})
}

// SnapshotValue returns a copy of the raw JSON stored for a key.
func SnapshotValue(key string) (json.RawMessage, bool) {
	snap := currentSnapshot.Load()
	value, ok := snap.values[strings.TrimSpace(key)]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), value...), true
}

// SnapshotUpdatedAt reports the newest row timestamp the current snapshot
// was built from. Zero until the first refresh.
func SnapshotUpdatedAt() time.Time {
	return currentSnapshot.Load().refreshedAt
}
