package settings

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// StringValue returns a trimmed string setting. Non-string JSON shapes fall
// back to the raw text so a value stored without quotes still resolves.
func StringValue(key string) (string, bool) {
	raw, ok := SnapshotValue(key)
	if !ok || len(raw) == 0 {
		return "", false
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		return strings.TrimSpace(s), true
	}
	return strings.TrimSpace(string(raw)), true
}

// IntValue returns an integer setting, falling back to def when the key is
// absent or the stored shape cannot be interpreted as a number.
func IntValue(key string, def int) int {
	raw, ok := SnapshotValue(key)
	if !ok {
		return def
	}
	if parsed, okParse := parseConfigInt(raw); okParse {
		return parsed
	}
	return def
}

// parseConfigInt interprets a raw setting as an int, trying int, float,
// numeric string, and {value} wrapper shapes in order.
func parseConfigInt(raw json.RawMessage) (int, bool) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n int
	if errUnmarshal := json.Unmarshal(raw, &n); errUnmarshal == nil {
		return n, true
	}
	var f float64
	if errUnmarshal := json.Unmarshal(raw, &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int(math.Round(f)), true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		parsed, errParse := strconv.Atoi(strings.TrimSpace(s))
		if errParse == nil {
			return parsed, true
		}
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal == nil && len(wrapper.Value) > 0 {
		return parseConfigInt(wrapper.Value)
	}
	return 0, false
}
