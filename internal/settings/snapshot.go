package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cardforge/cardforge/internal/models"
	"gorm.io/gorm"
)

var (
	snapshotMu sync.RWMutex
	snapshot   = map[string]json.RawMessage{}
)

// RefreshDBConfigSnapshot reloads all settings rows into the in-memory snapshot.
func RefreshDBConfigSnapshot(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("settings: nil connection")
	}
	var rows []models.Setting
	if errFind := conn.WithContext(ctx).Find(&rows).Error; errFind != nil {
		return fmt.Errorf("settings: load snapshot: %w", errFind)
	}
	next := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		next[key] = json.RawMessage(row.Value)
	}
	snapshotMu.Lock()
	snapshot = next
	snapshotMu.Unlock()
	return nil
}

// DBConfigValue returns the raw JSON value for a settings key, if present.
func DBConfigValue(key string) (json.RawMessage, bool) {
	snapshotMu.RLock()
	defer snapshotMu.RUnlock()
	raw, ok := snapshot[strings.TrimSpace(key)]
	if !ok || len(raw) == 0 {
		return nil, false
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, true
}

// IntValue returns the integer value for a settings key, or the fallback.
func IntValue(key string, fallback int) int {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	var parsedInt int
	if errUnmarshal := json.Unmarshal(raw, &parsedInt); errUnmarshal == nil {
		return parsedInt
	}
	var parsedString string
	if errUnmarshal := json.Unmarshal(raw, &parsedString); errUnmarshal == nil {
		if parsed, errParse := strconv.Atoi(strings.TrimSpace(parsedString)); errParse == nil {
			return parsed
		}
	}
	return fallback
}

// StringValue returns the string value for a settings key, or the fallback.
func StringValue(key, fallback string) string {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	var parsed string
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return fallback
	}
	parsed = strings.TrimSpace(parsed)
	if parsed == "" {
		return fallback
	}
	return parsed
}

// BoolValue returns the boolean value for a settings key, or the fallback.
func BoolValue(key string, fallback bool) bool {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	var parsedBool bool
	if errUnmarshal := json.Unmarshal(raw, &parsedBool); errUnmarshal == nil {
		return parsedBool
	}
	var parsedString string
	if errUnmarshal := json.Unmarshal(raw, &parsedString); errUnmarshal == nil {
		switch strings.ToLower(strings.TrimSpace(parsedString)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return fallback
}
