package settings

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

type dbConfigSnapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var dbConfig atomic.Pointer[dbConfigSnapshot]

// StoreDBConfig replaces the settings snapshot read by DBConfigValue.
func StoreDBConfig(updatedAt time.Time, values map[string]json.RawMessage) {
	copied := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		copied[key] = append(json.RawMessage(nil), value...)
	}
	dbConfig.Store(&dbConfigSnapshot{updatedAt: updatedAt.UTC(), values: copied})
}

// DBConfigValue returns the raw JSON stored for key in the latest snapshot.
func DBConfigValue(key string) (json.RawMessage, bool) {
	snapshot := dbConfig.Load()
	if snapshot == nil {
		return nil, false
	}
	value, ok := snapshot.values[key]
	if !ok || len(value) == 0 {
		return nil, false
	}
	return value, true
}

// DBConfigUpdatedAt reports when the newest stored setting changed.
func DBConfigUpdatedAt() time.Time {
	snapshot := dbConfig.Load()
	if snapshot == nil {
		return time.Time{}
	}
	return snapshot.updatedAt
}
