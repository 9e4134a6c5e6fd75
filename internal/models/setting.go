package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Setting is a runtime-tunable key/value pair polled by the settings watcher.
type Setting struct {
	Key       string       `gorm:"type:text;primaryKey"` // Setting key.
	Value     SettingValue // JSON encoded value.
	UpdatedAt time.Time    `gorm:"not null;index"` // Last change, drives reloads.
}

// SettingValue holds raw JSON. SQLite stores it in a TEXT column so scalar
// values such as 5 keep their text form instead of gaining numeric affinity.
type SettingValue []byte

// Value implements driver.Valuer.
func (v SettingValue) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return string(v), nil
}

// Scan implements sql.Scanner. Numeric and boolean cells written by older
// schemas are converted back to their JSON text.
func (v *SettingValue) Scan(src any) error {
	switch value := src.(type) {
	case nil:
		*v = nil
	case []byte:
		*v = append(SettingValue(nil), value...)
	case string:
		*v = SettingValue(value)
	case int64:
		*v = SettingValue(strconv.FormatInt(value, 10))
	case float64:
		*v = SettingValue(strconv.FormatFloat(value, 'f', -1, 64))
	case bool:
		*v = SettingValue(strconv.FormatBool(value))
	default:
		return fmt.Errorf("models: unsupported setting value type %T", src)
	}
	return nil
}

// GormDataType implements schema.GormDataTypeInterface.
func (SettingValue) GormDataType() string {
	return "json"
}

// GormDBDataType picks jsonb on PostgreSQL and text elsewhere.
func (SettingValue) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db != nil && db.Dialector != nil && db.Dialector.Name() == "postgres" {
		return "JSONB"
	}
	return "TEXT"
}
