package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raevmood/devicefinder/internal/models"
	internalsettings "github.com/raevmood/devicefinder/internal/settings"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// migratePostgres enables pgvector before creating tables and the ANN index.
func migratePostgres(conn *gorm.DB) error {
	if errExt := conn.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; errExt != nil {
		return fmt.Errorf("db: enable vector extension: %w", errExt)
	}
	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Device{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	if errIndex := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_devices_embedding
		ON devices USING hnsw (embedding vector_cosine_ops)
	`).Error; errIndex != nil {
		return fmt.Errorf("db: create embedding index: %w", errIndex)
	}
	return ensureSettings(conn)
}

func migrateSQLite(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Device{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return ensureSettings(conn)
}

// ensureSettings seeds empty rows so operators can discover tunable keys.
func ensureSettings(conn *gorm.DB) error {
	for _, key := range []string{
		internalsettings.RateLimitMaxCallsKey,
		internalsettings.RateLimitWindowMinutesKey,
	} {
		if errSeed := ensureNullSetting(conn, key); errSeed != nil {
			return errSeed
		}
	}
	return nil
}

// ensureNullSetting creates key with a JSON null value when absent. A null
// value means "use the file or environment configuration".
func ensureNullSetting(conn *gorm.DB, key string) error {
	var existing models.Setting
	errFind := conn.Where("key = ?", key).First(&existing).Error
	if errFind == nil {
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query %s setting: %w", key, errFind)
	}
	setting := models.Setting{
		Key:       key,
		Value:     models.SettingValue("null"),
		UpdatedAt: time.Now().UTC(),
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		return fmt.Errorf("db: create %s setting: %w", key, errCreate)
	}
	return nil
}

// PutSetting upserts a JSON-encoded setting value.
func PutSetting(conn *gorm.DB, key string, value any) error {
	key = strings.TrimSpace(key)
	if conn == nil || key == "" {
		return fmt.Errorf("db: put setting: invalid arguments")
	}
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	setting := models.Setting{Key: key, Value: models.SettingValue(payload), UpdatedAt: time.Now().UTC()}
	if errSave := conn.Save(&setting).Error; errSave != nil {
		return fmt.Errorf("db: save %s setting: %w", key, errSave)
	}
	return nil
}
