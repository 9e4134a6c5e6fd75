package watcher

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/raevmood/devicefinder/internal/models"
	internalsettings "github.com/raevmood/devicefinder/internal/settings"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return db
}

func TestPoll_PublishesAndReloadsOnChange(t *testing.T) {
	db := openTestDB(t)
	t.Cleanup(func() { internalsettings.StoreDBConfig(time.Now(), nil) })
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if errCreate := db.Create(&models.Setting{Key: internalsettings.RateLimitMaxCallsKey, Value: models.SettingValue(`5`), UpdatedAt: now}).Error; errCreate != nil {
		t.Fatalf("create setting: %v", errCreate)
	}

	w := NewSettingsWatcher(db, time.Hour)
	w.Poll(context.Background(), true)
	raw, ok := internalsettings.DBConfigValue(internalsettings.RateLimitMaxCallsKey)
	if !ok || string(raw) != "5" {
		t.Fatalf("expected 5, got %q ok=%v", raw, ok)
	}

	if errUpdate := db.Model(&models.Setting{}).Where("key = ?", internalsettings.RateLimitMaxCallsKey).
		Updates(map[string]any{"value": models.SettingValue(`9`), "updated_at": now.Add(time.Minute)}).Error; errUpdate != nil {
		t.Fatalf("update setting: %v", errUpdate)
	}
	w.Poll(context.Background(), false)
	raw, _ = internalsettings.DBConfigValue(internalsettings.RateLimitMaxCallsKey)
	if string(raw) != "9" {
		t.Fatalf("expected reload to 9, got %q", raw)
	}
}

func TestStartStop(t *testing.T) {
	db := openTestDB(t)
	t.Cleanup(func() { internalsettings.StoreDBConfig(time.Now(), nil) })
	w := NewSettingsWatcher(db, 10*time.Millisecond)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.Stop()
	w.Stop()
}

func TestPoll_ReadsNumericCellsFromJSONColumn(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { internalsettings.StoreDBConfig(time.Now(), nil) })
	if errExec := db.Exec(`CREATE TABLE settings (key text PRIMARY KEY, value JSON, updated_at datetime NOT NULL)`).Error; errExec != nil {
		t.Fatalf("create table: %v", errExec)
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if errExec := db.Exec(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?), (?, ?, ?)`,
		internalsettings.RateLimitMaxCallsKey, "5", now,
		internalsettings.RateLimitWindowMinutesKey, "null", now).Error; errExec != nil {
		t.Fatalf("insert settings: %v", errExec)
	}

	w := NewSettingsWatcher(db, time.Hour)
	w.Poll(context.Background(), true)
	raw, ok := internalsettings.DBConfigValue(internalsettings.RateLimitMaxCallsKey)
	if !ok || string(raw) != "5" {
		t.Fatalf("expected 5, got %q ok=%v", raw, ok)
	}
}
