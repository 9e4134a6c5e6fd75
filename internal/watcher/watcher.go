package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/raevmood/devicefinder/internal/models"
	internalsettings "github.com/raevmood/devicefinder/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Default timings for the watcher loop.
const (
	// defaultPollInterval controls how often DB snapshots are refreshed.
	defaultPollInterval = 5 * time.Second
	// defaultQueryTimeout bounds DB query duration.
	defaultQueryTimeout = 10 * time.Second
)

// SettingsWatcher polls the settings table and publishes snapshots through
// internalsettings.StoreDBConfig.
type SettingsWatcher struct {
	db           *gorm.DB
	pollInterval time.Duration

	mu                sync.Mutex
	settingsLatestAt  time.Time
	settingsLatestKey string
	hasSettingsLatest bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSettingsWatcher constructs a SettingsWatcher.
func NewSettingsWatcher(db *gorm.DB, pollInterval time.Duration) *SettingsWatcher {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &SettingsWatcher{db: db, pollInterval: pollInterval}
}

// Start loads the initial snapshot synchronously, then keeps polling in the
// background until ctx ends or Stop is called.
func (w *SettingsWatcher) Start(ctx context.Context) error {
	if w == nil || w.db == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	w.Poll(ctx, true)

	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(runCtx)
	}()
	log.Infof("settings watcher started (poll_interval=%s)", w.pollInterval)
	return nil
}

// Stop cancels polling and waits for the loop to exit.
func (w *SettingsWatcher) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *SettingsWatcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx, false)
		}
	}
}

// Poll reloads settings when the newest row changed, or always when force.
func (w *SettingsWatcher) Poll(ctx context.Context, force bool) {
	if w == nil || w.db == nil {
		return
	}
	qctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	// latestRow captures the newest setting timestamp for change detection.
	type latestRow struct {
		Key       string     `gorm:"column:key"`
		UpdatedAt *time.Time `gorm:"column:updated_at"`
	}
	var latest latestRow
	hasLatest := true
	errLatest := w.db.WithContext(qctx).
		Model(&models.Setting{}).
		Select("key", "updated_at").
		Order("updated_at DESC").
		Order("key DESC").
		Limit(1).
		Take(&latest).Error
	if errLatest != nil {
		if errors.Is(errLatest, context.Canceled) {
			return
		}
		if !errors.Is(errLatest, gorm.ErrRecordNotFound) {
			log.WithError(errLatest).Warn("settings watcher: query latest row failed")
			return
		}
		hasLatest = false
	}

	latestKey := strings.TrimSpace(latest.Key)
	latestAt := time.Time{}
	if hasLatest && latest.UpdatedAt != nil {
		latestAt = latest.UpdatedAt.UTC()
	}

	w.mu.Lock()
	unchanged := w.hasSettingsLatest == hasLatest && latestAt.Equal(w.settingsLatestAt) && latestKey == w.settingsLatestKey
	w.mu.Unlock()
	if !force && unchanged {
		return
	}

	var rows []models.Setting
	if errFind := w.db.WithContext(qctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		if errors.Is(errFind, context.Canceled) {
			return
		}
		log.WithError(errFind).Warn("settings watcher: query settings failed")
		return
	}

	values := make(map[string]json.RawMessage, len(rows))
	maxUpdatedAt := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = json.RawMessage(row.Value)
		if rowUpdatedAt := row.UpdatedAt.UTC(); rowUpdatedAt.After(maxUpdatedAt) {
			maxUpdatedAt = rowUpdatedAt
		}
	}
	internalsettings.StoreDBConfig(maxUpdatedAt, values)
	if !force {
		log.Infof("settings watcher: settings reloaded (latest_updated_at=%s latest_key=%s)", latestAt.Format(time.RFC3339Nano), latestKey)
	}

	w.mu.Lock()
	w.settingsLatestAt = latestAt
	w.settingsLatestKey = latestKey
	w.hasSettingsLatest = hasLatest
	w.mu.Unlock()
}
