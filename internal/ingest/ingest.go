// Package ingest refreshes the device catalog from preset web searches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raevmood/devicefinder/internal/config"
	"github.com/raevmood/devicefinder/internal/metrics"
	"github.com/raevmood/devicefinder/internal/models"
	"github.com/raevmood/devicefinder/internal/search"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	runKey            = "ingest"
	defaultNumResults = 10
	defaultTimeout    = 10 * time.Minute
)

// Searcher runs shopping searches.
type Searcher interface {
	SearchDevices(ctx context.Context, q search.DeviceQuery) ([]search.Result, error)
}

// Store persists catalog rows.
type Store interface {
	Upsert(ctx context.Context, devices []models.Device, seenAt time.Time) (int, error)
	Prune(ctx context.Context, category string, cutoff time.Time) (int64, error)
	Count(ctx context.Context, category string) (int64, error)
}

// CategorySummary reports one category of a run.
type CategorySummary struct {
	Presets int   `json:"presets"`
	Failed  int   `json:"failed"`
	Devices int   `json:"devices"`
	Pruned  int64 `json:"pruned"`
}

// Summary reports a finished run.
type Summary struct {
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Categories map[string]CategorySummary `json:"categories"`
	Total      int                        `json:"total"`
}

// Options tunes a run.
type Options struct {
	Presets    []config.Preset
	NumResults int
	// Timeout bounds a background run.
	Timeout time.Duration
	// Pause spaces consecutive searches.
	Pause time.Duration
}

// Ingestor runs catalog refreshes, sharing one run between concurrent
// triggers.
type Ingestor struct {
	searcher Searcher
	store    Store
	opts     Options
	nowFn    func() time.Time

	group   singleflight.Group
	running atomic.Bool

	// base parents background runs so Stop can cancel them.
	base       context.Context
	cancelBase context.CancelFunc
	bgMu       sync.Mutex
	stopped    bool
	bg         sync.WaitGroup

	mu   sync.RWMutex
	last *Summary
}

// New constructs an Ingestor. Empty presets select config.DefaultPresets.
func New(searcher Searcher, store Store, opts Options) *Ingestor {
	if len(opts.Presets) == 0 {
		opts.Presets = config.DefaultPresets()
	}
	if opts.NumResults <= 0 {
		opts.NumResults = defaultNumResults
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Ingestor{searcher: searcher, store: store, opts: opts, nowFn: time.Now, base: base, cancelBase: cancel}
}

// Run executes one refresh. Concurrent callers share the in-flight run.
func (i *Ingestor) Run(ctx context.Context) (Summary, error) {
	if i == nil || i.searcher == nil || i.store == nil {
		return Summary{}, errors.New("ingest: not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	v, err, _ := i.group.Do(runKey, func() (any, error) {
		i.running.Store(true)
		defer i.running.Store(false)
		summary, errRun := i.run(ctx)
		if errRun == nil {
			i.mu.Lock()
			i.last = &summary
			i.mu.Unlock()
		}
		return summary, errRun
	})
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

// Trigger starts a background run and reports whether one was already in
// progress. Triggers after Stop are ignored.
func (i *Ingestor) Trigger() bool {
	if i.running.Load() {
		return true
	}
	i.bgMu.Lock()
	defer i.bgMu.Unlock()
	if i.stopped {
		log.Warn("ingest: trigger ignored after stop")
		return false
	}
	i.bg.Add(1)
	go func() {
		defer i.bg.Done()
		ctx, cancel := context.WithTimeout(i.base, i.opts.Timeout)
		defer cancel()
		summary, err := i.Run(ctx)
		if err != nil {
			log.WithError(err).Error("ingest: background run failed")
			return
		}
		log.WithFields(log.Fields{
			"total":    summary.Total,
			"duration": summary.FinishedAt.Sub(summary.StartedAt).String(),
		}).Info("ingest: background run finished")
	}()
	return false
}

// Stop cancels background runs and waits for them to return.
func (i *Ingestor) Stop() {
	if i == nil {
		return
	}
	i.bgMu.Lock()
	i.stopped = true
	i.bgMu.Unlock()
	if i.cancelBase != nil {
		i.cancelBase()
	}
	i.bg.Wait()
}

// Running reports whether a run is in progress.
func (i *Ingestor) Running() bool {
	return i != nil && i.running.Load()
}

// LastSummary returns the most recent successful run.
func (i *Ingestor) LastSummary() (Summary, bool) {
	if i == nil {
		return Summary{}, false
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.last == nil {
		return Summary{}, false
	}
	return *i.last, true
}

// CatalogCounts reports stored entries for every preset category.
func (i *Ingestor) CatalogCounts(ctx context.Context) (map[string]int64, error) {
	if i == nil || i.store == nil {
		return nil, errors.New("ingest: not configured")
	}
	counts := make(map[string]int64)
	for _, preset := range i.opts.Presets {
		if _, done := counts[preset.Category]; done {
			continue
		}
		n, errCount := i.store.Count(ctx, preset.Category)
		if errCount != nil {
			return nil, errCount
		}
		counts[preset.Category] = n
	}
	return counts, nil
}

func (i *Ingestor) run(ctx context.Context) (Summary, error) {
	started := i.nowFn().UTC()
	summary := Summary{StartedAt: started, Categories: make(map[string]CategorySummary)}
	order := make([]string, 0)
	succeeded := make(map[string]bool)

	for idx, preset := range i.opts.Presets {
		if errCtx := ctx.Err(); errCtx != nil {
			return Summary{}, fmt.Errorf("ingest: cancelled: %w", errCtx)
		}
		if idx > 0 && i.opts.Pause > 0 {
			timer := time.NewTimer(i.opts.Pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Summary{}, fmt.Errorf("ingest: cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		cs, seen := summary.Categories[preset.Category]
		if !seen {
			order = append(order, preset.Category)
		}
		cs.Presets++

		entry := log.WithFields(log.Fields{"category": preset.Category, "query": preset.Query, "location": preset.Location})
		results, errSearch := i.searcher.SearchDevices(ctx, search.DeviceQuery{
			Category:       preset.Category,
			Specifications: preset.Query,
			Location:       preset.Location,
			PriceRange:     priceRange(preset.PriceMax),
			Num:            i.opts.NumResults,
		})
		if errSearch != nil {
			entry.WithError(errSearch).Warn("ingest: preset search failed")
			cs.Failed++
			summary.Categories[preset.Category] = cs
			continue
		}

		devices := make([]models.Device, 0, len(results))
		for _, result := range results {
			if device, ok := parseResult(preset, result); ok {
				devices = append(devices, device)
			}
		}
		n, errUpsert := i.store.Upsert(ctx, devices, started)
		if errUpsert != nil {
			entry.WithError(errUpsert).Warn("ingest: store devices failed")
			cs.Failed++
			summary.Categories[preset.Category] = cs
			continue
		}
		succeeded[preset.Category] = true
		cs.Devices += n
		summary.Total += n
		summary.Categories[preset.Category] = cs
		metrics.IngestedDevices.WithLabelValues(preset.Category).Add(float64(n))
		entry.Debugf("ingest: stored %d devices", n)
	}

	for _, category := range order {
		if !succeeded[category] {
			continue
		}
		pruned, errPrune := i.store.Prune(ctx, category, started)
		if errPrune != nil {
			log.WithError(errPrune).WithField("category", category).Warn("ingest: prune failed")
			continue
		}
		cs := summary.Categories[category]
		cs.Pruned = pruned
		summary.Categories[category] = cs
	}

	summary.FinishedAt = i.nowFn().UTC()
	log.WithField("total", summary.Total).Info("ingest: run finished")
	return summary, nil
}

func priceRange(priceMax float64) string {
	if priceMax <= 0 {
		return ""
	}
	return "under " + strconv.FormatFloat(priceMax, 'f', -1, 64) + " KES"
}
