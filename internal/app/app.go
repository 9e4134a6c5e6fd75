// Package app assembles the service from configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/raevmood/devicefinder/internal/agent"
	"github.com/raevmood/devicefinder/internal/catalog"
	"github.com/raevmood/devicefinder/internal/chat"
	"github.com/raevmood/devicefinder/internal/config"
	"github.com/raevmood/devicefinder/internal/db"
	"github.com/raevmood/devicefinder/internal/http/api"
	"github.com/raevmood/devicefinder/internal/http/api/handlers"
	"github.com/raevmood/devicefinder/internal/ingest"
	"github.com/raevmood/devicefinder/internal/llm"
	"github.com/raevmood/devicefinder/internal/logging"
	"github.com/raevmood/devicefinder/internal/memory"
	"github.com/raevmood/devicefinder/internal/ratelimit"
	"github.com/raevmood/devicefinder/internal/search"
	"github.com/raevmood/devicefinder/internal/watcher"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Version is reported by the status endpoint.
var Version = "dev"

const (
	shutdownTimeout  = 15 * time.Second
	sweepInterval    = time.Minute
	ingestPause      = time.Second
	readHeaderLimit  = 10 * time.Second
	backendClientPad = 5 * time.Second
)

// App holds the assembled service and the resources it must release.
type App struct {
	cfg      *config.Config
	conn     *gorm.DB
	limiter  *ratelimit.Manager
	watcher  *watcher.SettingsWatcher
	memStore *memory.BoltStore
	ingestor *ingest.Ingestor
	router   *gin.Engine
}

// Build opens storage and wires every component. Background loops run until
// ctx ends or Close is called.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}

	conn, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, conn: conn}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		a.Close()
		return nil, errMigrate
	}

	a.watcher = watcher.NewSettingsWatcher(conn, cfg.SettingsPollInterval)
	if errStart := a.watcher.Start(ctx); errStart != nil {
		a.Close()
		return nil, errStart
	}

	a.limiter = ratelimit.NewManager(ratelimit.NewSettingsProvider(ratelimit.SettingsFromConfig(cfg.RateLimit)), nil, nil)
	a.limiter.StartSweeper(ctx, sweepInterval)

	gateway, errGateway := buildGateway(cfg.LLM)
	if errGateway != nil {
		a.Close()
		return nil, errGateway
	}

	store := catalog.NewStore(conn, nil)
	searchClient := search.NewClient(cfg.Search, nil)

	memStore, errBolt := memory.OpenBolt(cfg.Memory.Path)
	if errBolt != nil {
		a.Close()
		return nil, errBolt
	}
	a.memStore = memStore
	mem := memory.New(memStore, cfg.Memory.MaxMessages)

	deps := agent.Deps{
		Limiter:   a.limiter,
		Retriever: store,
		Generator: gateway,
	}
	if searchClient.Enabled() {
		deps.Searcher = searchClient
	} else {
		log.Warn("search api key not set, recommendations will use the catalog only")
	}
	agents := agent.NewAll(deps, agent.Options{
		TopK:             cfg.Retrieval.TopK,
		SearchResults:    cfg.Search.NumResults,
		RetrievalTimeout: cfg.Retrieval.Timeout,
		SearchTimeout:    cfg.Search.Timeout,
	})

	bot := chat.New(chat.Deps{
		Memory:    mem,
		Limiter:   a.limiter,
		Retriever: store,
		Generator: gateway,
	}, chat.Options{TopK: cfg.Retrieval.TopK, RetrievalTimeout: cfg.Retrieval.Timeout})

	var ingestSearcher ingest.Searcher
	if searchClient.Enabled() {
		ingestSearcher = searchClient
	}
	a.ingestor = ingest.New(ingestSearcher, store, ingest.Options{
		Presets:    cfg.Ingestion.Presets,
		NumResults: cfg.Ingestion.NumResults,
		Timeout:    cfg.Ingestion.Timeout,
		Pause:      ingestPause,
	})

	recommenders := make([]handlers.Recommender, 0, len(agent.Categories))
	for _, category := range agent.Categories {
		if ag, ok := agents[category.Key]; ok {
			recommenders = append(recommenders, ag)
		}
	}
	a.router = api.NewRouter(api.Services{
		DB:           conn,
		JWT:          cfg.JWT,
		Quota:        a.limiter,
		Agents:       recommenders,
		Chat:         bot,
		Ingest:       a.ingestor,
		Settings:     a.watcher,
		IngestAPIKey: cfg.Ingestion.APIKey,
		Version:      Version,
	})
	return a, nil
}

// buildGateway constructs the completion gateway. A missing primary promotes
// the secondary; backends without an API key are skipped.
func buildGateway(cfg config.LLMConfig) (*llm.Gateway, error) {
	client := &http.Client{Timeout: cfg.Timeout + backendClientPad}
	var backends []llm.Backend
	for _, backendCfg := range []config.BackendConfig{cfg.Primary, cfg.Secondary} {
		if backendCfg.APIKey == "" {
			if backendCfg.Provider != "" {
				log.Warnf("llm: %s backend has no api key, skipping", backendCfg.Provider)
			}
			continue
		}
		backend, err := llm.NewBackend(backendCfg, client)
		if err != nil {
			return nil, err
		}
		if backend != nil {
			backends = append(backends, backend)
		}
	}
	switch len(backends) {
	case 0:
		log.Warn("llm: no backend configured, generation requests will fail")
		return llm.NewGateway(nil, nil, cfg.Timeout), nil
	case 1:
		return llm.NewGateway(backends[0], nil, cfg.Timeout), nil
	default:
		return llm.NewGateway(backends[0], backends[1], cfg.Timeout), nil
	}
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler {
	return a.router
}

// Ingestor exposes the catalog refresher.
func (a *App) Ingestor() *ingest.Ingestor {
	return a.ingestor
}

// Close stops background loops and releases storage.
func (a *App) Close() {
	if a == nil {
		return
	}
	a.ingestor.Stop()
	a.watcher.Stop()
	if a.limiter != nil {
		if errClose := a.limiter.Close(); errClose != nil {
			log.WithError(errClose).Warn("close rate limiter failed")
		}
	}
	if a.memStore != nil {
		if errClose := a.memStore.Close(); errClose != nil {
			log.WithError(errClose).Warn("close conversation store failed")
		}
	}
	if a.conn != nil {
		if sqlDB, errDB := a.conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	}
}

// RunServer loads configuration, builds the service and serves HTTP until
// ctx is cancelled. port overrides the configured port when positive.
func RunServer(ctx context.Context, appCfg config.AppConfig, port int) error {
	cfg, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Port = port
	}
	logCloser, errLog := logging.Setup(cfg.Logging)
	if errLog != nil {
		return errLog
	}
	defer func() { _ = logCloser.Close() }()

	gin.SetMode(gin.ReleaseMode)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, errBuild := Build(runCtx, cfg)
	if errBuild != nil {
		return errBuild
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderLimit,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("devicefinder listening on %s (config=%s)", srv.Addr, appCfg.ConfigPath)
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		if errServe != nil {
			return fmt.Errorf("http server: %w", errServe)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("http shutdown: %w", errShutdown)
	}
	return nil
}
