package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/raevmood/devicefinder/internal/app"
	"github.com/raevmood/devicefinder/internal/config"
	"github.com/raevmood/devicefinder/internal/logging"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		stop()
		os.Exit(1)
	}
}

// run loads .env, parses flags and either serves HTTP or runs one catalog
// refresh.
func run(ctx context.Context, args []string) error {
	if errEnv := godotenv.Load(); errEnv != nil && !errors.Is(errEnv, fs.ErrNotExist) {
		log.WithError(errEnv).Warn("load .env failed")
	}

	flagSet := flag.NewFlagSet("devicefinder", flag.ContinueOnError)
	cfgPath := flagSet.String("config", "", "config file path (or env CONFIG_PATH)")
	port := flagSet.Int("port", 0, "server port, overrides config and PORT")
	ingestOnce := flagSet.Bool("ingest-once", false, "run one catalog refresh and exit")
	if errParse := flagSet.Parse(args); errParse != nil {
		return errParse
	}
	if *port != 0 {
		if errValidate := validatePort(*port); errValidate != nil {
			return errValidate
		}
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}

	if *ingestOnce {
		return runIngestOnce(ctx, appCfg)
	}
	return app.RunServer(ctx, appCfg, *port)
}

func runIngestOnce(ctx context.Context, appCfg config.AppConfig) error {
	cfg, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		return err
	}
	logCloser, errLog := logging.Setup(cfg.Logging)
	if errLog != nil {
		return errLog
	}
	defer func() { _ = logCloser.Close() }()

	a, errBuild := app.Build(ctx, cfg)
	if errBuild != nil {
		return errBuild
	}
	defer a.Close()

	summary, errRun := a.Ingestor().Run(ctx)
	if errRun != nil {
		return errRun
	}
	for category, stats := range summary.Categories {
		log.WithFields(log.Fields{
			"category": category,
			"devices":  stats.Devices,
			"failed":   stats.Failed,
			"pruned":   stats.Pruned,
		}).Info("ingest: category refreshed")
	}
	log.Infof("ingest: %d devices in %s", summary.Total, summary.FinishedAt.Sub(summary.StartedAt))
	return nil
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
