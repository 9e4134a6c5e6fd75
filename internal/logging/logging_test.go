package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raevmood/devicefinder/internal/config"
	log "github.com/sirupsen/logrus"
)

func TestSetup_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	closer, err := Setup(config.LoggingConfig{Level: "debug", Format: "json", File: path})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() {
		log.SetOutput(os.Stdout)
		log.SetFormatter(&log.TextFormatter{})
		log.SetLevel(log.InfoLevel)
	})

	log.WithField("component", "test").Debug("hello")
	if errClose := closer.Close(); errClose != nil {
		t.Fatalf("close: %v", errClose)
	}
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		t.Fatalf("read log: %v", errRead)
	}
	if !strings.Contains(string(data), `"component":"test"`) {
		t.Fatalf("expected json entry, got %s", data)
	}
}

func TestSetup_RejectsUnknownLevel(t *testing.T) {
	if _, err := Setup(config.LoggingConfig{Level: "chatty"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
