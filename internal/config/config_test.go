package config_test

import (
	"testing"
	"time"

	"github.com/nexlink/pairbroker/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "BROKER_DATA_DIR", "BROKER_MAX_SESSION_AGE", "BROKER_SWEEP_INTERVAL"} {
		t.Setenv(key, "")
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Broker.MaxSessionAge != 5*time.Minute {
		t.Fatalf("unexpected max session age: %v", cfg.Broker.MaxSessionAge)
	}
	if cfg.Broker.SweepInterval != time.Minute {
		t.Fatalf("unexpected sweep interval: %v", cfg.Broker.SweepInterval)
	}
	if cfg.Broker.DataDir != "sessions" {
		t.Fatalf("unexpected data dir: %s", cfg.Broker.DataDir)
	}
}

func TestLoadPortVariants(t *testing.T) {
	t.Setenv("PORT", "9090")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}

	t.Setenv("PORT", "127.0.0.1:9090")
	cfg, err = config.Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}

	t.Setenv("PORT", "bad port")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for PORT with spaces")
	}
}

func TestLoadDurationOverrides(t *testing.T) {
	t.Setenv("BROKER_MAX_SESSION_AGE", "10m")
	t.Setenv("BROKER_CLEANUP_DELAY", "1s")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Broker.MaxSessionAge != 10*time.Minute {
		t.Fatalf("override not applied: %v", cfg.Broker.MaxSessionAge)
	}
	if cfg.Broker.PostRetrievalCleanupDelay != time.Second {
		t.Fatalf("override not applied: %v", cfg.Broker.PostRetrievalCleanupDelay)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("BROKER_SWEEP_INTERVAL", "soon")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for malformed duration")
	}

	t.Setenv("BROKER_SWEEP_INTERVAL", "-5s")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for negative duration")
	}
}
