package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("Expected to write config file, got error: %s", err)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yml")
	writeConfig(t, path, `
addr: ":5000"
logLevel: debug
sweepPeriod: 5s
analyzer:
  command: node analyze-heap.js
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected config to load, got error: %s", err)
	}

	if cfg.Addr != ":5000" {
		t.Fatalf("Expected addr :5000, got %s", cfg.Addr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("Expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.SweepPeriod.Std() != 5*time.Second {
		t.Fatalf("Expected sweep period 5s, got %s", cfg.SweepPeriod.Std())
	}
	if cfg.Analyzer.Command != "node analyze-heap.js" {
		t.Fatalf("Expected analyzer command to survive, got %q", cfg.Analyzer.Command)
	}

	// everything unset comes from Default
	def := Default()
	if cfg.SnapshotDir != def.SnapshotDir {
		t.Fatalf("Expected default snapshot dir %s, got %s", def.SnapshotDir, cfg.SnapshotDir)
	}
	if cfg.MetricCap != def.MetricCap {
		t.Fatalf("Expected default metric cap %d, got %d", def.MetricCap, cfg.MetricCap)
	}
	if cfg.InactivityTimeout.Std() != def.InactivityTimeout.Std() {
		t.Fatalf("Expected default inactivity timeout %s, got %s", def.InactivityTimeout.Std(), cfg.InactivityTimeout.Std())
	}
	if cfg.Analyzer.ThresholdBytes != def.Analyzer.ThresholdBytes {
		t.Fatalf("Expected default analyzer threshold %d, got %d", def.Analyzer.ThresholdBytes, cfg.Analyzer.ThresholdBytes)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yml")
	writeConfig(t, path, "adr: \":5000\"\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("Expected an error for an unknown key, got none")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yml")
	writeConfig(t, path, "sweepPeriod: fast\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("Expected an error for a bad duration, got none")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatalf("Expected an error for a missing file, got none")
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yml")
	writeConfig(t, path, "logLevel: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 16)
	go func() {
		_ = Watch(ctx, path, func(cfg Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// The watcher offers no readiness signal, so keep rewriting until a
	// reload comes through.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-reloaded:
			if cfg.LogLevel != "debug" {
				t.Fatalf("Expected reloaded log level debug, got %s", cfg.LogLevel)
			}
			return
		case <-tick.C:
			writeConfig(t, path, "logLevel: debug\n")
		case <-deadline:
			t.Fatalf("Expected a config reload, got none")
		}
	}
}
