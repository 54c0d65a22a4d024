// Package config loads hub settings from an optional YAML file and keeps
// watching the file so selected settings can be reloaded while the hub runs.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/imdario/mergo"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the hub settings that can be sourced from a YAML file.
// Load fills unset fields from Default.
type Config struct {
	Addr      string `yaml:"addr"`
	AdminAddr string `yaml:"adminAddr"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	CORSOrigin  string `yaml:"corsOrigin"`
	SnapshotDir string `yaml:"snapshotDir"`

	MetricCap int `yaml:"metricCap"`
	AlertCap  int `yaml:"alertCap"`

	SweepPeriod       Duration `yaml:"sweepPeriod"`
	InactivityTimeout Duration `yaml:"inactivityTimeout"`
	WriteTimeout      Duration `yaml:"writeTimeout"`
	StagingTTL        Duration `yaml:"stagingTTL"`

	MaxFrameBytes    int64 `yaml:"maxFrameBytes"`
	MaxBodyBytes     int64 `yaml:"maxBodyBytes"`
	MaxSnapshotBytes int64 `yaml:"maxSnapshotBytes"`
	MaxConns         int   `yaml:"maxConns"`

	Analyzer AnalyzerConfig `yaml:"analyzer"`
}

// AnalyzerConfig configures the external leak analyzer.
type AnalyzerConfig struct {
	Command         string   `yaml:"command"`
	FallbackCommand string   `yaml:"fallbackCommand"`
	ThresholdBytes  int64    `yaml:"thresholdBytes"`
	Timeout         Duration `yaml:"timeout"`
}

// Default returns the hub's built-in settings.
func Default() Config {
	return Config{
		Addr:              ":4000",
		AdminAddr:         ":9990",
		LogLevel:          "info",
		LogFormat:         "plain",
		CORSOrigin:        "*",
		SnapshotDir:       "./dashboard-snapshots",
		MetricCap:         1000,
		AlertCap:          100,
		SweepPeriod:       Duration(30 * time.Second),
		InactivityTimeout: Duration(60 * time.Second),
		WriteTimeout:      Duration(10 * time.Second),
		StagingTTL:        Duration(5 * time.Minute),
		MaxFrameBytes:     16 << 20,
		MaxBodyBytes:      512 << 20,
		Analyzer: AnalyzerConfig{
			ThresholdBytes: 1 << 20,
			Timeout:        Duration(2 * time.Minute),
		},
	}
}

// Load reads a YAML config file and fills unset fields from Default.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.UnmarshalStrict(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %s", path, err)
	}
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Watch monitors the config file for rewrites and invokes onReload with each
// freshly loaded Config. Rewrites that fail to load are logged and skipped.
// Watch blocks until ctx is done or the underlying watcher fails.
func Watch(ctx context.Context, path string, onReload func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Editors and config management tools replace the file rather than
	// writing it in place, so watch the directory and filter by name.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	want := filepath.Clean(path)

LOOP:
	for {
		select {
		case event := <-watcher.Events:
			log.Debugf("Received event: %v", event)
			if filepath.Clean(event.Name) != want {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				log.Warnf("Ignoring config rewrite: %s", err)
				continue
			}
			log.Infof("Reloaded config from %s", path)
			onReload(cfg)
		case err := <-watcher.Errors:
			log.Warnf("Error while watching %s: %s", dir, err)
			break LOOP
		case <-ctx.Done():
			break LOOP
		}
	}

	return nil
}
