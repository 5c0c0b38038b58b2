// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package config loads and saves pageview configuration.
//
// The default location follows the XDG Base Directory specification:
// ~/.config/pageview/config.yaml. A missing file yields [Default].
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DelegateMode selects where pages are rasterized.
type DelegateMode string

// Delegate modes.
const (
	// DelegateOff renders in the viewer's process.
	DelegateOff DelegateMode = "off"

	// DelegateInProcess renders on a worker goroutine reached only through
	// the worker message channel.
	DelegateInProcess DelegateMode = "inprocess"

	// DelegateSubprocess renders in a pageworker child process.
	DelegateSubprocess DelegateMode = "subprocess"
)

// Config is the top-level configuration.
type Config struct {
	// Scheduling.
	MaxConcurrent int `yaml:"max_concurrent"`
	MaxQueueSize  int `yaml:"max_queue_size"`
	PagesBefore   int `yaml:"pages_before"`
	PagesAfter    int `yaml:"pages_after"`

	// Cache.
	BudgetBytes     int64 `yaml:"budget_bytes"`
	ProtectedRadius int   `yaml:"protected_radius"`

	// Engine and delegation.
	Engine            string        `yaml:"engine,omitempty"`
	ResourceURL       string        `yaml:"resource_url,omitempty"`
	Delegate          DelegateMode  `yaml:"delegate"`
	WorkerPath        string        `yaml:"worker_path,omitempty"`
	WorkerInitTimeout time.Duration `yaml:"worker_init_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`

	// RestoreTimeout bounds the wait for the initial view to render.
	RestoreTimeout time.Duration `yaml:"restore_timeout"`

	// SizeStore is the page-size database path. Empty disables it.
	SizeStore string `yaml:"size_store,omitempty"`

	// View.
	Resolution       float64 `yaml:"resolution"`
	DevicePixelRatio float64 `yaml:"device_pixel_ratio"`
	Zoom             float64 `yaml:"zoom"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		MaxConcurrent:     2,
		MaxQueueSize:      9,
		PagesBefore:       2,
		PagesAfter:        4,
		BudgetBytes:       256 << 20,
		ProtectedRadius:   1,
		Delegate:          DelegateOff,
		WorkerInitTimeout: 30 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  20 * time.Second,
		RestoreTimeout:    10 * time.Second,
		Resolution:        1,
		DevicePixelRatio:  1,
		Zoom:              1,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent))
	}
	if c.MaxQueueSize < 1 {
		errs = append(errs, fmt.Errorf("max_queue_size must be at least 1, got %d", c.MaxQueueSize))
	}
	if c.PagesBefore < 0 || c.PagesAfter < 0 {
		errs = append(errs, errors.New("pages_before and pages_after must not be negative"))
	}
	if c.BudgetBytes <= 0 {
		errs = append(errs, fmt.Errorf("budget_bytes must be positive, got %d", c.BudgetBytes))
	}
	if c.ProtectedRadius < 0 {
		errs = append(errs, fmt.Errorf("protected_radius must not be negative, got %d", c.ProtectedRadius))
	}
	switch c.Delegate {
	case DelegateOff, DelegateInProcess:
	case DelegateSubprocess:
		if c.WorkerPath == "" {
			errs = append(errs, errors.New("worker_path is required with delegate: subprocess"))
		}
	default:
		errs = append(errs, fmt.Errorf("delegate must be off, inprocess or subprocess, got %q", c.Delegate))
	}
	if c.HeartbeatInterval > 0 && c.HeartbeatTimeout <= c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("heartbeat_timeout (%s) must exceed heartbeat_interval (%s)", c.HeartbeatTimeout, c.HeartbeatInterval))
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"resolution", c.Resolution},
		{"device_pixel_ratio", c.DevicePixelRatio},
		{"zoom", c.Zoom},
	} {
		if !(f.value > 0) {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", f.name, f.value))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Dir returns the XDG config directory for pageview.
func Dir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "pageview")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "pageview")
}

// Path returns the full path to config.yaml.
func Path() string {
	dir := Dir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads the config file from the XDG config directory.
// Returns Default if the file doesn't exist.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Default(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from a specific path. Fields missing from the file
// keep their defaults. Returns Default if the file doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	cfg.WorkerPath = expandHome(cfg.WorkerPath)
	cfg.SizeStore = expandHome(cfg.SizeStore)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveTo writes the config to a specific path.
func SaveTo(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
