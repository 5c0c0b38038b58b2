// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pageview

import (
	"log/slog"

	"github.com/gogpu/pageview/config"
	"github.com/gogpu/pageview/docstate"
	"github.com/gogpu/pageview/engine"
	"github.com/gogpu/pageview/sizestore"
)

// Option configures a Viewer during Open.
// Use functional options to customize Viewer behavior.
//
// Example:
//
//	// Default configuration, best available engine
//	v, err := pageview.Open(ctx, data)
//
//	// Render in a worker subprocess
//	v, err := pageview.Open(ctx, data,
//	    pageview.WithDelegate(config.DelegateSubprocess),
//	    pageview.WithWorkerPath("/usr/local/bin/pageworker"))
type Option func(*viewerOptions)

// viewerOptions holds optional configuration for Viewer creation.
type viewerOptions struct {
	cfg       config.Config
	logger    *slog.Logger
	registry  *engine.Registry
	sizeStore *sizestore.Store
	observer  func(docstate.PageRecord)
}

// defaultOptions returns the default viewer options.
func defaultOptions() viewerOptions {
	return viewerOptions{
		cfg:      config.Default(),
		logger:   nil, // Will be set to Logger() if nil
		registry: nil, // Will be set to engine.Default() if nil
	}
}

// WithConfig replaces the whole configuration. Options applied after it
// override individual fields.
//
// Example:
//
//	cfg, err := config.Load()
//	v, err := pageview.Open(ctx, data, pageview.WithConfig(cfg))
func WithConfig(cfg config.Config) Option {
	return func(o *viewerOptions) {
		o.cfg = cfg
	}
}

// WithLogger sets the logger for this viewer instead of the package default.
func WithLogger(l *slog.Logger) Option {
	return func(o *viewerOptions) {
		o.logger = l
	}
}

// WithEngine selects an engine kind. Empty picks the best available kind
// that accepts the document.
func WithEngine(kind string) Option {
	return func(o *viewerOptions) {
		o.cfg.Engine = kind
	}
}

// WithDelegate selects where pages are rasterized.
func WithDelegate(mode config.DelegateMode) Option {
	return func(o *viewerOptions) {
		o.cfg.Delegate = mode
	}
}

// WithWorkerPath sets the pageworker executable used by
// config.DelegateSubprocess.
func WithWorkerPath(path string) Option {
	return func(o *viewerOptions) {
		o.cfg.WorkerPath = path
	}
}

// WithRegistry sets the engine registry. The in-process worker uses the
// same registry; a subprocess worker always uses its own defaults.
func WithRegistry(r *engine.Registry) Option {
	return func(o *viewerOptions) {
		o.registry = r
	}
}

// WithSizeStore uses an already open size store. The viewer does not close
// it. Without this option the viewer opens config.SizeStore, if set.
func WithSizeStore(s *sizestore.Store) Option {
	return func(o *viewerOptions) {
		o.sizeStore = s
	}
}

// WithObserver registers fn to receive a copy of every page record that
// changes, for reactive presentation layers. fn must not block and must not
// call back into the Viewer.
func WithObserver(fn func(docstate.PageRecord)) Option {
	return func(o *viewerOptions) {
		o.observer = fn
	}
}

// WithView sets the initial view.
func WithView(v docstate.View) Option {
	return func(o *viewerOptions) {
		o.cfg.Resolution = v.Resolution
		o.cfg.DevicePixelRatio = v.DevicePixelRatio
		o.cfg.Zoom = v.Zoom
	}
}

// WithBudget sets the cache budget in bytes and the protected radius around
// the current page.
func WithBudget(bytes int64, protectedRadius int) Option {
	return func(o *viewerOptions) {
		o.cfg.BudgetBytes = bytes
		o.cfg.ProtectedRadius = protectedRadius
	}
}

// WithConcurrency sets the render slot count and the largest window the
// queue accepts.
func WithConcurrency(maxConcurrent, maxQueueSize int) Option {
	return func(o *viewerOptions) {
		o.cfg.MaxConcurrent = maxConcurrent
		o.cfg.MaxQueueSize = maxQueueSize
	}
}
