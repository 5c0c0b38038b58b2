// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// RegistryEntry represents a registered engine kind.
type RegistryEntry struct {
	// Kind is the unique identifier for this engine, e.g. "pdfium".
	Kind string

	// Priority determines selection order when no kind is requested
	// (higher = preferred).
	Priority int

	// Factory opens documents.
	Factory Factory

	// Available reports if the engine can run on this system.
	Available func() bool
}

// globalRegistry is the default registry.
var globalRegistry = &Registry{}

// Registry manages registered engine kinds.
//
// Example registration:
//
//	func init() {
//	    engine.Register("pdfium", 100, open, nil)
//	}
//
// Example usage:
//
//	doc, kind, err := engine.Open(ctx, "", data, engine.Options{})
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*RegistryEntry
}

// NewRegistry creates a new empty registry.
// Most code should use the global registry via Register and Open.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*RegistryEntry),
	}
}

// Default returns the global registry.
func Default() *Registry {
	return globalRegistry
}

// Register adds an engine kind to the global registry.
//
// If available is nil, the engine is assumed always available.
// Registering a kind that already exists replaces the previous entry.
func Register(kind string, priority int, factory Factory, available func() bool) {
	globalRegistry.Register(kind, priority, factory, available)
}

// Open opens data with the global registry. See Registry.Open.
func Open(ctx context.Context, kind string, data []byte, opts Options) (Document, string, error) {
	return globalRegistry.Open(ctx, kind, data, opts)
}

// Register adds an engine kind to this registry.
func (r *Registry) Register(kind string, priority int, factory Factory, available func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries == nil {
		r.entries = make(map[string]*RegistryEntry)
	}

	if available == nil {
		available = func() bool { return true }
	}

	r.entries[kind] = &RegistryEntry{
		Kind:      kind,
		Priority:  priority,
		Factory:   factory,
		Available: available,
	}
}

// Unregister removes an engine kind from this registry.
func (r *Registry) Unregister(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, kind)
}

// List returns all registered kinds sorted by priority.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedKinds(false)
}

// Available returns all available kinds sorted by priority.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedKinds(true)
}

// Get returns information about a specific kind.
func (r *Registry) Get(kind string) (*RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[kind]
	if !ok {
		return nil, false
	}

	// Return a copy to prevent modification
	entryCopy := *entry
	return &entryCopy, true
}

// Open opens data with the requested kind, or, when kind is empty, with the
// first available kind in priority order that accepts it. It returns the
// kind that served the request. When every kind rejects the data the error
// joins each kind's reason.
func (r *Registry) Open(ctx context.Context, kind string, data []byte, opts Options) (Document, string, error) {
	if kind != "" {
		doc, err := r.openKind(ctx, kind, data, opts)
		return doc, kind, err
	}

	r.mu.RLock()
	kinds := r.sortedKinds(true)
	r.mu.RUnlock()
	if len(kinds) == 0 {
		return nil, "", ErrNoEngineAvailable
	}

	errs := make([]error, 0, len(kinds))
	for _, k := range kinds {
		doc, err := r.openKind(ctx, k, data, opts)
		if err == nil {
			return doc, k, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", k, err))
	}
	return nil, "", errors.Join(errs...)
}

// openKind opens data with a specific engine kind.
func (r *Registry) openKind(ctx context.Context, kind string, data []byte, opts Options) (Document, error) {
	r.mu.RLock()
	entry, ok := r.entries[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, &KindNotFoundError{Kind: kind}
	}

	if !entry.Available() {
		return nil, &KindUnavailableError{Kind: kind}
	}

	return entry.Factory(ctx, data, opts)
}

// sortedKinds returns kinds by priority (highest first), then name.
// If onlyAvailable is true, unavailable kinds are left out.
// Must be called with lock held.
func (r *Registry) sortedKinds(onlyAvailable bool) []string {
	entries := make([]*RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if onlyAvailable && !e.Available() {
			continue
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *RegistryEntry) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return strings.Compare(a.Kind, b.Kind)
	})

	kinds := make([]string, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	return kinds
}
