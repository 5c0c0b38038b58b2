// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package engine

import (
	"errors"
	"fmt"
)

// Errors.
var (
	// ErrNoEngineAvailable is returned when no registered kind is available.
	ErrNoEngineAvailable = errors.New("engine: no engine available")

	// ErrPageRange is returned for a page index outside the document.
	ErrPageRange = errors.New("engine: page index out of range")
)

// KindNotFoundError is returned when a requested kind is not registered.
type KindNotFoundError struct {
	Kind string
}

func (e *KindNotFoundError) Error() string {
	return fmt.Sprintf("engine: kind %q not registered", e.Kind)
}

// KindUnavailableError is returned when a kind is registered but its
// availability probe fails on this system.
type KindUnavailableError struct {
	Kind string
}

func (e *KindUnavailableError) Error() string {
	return fmt.Sprintf("engine: kind %q not available", e.Kind)
}

// ResolutionError is returned for a non-positive render size.
type ResolutionError struct {
	Resolution Resolution
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("engine: invalid resolution %dx%d", e.Resolution.Width, e.Resolution.Height)
}
