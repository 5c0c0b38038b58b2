// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"errors"
	"testing"
)

type stubDoc struct {
	kind string
}

func (d *stubDoc) PageCount() int { return 1 }
func (d *stubDoc) PageSize(context.Context, int) (Size, error) { return Size{}, nil }
func (d *stubDoc) LoadPage(context.Context, int) (Page, error) { return nil, ErrPageRange }
func (d *stubDoc) Outline(context.Context) ([]OutlineEntry, error) { return nil, nil }
func (d *stubDoc) Destroy() error { return nil }

func stubFactory(kind string) Factory {
	return func(context.Context, []byte, Options) (Document, error) {
		return &stubDoc{kind: kind}, nil
	}
}

// TestRegistryRegister tests kind registration.
func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	r.Register("test", 50, stubFactory("test"), nil)

	entry, ok := r.Get("test")
	if !ok {
		t.Fatal("registered kind not found")
	}
	if entry.Kind != "test" {
		t.Errorf("Kind = %s, want test", entry.Kind)
	}
	if entry.Priority != 50 {
		t.Errorf("Priority = %d, want 50", entry.Priority)
	}
	if !entry.Available() {
		t.Error("kind should be available (nil Available func)")
	}
}

// TestRegistryUnregister tests kind removal.
func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("temp", 10, stubFactory("temp"), nil)
	r.Unregister("temp")

	if _, ok := r.Get("temp"); ok {
		t.Error("kind should not exist after unregister")
	}
}

// TestRegistryList tests ordering by priority, then name.
func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("low", 10, stubFactory("low"), nil)
	r.Register("high", 100, stubFactory("high"), nil)
	r.Register("b-mid", 50, stubFactory("b-mid"), nil)
	r.Register("a-mid", 50, stubFactory("a-mid"), nil)

	got := r.List()
	want := []string{"high", "a-mid", "b-mid", "low"}
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

// TestRegistryAvailable tests filtering by the availability probe.
func TestRegistryAvailable(t *testing.T) {
	r := NewRegistry()
	r.Register("yes", 10, stubFactory("yes"), func() bool { return true })
	r.Register("no", 100, stubFactory("no"), func() bool { return false })

	got := r.Available()
	if len(got) != 1 || got[0] != "yes" {
		t.Errorf("Available() = %v, want [yes]", got)
	}
}

// TestRegistryOpenBest tests selection of the best available kind.
func TestRegistryOpenBest(t *testing.T) {
	r := NewRegistry()
	r.Register("low", 10, stubFactory("low"), nil)
	r.Register("high", 100, stubFactory("high"), nil)

	doc, kind, err := r.Open(context.Background(), "", nil, Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if kind != "high" || doc.(*stubDoc).kind != "high" {
		t.Errorf("Open() served by %s, want high", kind)
	}
}

// TestRegistryOpenFallback tests that a failing kind falls through to the
// next one in priority order.
func TestRegistryOpenFallback(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", 100, func(context.Context, []byte, Options) (Document, error) {
		return nil, errors.New("cannot parse")
	}, nil)
	r.Register("working", 10, stubFactory("working"), nil)

	_, kind, err := r.Open(context.Background(), "", nil, Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if kind != "working" {
		t.Errorf("Open() served by %s, want working", kind)
	}
}

// TestRegistryOpenErrors tests the typed errors.
func TestRegistryOpenErrors(t *testing.T) {
	r := NewRegistry()

	if _, _, err := r.Open(context.Background(), "", nil, Options{}); !errors.Is(err, ErrNoEngineAvailable) {
		t.Errorf("empty registry: err = %v, want ErrNoEngineAvailable", err)
	}

	_, _, err := r.Open(context.Background(), "missing", nil, Options{})
	var nf *KindNotFoundError
	if !errors.As(err, &nf) || nf.Kind != "missing" {
		t.Errorf("missing kind: err = %v, want KindNotFoundError", err)
	}

	r.Register("off", 10, stubFactory("off"), func() bool { return false })
	_, _, err = r.Open(context.Background(), "off", nil, Options{})
	var ua *KindUnavailableError
	if !errors.As(err, &ua) || ua.Kind != "off" {
		t.Errorf("unavailable kind: err = %v, want KindUnavailableError", err)
	}
}

// TestRegistryGetReturnsCopy tests that entries cannot be modified through Get.
func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Register("test", 50, stubFactory("test"), nil)

	entry, _ := r.Get("test")
	entry.Priority = 1

	again, _ := r.Get("test")
	if again.Priority != 50 {
		t.Errorf("Priority = %d after modifying copy, want 50", again.Priority)
	}
}

// TestRegistryOpenAllFail tests that every rejection is reported.
func TestRegistryOpenAllFail(t *testing.T) {
	r := NewRegistry()
	errA := errors.New("not mine")
	errB := errors.New("corrupt")
	r.Register("a", 20, func(context.Context, []byte, Options) (Document, error) { return nil, errA }, nil)
	r.Register("b", 10, func(context.Context, []byte, Options) (Document, error) { return nil, errB }, nil)

	_, kind, err := r.Open(context.Background(), "", nil, Options{})
	if kind != "" {
		t.Errorf("Open() kind = %q, want empty", kind)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Open() error = %v, want both rejections", err)
	}
}
