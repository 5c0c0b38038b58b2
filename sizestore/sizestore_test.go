// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sizestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gogpu/pageview/docstate"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("document one"))
	b := Fingerprint([]byte("document two"))
	if len(a) != 64 {
		t.Errorf("len(Fingerprint) = %d, want 64 hex chars", len(a))
	}
	if a == b {
		t.Error("different documents share a fingerprint")
	}
	if a != Fingerprint([]byte("document one")) {
		t.Error("Fingerprint is not deterministic")
	}
}

func TestSaveLoad(t *testing.T) {
	s, err := Open(Memory)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	in := []docstate.Size{
		{PageNumber: 2, WidthPoints: 612, HeightPoints: 792},
		{PageNumber: 1, WidthPoints: 595, HeightPoints: 842},
	}
	if err := s.Save(ctx, "doc", in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// Upsert replaces the old size.
	if err := s.Save(ctx, "doc", []docstate.Size{{PageNumber: 2, WidthPoints: 100, HeightPoints: 200}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load(ctx, "doc")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []docstate.Size{
		{PageNumber: 1, WidthPoints: 595, HeightPoints: 842},
		{PageNumber: 2, WidthPoints: 100, HeightPoints: 200},
	}
	if len(got) != len(want) {
		t.Fatalf("Load() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Load()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	other, err := s.Load(ctx, "other")
	if err != nil || len(other) != 0 {
		t.Errorf("Load(other) = %v, %v; want empty", other, err)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sizes.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Save(ctx, "fp", []docstate.Size{{PageNumber: 1, WidthPoints: 10, HeightPoints: 20}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	got, err := s.Load(ctx, "fp")
	if err != nil || len(got) != 1 || got[0].HeightPoints != 20 {
		t.Errorf("Load() after reopen = %v, %v", got, err)
	}

	if err := s.Forget(ctx, "fp"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Load(ctx, "fp"); len(got) != 0 {
		t.Errorf("Load() after Forget = %v", got)
	}
}

func TestClosed(t *testing.T) {
	s, err := Open(Memory)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()
	if _, err := s.Load(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Load() after Close error = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
