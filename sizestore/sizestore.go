// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package sizestore persists intrinsic page sizes across sessions.
//
// Sizes are keyed by a content fingerprint of the document, so reopening the
// same bytes can lay out every page before any of them has been sized by the
// engine. The store is a single SQLite file.
package sizestore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"github.com/gogpu/pageview/docstate"
)

// Memory is the path of a private in-memory store.
const Memory = ":memory:"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("sizestore: closed")

const schema = `
CREATE TABLE IF NOT EXISTS page_sizes (
	fingerprint   TEXT    NOT NULL,
	page_number   INTEGER NOT NULL,
	width_points  REAL    NOT NULL,
	height_points REAL    NOT NULL,
	PRIMARY KEY (fingerprint, page_number)
)`

// Fingerprint returns the store key for a document's bytes.
func Fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store is a page-size store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the store at path. Use Memory for a throwaway store.
func Open(path string) (*Store, error) {
	dsn := path
	if path != Memory {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sizestore: open %s: %w", path, err)
	}
	// One connection: an in-memory database is per connection, and writes
	// are serialized by SQLite anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sizestore: create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Load returns the sizes stored for fingerprint, ordered by page number.
func (s *Store) Load(ctx context.Context, fingerprint string) ([]docstate.Size, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_number, width_points, height_points
		FROM page_sizes
		WHERE fingerprint = ?
		ORDER BY page_number`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("sizestore: load: %w", err)
	}
	defer rows.Close()

	var sizes []docstate.Size
	for rows.Next() {
		var sz docstate.Size
		if err := rows.Scan(&sz.PageNumber, &sz.WidthPoints, &sz.HeightPoints); err != nil {
			return nil, fmt.Errorf("sizestore: scan: %w", err)
		}
		sizes = append(sizes, sz)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sizestore: load: %w", err)
	}
	return sizes, nil
}

// Save upserts sizes for fingerprint in one transaction.
func (s *Store) Save(ctx context.Context, fingerprint string, sizes []docstate.Size) error {
	if s.db == nil {
		return ErrClosed
	}
	if len(sizes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sizestore: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO page_sizes (fingerprint, page_number, width_points, height_points)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (fingerprint, page_number)
		DO UPDATE SET width_points = excluded.width_points, height_points = excluded.height_points`)
	if err != nil {
		return fmt.Errorf("sizestore: prepare: %w", err)
	}
	defer stmt.Close()

	for _, sz := range sizes {
		if _, err := stmt.ExecContext(ctx, fingerprint, sz.PageNumber, sz.WidthPoints, sz.HeightPoints); err != nil {
			return fmt.Errorf("sizestore: save page %d: %w", sz.PageNumber, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sizestore: commit: %w", err)
	}
	return nil
}

// Forget deletes every size stored for fingerprint.
func (s *Store) Forget(ctx context.Context, fingerprint string) error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM page_sizes WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("sizestore: forget: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
