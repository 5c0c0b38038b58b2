// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package engine

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// OutlineNode is a nested outline item as engines usually expose it.
// PageIndex is 0-based, or negative when the item has no page destination.
type OutlineNode struct {
	Title     string
	PageIndex int
	Children  []OutlineNode
}

// Flatten walks nodes depth-first and returns one entry per node with its
// nesting level (0 for top-level items). Titles are NFC-normalized and
// whitespace runs are collapsed to single spaces.
func Flatten(nodes []OutlineNode) []OutlineEntry {
	var out []OutlineEntry
	var walk func(nodes []OutlineNode, level int)
	walk = func(nodes []OutlineNode, level int) {
		for _, n := range nodes {
			page := 0
			if n.PageIndex >= 0 {
				page = n.PageIndex + 1
			}
			out = append(out, OutlineEntry{
				Title:      cleanTitle(n.Title),
				PageNumber: page,
				Level:      level,
			})
			walk(n.Children, level+1)
		}
	}
	walk(nodes, 0)
	return out
}

func cleanTitle(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
