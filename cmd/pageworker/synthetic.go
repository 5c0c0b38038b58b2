//go:build synthetic

package main

// Builds tagged synthetic also serve enginetest documents. Pair with a
// pageview binary built with the same tag.
import _ "github.com/gogpu/pageview/engine/enginetest"
