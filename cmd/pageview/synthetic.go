//go:build synthetic

package main

// Builds tagged synthetic also accept enginetest documents, for demos and
// end-to-end checks without a PDF engine.
import _ "github.com/gogpu/pageview/engine/enginetest"
