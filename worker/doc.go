// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package worker implements delegated page rendering over a message channel.
//
// A controller [Session] talks to an isolated rendering context that owns the
// document. The rendering side is driven by [Serve]. The two ends exchange
// the closed sets of [Request] and [Response] messages over a transport:
//
//   - [Pipe] connects both ends inside one process. Payloads move by pointer
//     and the sender gives up ownership.
//   - [NewStreamController] and [NewStreamWorker] frame messages over byte
//     streams, which is how [Spawn] talks to a pageworker subprocess.
//
// Every render request carries a fresh task id and registers a pending entry
// before it is sent, so responses can arrive in any order. Cancellation is
// cooperative: a cancel message asks the worker to drop the result, and the
// session also discards (and releases) any bitmap that arrives for a task
// whose caller has gone away.
//
// A session sends heartbeats once ready. Missing pongs only flag the session
// as unresponsive; a worker error without a task id is fatal and fails every
// pending call.
package worker
