// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge carries envelopes from the background sync domain to
// the host thread.
//
// Loom runs one sync worker per account, each producing envelopes
// (sync batches, backfill pages, request completions, status changes)
// concurrently. The terminal renderer consumes them on a single host
// thread, draining once per tick. The bridge is the bounded FIFO
// between the two: workers block on [Bridge.Send] when the host falls
// behind — backpressure suspends sync polling instead of growing an
// unbounded queue — and the host calls [Bridge.TryDrain], which never
// blocks, so a stalled network cannot stall rendering.
//
// Envelopes from one worker stay in emission order. Close wakes every
// blocked sender with [ErrClosed]; envelopes already buffered remain
// drainable so the host can finish rendering what arrived before
// shutdown.
package bridge
