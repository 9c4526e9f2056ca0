// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package chatui is the host-thread terminal frontend.
//
// A single bubbletea model owns all rendered state. A recurring tick
// drains the bridge without blocking, feeds every envelope through
// the room state engine, and applies the resulting deltas to per-room
// buffers created on demand. The model performs no network I/O:
// outgoing requests are submitted to the account supervisors and
// their completions come back around through the bridge like
// everything else.
//
// Messages typed into the input line appear immediately as local
// echoes. A send that the server rejects marks the exact line that
// produced it, with the failure reason, rather than surfacing a
// disembodied error.
package chatui
