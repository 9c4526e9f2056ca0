// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package connection is the background execution domain: everything
// that touches the network lives here, behind the bridge, so the host
// thread never blocks on a homeserver.
//
// One [Supervisor] per account owns the connection lifecycle
// (disconnected, connecting, syncing, errored). Connect logs in if
// needed and starts two goroutines: a [Worker] running the /sync
// long-poll loop, and a request executor draining submitted
// [Action]s. Both emit envelopes over the bridge; neither ever calls
// back into host-thread state.
//
// The worker distinguishes three error classes. Fatal auth errors
// (invalid or revoked token) stop the account. An expired sync
// position triggers a room-reset envelope followed by a full resync —
// the engine discards timelines but keeps room identity. Everything
// else is transient and retried with capped exponential backoff.
//
// [Manager] is the process-wide account table.
package connection
