// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package timeline holds the in-memory model of synchronized room
// state and the engine that reconciles sync output into it.
//
// The data model is event-sourced: a [Room] owns a [Timeline] of
// immutable [Event] records ordered by a server-assigned token, plus
// ancillary state (membership, typing notices, the read marker). An
// event's position, once inserted, never changes; edits, redactions,
// and reactions are logical overlays annotated onto the target entry,
// never re-orderings.
//
// [Envelope] is the unit of work handed from the background sync
// domain to the host thread: one account/room batch of decoded
// events, a request completion, an account status change, or a room
// reset, tagged with a per-account sequence number.
//
// [Engine.Apply] consumes envelopes and produces [RenderDelta] values
// describing exactly what a renderer must update. Application is
// deterministic and idempotent: events are deduplicated by event ID
// and overlays by their own event ID, so replaying an overlapping
// sync window after a reconnect is a no-op. Overlays whose target has
// not arrived yet (out-of-order backfill) wait in a pending table and
// are applied opportunistically when the target is inserted.
//
// Everything in this package is confined to the host thread. Nothing
// here performs I/O and nothing is safe for concurrent use.
package timeline
