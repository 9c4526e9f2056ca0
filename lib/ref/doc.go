// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated value types for Matrix protocol
// identifiers: [UserID], [RoomID], [EventID], [RoomAlias], and
// [EventType].
//
// Loom never constructs these identifiers from scratch — they arrive
// from the homeserver (sync responses, room creation, alias
// resolution) or from configuration, and are parsed into these types
// at the boundary. All types implement encoding.TextMarshaler and
// encoding.TextUnmarshaler, so JSON and CBOR decoding validates
// automatically, including when the identifier is a map key.
//
// The zero value of every type is invalid; use IsZero to check.
package ref
