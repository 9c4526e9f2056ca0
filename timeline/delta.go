// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"github.com/loomchat/loom/lib/ref"
)

// DeltaKind identifies what changed in a room.
type DeltaKind int

const (
	// DeltaRoomCreated announces a room seen for the first time. The
	// renderer must create a buffer on demand.
	DeltaRoomCreated DeltaKind = iota
	// DeltaMessageAppended is a new entry at Position (the tail).
	DeltaMessageAppended
	// DeltaMessagesPrepended reports Count backfilled entries
	// inserted at the head. Positions of existing entries shifted;
	// renderers re-read the timeline.
	DeltaMessagesPrepended
	// DeltaMessageUpdated re-renders the entry at Position after an
	// overlay (edit, redaction, reaction) mutated it.
	DeltaMessageUpdated
	// DeltaMembershipChanged updates one member's state.
	DeltaMembershipChanged
	// DeltaTypingChanged replaces the room's typing-user display.
	DeltaTypingChanged
	// DeltaReadMarkerMoved moves the fully-read indicator.
	DeltaReadMarkerMoved
	// DeltaRoomReset discards the room's rendered history; the
	// timeline will be repopulated by the following sync batches.
	DeltaRoomReset
	// DeltaEchoUpdated adds, reconciles, or fails a local echo. The
	// renderer re-reads Room.Echoes.
	DeltaEchoUpdated
	// DeltaRequestCompleted surfaces an outgoing request completion
	// that is not tied to a local echo (joins, read markers, ...).
	DeltaRequestCompleted
	// DeltaAccountStatus updates the account's connection state line.
	DeltaAccountStatus
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaRoomCreated:
		return "room-created"
	case DeltaMessageAppended:
		return "message-appended"
	case DeltaMessagesPrepended:
		return "messages-prepended"
	case DeltaMessageUpdated:
		return "message-updated"
	case DeltaMembershipChanged:
		return "membership-changed"
	case DeltaTypingChanged:
		return "typing-changed"
	case DeltaReadMarkerMoved:
		return "read-marker-moved"
	case DeltaRoomReset:
		return "room-reset"
	case DeltaEchoUpdated:
		return "echo-updated"
	case DeltaRequestCompleted:
		return "request-completed"
	case DeltaAccountStatus:
		return "account-status"
	default:
		return "unknown"
	}
}

// RenderDelta describes one incremental change to a rendered view.
// The renderer applies deltas in delivered order and must tolerate
// deltas for rooms it has not created a buffer for yet.
type RenderDelta struct {
	Account string
	Room    ref.RoomID
	Kind    DeltaKind

	// Position indexes the timeline entry for appended/updated
	// deltas.
	Position int

	// Entry is a shared pointer to the affected timeline entry for
	// appended/updated deltas.
	Entry *Entry

	// Count is the number of entries inserted for prepended deltas.
	Count int

	// Member/Membership describe a membership change.
	Member     ref.UserID
	Membership string

	// Typing is the current typing-user set for typing deltas.
	Typing []ref.UserID

	// ReadMarker is the new fully-read position.
	ReadMarker ref.EventID

	// Request is set for request-completed and echo-updated deltas
	// caused by a completion.
	Request *RequestResult

	// Status is set for account-status deltas.
	Status *AccountStatus
}
