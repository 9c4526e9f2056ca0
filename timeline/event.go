// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"github.com/loomchat/loom/lib/ref"
)

// EventKind classifies a decoded timeline event.
type EventKind int

const (
	// KindMessage is a displayable room message.
	KindMessage EventKind = iota
	// KindEdit replaces the body of an earlier message.
	KindEdit
	// KindRedaction removes the content of an earlier event.
	KindRedaction
	// KindReaction annotates an earlier event with a key (usually an
	// emoji).
	KindReaction
	// KindMembership records a join/leave/invite/ban state change.
	KindMembership
	// KindState is any other room state change (name, topic, ...).
	KindState
)

func (k EventKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindEdit:
		return "edit"
	case KindRedaction:
		return "redaction"
	case KindReaction:
		return "reaction"
	case KindMembership:
		return "membership"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Event is one immutable decoded room event. The sync worker produces
// these from raw protocol payloads; the engine never mutates them.
//
// Token is the server-assigned ordering token (origin server
// timestamp). Timelines are strictly ordered by it. Target is set for
// edit/redaction/reaction kinds and is a weak reference: the target
// event may not have arrived yet, or may never arrive.
type Event struct {
	ID     ref.EventID
	Sender ref.UserID
	Token  int64
	Kind   EventKind

	// Body is the message text for KindMessage, the replacement text
	// for KindEdit, the annotation key for KindReaction, and a
	// human-readable description for KindState.
	Body string

	// Target is the event an edit/redaction/reaction applies to.
	Target ref.EventID

	// Membership fields, set for KindMembership.
	Member     ref.UserID
	Membership string

	// TransactionID is echoed by the server on events this session
	// sent itself. Local echo reconciliation keys on it.
	TransactionID string
}

// Entry is an event as it sits in a timeline: the immutable event
// plus its accumulated overlays.
type Entry struct {
	Event Event

	// Redacted marks the entry's content as removed.
	Redacted bool

	// EditedBody is the latest replacement body, empty if never
	// edited.
	EditedBody string

	// Reactions counts annotations by key.
	Reactions map[string]int
}

// DisplayBody returns the text a renderer should show: empty for
// redacted entries, the latest edit if present, otherwise the
// original body.
func (e *Entry) DisplayBody() string {
	if e.Redacted {
		return ""
	}
	if e.EditedBody != "" {
		return e.EditedBody
	}
	return e.Event.Body
}
