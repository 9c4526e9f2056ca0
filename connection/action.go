// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"fmt"

	"github.com/loomchat/loom/lib/ref"
)

// ActionKind identifies an outgoing request type.
type ActionKind int

const (
	ActionSendMessage ActionKind = iota
	ActionEditMessage
	ActionRedact
	ActionJoinRoom
	ActionLeaveRoom
	ActionSetReadMarker
	ActionSendTyping
	ActionBackfill
)

func (k ActionKind) String() string {
	switch k {
	case ActionSendMessage:
		return "send-message"
	case ActionEditMessage:
		return "edit-message"
	case ActionRedact:
		return "redact"
	case ActionJoinRoom:
		return "join-room"
	case ActionLeaveRoom:
		return "leave-room"
	case ActionSetReadMarker:
		return "set-read-marker"
	case ActionSendTyping:
		return "send-typing"
	case ActionBackfill:
		return "backfill"
	default:
		return "unknown"
	}
}

// Action is one outgoing request submitted from the host thread. The
// Token is the caller's idempotency token: it doubles as the protocol
// transaction ID, so a retried send is deduplicated server-side, and
// the completion envelope echoes it so the caller can match result to
// request.
type Action struct {
	Token string
	Kind  ActionKind

	// Room scopes every kind except join-by-alias.
	Room ref.RoomID

	// Target is the event being edited or redacted, or the read
	// marker position.
	Target ref.EventID

	// Body is the message text for sends and edits, and the optional
	// reason for redactions.
	Body string

	// RoomRef is the room ID or alias for join requests.
	RoomRef string

	// Typing is the typing-notice state for send-typing.
	Typing bool

	// From and Limit control backfill pagination. From is the
	// prev-batch token to page backwards from.
	From  string
	Limit int
}

// Validate checks an action before it enters the background domain.
// Failures here surface as validation completions without any network
// traffic.
func (a Action) Validate() error {
	if a.Token == "" {
		return fmt.Errorf("connection: action %s requires an idempotency token", a.Kind)
	}
	switch a.Kind {
	case ActionSendMessage:
		if a.Room.IsZero() {
			return fmt.Errorf("connection: send-message requires a room")
		}
		if a.Body == "" {
			return fmt.Errorf("connection: send-message requires a body")
		}
	case ActionEditMessage:
		if a.Room.IsZero() || a.Target.IsZero() {
			return fmt.Errorf("connection: edit-message requires a room and target event")
		}
		if a.Body == "" {
			return fmt.Errorf("connection: edit-message requires a body")
		}
	case ActionRedact:
		if a.Room.IsZero() || a.Target.IsZero() {
			return fmt.Errorf("connection: redact requires a room and target event")
		}
	case ActionJoinRoom:
		if a.RoomRef == "" {
			return fmt.Errorf("connection: join-room requires a room ID or alias")
		}
	case ActionLeaveRoom:
		if a.Room.IsZero() {
			return fmt.Errorf("connection: leave-room requires a room")
		}
	case ActionSetReadMarker:
		if a.Room.IsZero() || a.Target.IsZero() {
			return fmt.Errorf("connection: set-read-marker requires a room and event")
		}
	case ActionSendTyping:
		if a.Room.IsZero() {
			return fmt.Errorf("connection: send-typing requires a room")
		}
	case ActionBackfill:
		if a.Room.IsZero() {
			return fmt.Errorf("connection: backfill requires a room")
		}
		if a.From == "" {
			return fmt.Errorf("connection: backfill requires a pagination token")
		}
	default:
		return fmt.Errorf("connection: unknown action kind %d", int(a.Kind))
	}
	return nil
}

// PendingRequest is the host-side handle for a submitted action. The
// completion envelope carries the same token.
type PendingRequest struct {
	Token string
	Kind  ActionKind
}
