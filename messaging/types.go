// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/loomchat/loom/lib/ref"
)

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	DeviceID                 string `json:"device_id,omitempty"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// ServerVersionsResponse is returned by Client.ServerVersions.
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// Event represents a Matrix event from the server. Content stays a
// raw map — the timeline layer interprets it per event type.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Redacts        ref.EventID    `json:"redacts,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned holds optional unsigned data attached to events.
// TransactionID is set on events the session itself sent — the local
// echo reconciliation keys on it.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// MessageContent is the content body of an m.room.message event.
// Edits set RelatesTo (rel_type "m.replace") plus NewContent with the
// replacement body.
type MessageContent struct {
	MsgType    string          `json:"msgtype"`
	Body       string          `json:"body"`
	RelatesTo  *RelatesTo      `json:"m.relates_to,omitempty"`
	NewContent *MessageContent `json:"m.new_content,omitempty"`

	// Format/FormattedBody carry the HTML rendering of Body when it
	// contains markup. Format is always "org.matrix.custom.html".
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// RelatesTo expresses relationships between events: "m.replace" for
// edits, "m.annotation" for reactions, "m.thread" for threads.
type RelatesTo struct {
	RelType string      `json:"rel_type"`
	EventID ref.EventID `json:"event_id"`
	Key     string      `json:"key,omitempty"`
}

// NewTextMessage creates a plain text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: "m.text", Body: body}
}

// NewEdit creates a replacement for a previously sent message. The
// top-level body carries the conventional "* " fallback prefix for
// clients that do not understand replacements.
func NewEdit(target ref.EventID, body string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    "* " + body,
		RelatesTo: &RelatesTo{
			RelType: "m.replace",
			EventID: target,
		},
		NewContent: &MessageContent{MsgType: "m.text", Body: body},
	}
}

// RedactRequest is the body for event redaction.
type RedactRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SendEventResponse is returned by SendEvent and RedactEvent.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout bool   // send the timeout parameter (distinguishes "not set" from "0")
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection contains per-room sync data grouped by membership
// state. Map keys are room IDs; decoding validates them via
// ref.RoomID's TextUnmarshaler.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline    TimelineSection `json:"timeline"`
	State       StateSection    `json:"state"`
	Ephemeral   StateSection    `json:"ephemeral"`
	AccountData StateSection    `json:"account_data"`
}

// InvitedRoom contains sync data for a room the user was invited to.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the user has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
// Limited indicates a gap: more events exist between the previous
// sync and the first event here, reachable via PrevBatch.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection is a bare list of events (state, ephemeral, or room
// account data, depending on position in the response).
type StateSection struct {
	Events []Event `json:"events"`
}

// RoomMessagesOptions controls pagination for history backfill.
type RoomMessagesOptions struct {
	From      string // pagination token; empty means "from now"
	Direction string // "b" (backward/older) or "f" (forward/newer)
	Limit     int    // max events to return; 0 uses server default
}

// RoomMessagesResponse is returned by RoomMessages. End is the token
// for the next older page; an empty End means history is exhausted.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []Event `json:"chunk"`
}

// ReadMarkerRequest is the body for /read_markers: the fully-read
// marker plus an optional public read receipt at the same event.
type ReadMarkerRequest struct {
	FullyRead ref.EventID `json:"m.fully_read"`
	Read      ref.EventID `json:"m.read,omitempty"`
}

// TypingRequest is the body for the typing notice endpoint. Timeout
// is how long the server keeps the notice alive, in milliseconds.
type TypingRequest struct {
	Typing  bool  `json:"typing"`
	Timeout int64 `json:"timeout,omitempty"`
}

// JoinRoomResponse is returned by JoinRoom.
type JoinRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers"`
}
