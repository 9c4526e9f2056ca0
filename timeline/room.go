// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"time"

	"github.com/loomchat/loom/lib/ref"
)

// Room is the reconciled state of one protocol-level conversation.
// Rooms are created lazily on the first sync reference and keyed by
// room ID for the lifetime of their account — identity is never
// discarded, even across disconnects, so rendered history survives a
// reconnect.
type Room struct {
	ID   ref.RoomID
	Name string

	// Members maps user ID to membership state ("join", "leave",
	// "invite", "ban").
	Members map[ref.UserID]string

	// Typing holds users with an active typing notice and the time
	// their notice expires.
	Typing map[ref.UserID]time.Time

	// ReadMarker is the fully-read position.
	ReadMarker ref.EventID

	// Timeline is the ordered message history.
	Timeline *Timeline

	// PrevBatch is the pagination token for the next older backfill
	// page. Empty until the first sync delivers one.
	PrevBatch string

	// pendingOverlays holds edits/redactions/reactions whose target
	// has not been inserted yet, keyed by target event ID. Applied
	// opportunistically when the target arrives.
	pendingOverlays map[ref.EventID][]Event

	// appliedOverlays records overlay event IDs already applied, so a
	// redelivered overlay is a no-op (reaction counts must not
	// double).
	appliedOverlays map[ref.EventID]bool

	// echoes are optimistic local entries for outgoing messages,
	// keyed by idempotency token, in submission order.
	echoes []*LocalEcho
}

// LocalEcho is an outgoing message rendered before the server
// acknowledges it. It either reconciles against the real event when
// sync delivers it (matched by transaction ID) or is marked failed by
// a request completion.
type LocalEcho struct {
	Token  string
	Sender ref.UserID
	Body   string
	Failed bool

	// FailureDetail explains a failed send for display against the
	// originating line.
	FailureDetail string
}

// NewRoom creates an empty room.
func NewRoom(id ref.RoomID) *Room {
	return &Room{
		ID:              id,
		Members:         make(map[ref.UserID]string),
		Typing:          make(map[ref.UserID]time.Time),
		Timeline:        NewTimeline(),
		pendingOverlays: make(map[ref.EventID][]Event),
		appliedOverlays: make(map[ref.EventID]bool),
	}
}

// Reset discards timeline content and overlay bookkeeping while
// keeping the room's identity, membership, and local echoes. Used
// when an expired sync token forces a full resync.
func (r *Room) Reset() {
	r.Timeline = NewTimeline()
	r.pendingOverlays = make(map[ref.EventID][]Event)
	r.appliedOverlays = make(map[ref.EventID]bool)
	r.PrevBatch = ""
}

// Echoes returns the local echoes in submission order. The slice is
// shared; callers must not modify it.
func (r *Room) Echoes() []*LocalEcho { return r.echoes }

// echoIndex returns the index of the echo with the given idempotency
// token, or -1.
func (r *Room) echoIndex(token string) int {
	for i, echo := range r.echoes {
		if echo.Token == token {
			return i
		}
	}
	return -1
}

// removeEcho deletes the echo with the given token, preserving order.
func (r *Room) removeEcho(token string) bool {
	i := r.echoIndex(token)
	if i < 0 {
		return false
	}
	r.echoes = append(r.echoes[:i], r.echoes[i+1:]...)
	return true
}

// TypingUsers returns the users whose typing notice has not expired
// at the given time, pruning expired ones.
func (r *Room) TypingUsers(now time.Time) []ref.UserID {
	var users []ref.UserID
	for user, expiry := range r.Typing {
		if expiry.After(now) {
			users = append(users, user)
		} else {
			delete(r.Typing, user)
		}
	}
	return users
}
