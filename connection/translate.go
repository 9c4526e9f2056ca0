// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"sort"

	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/messaging"
	"github.com/loomchat/loom/timeline"
)

// Translation from protocol wire events to the timeline model. This
// is the only place the engine's event kinds are derived from raw
// content maps; everything past the bridge works on validated typed
// events.

// roomUpdate is the decoded per-room content of one sync response.
type roomUpdate struct {
	events     []timeline.Event
	name       string
	prevBatch  string
	typingSet  bool
	typing     []ref.UserID
	readMarker ref.EventID
}

// decodeJoinedRoom flattens one joined room's sync sections into a
// roomUpdate. State events precede timeline events so membership and
// name snapshots land before the messages that reference them.
func decodeJoinedRoom(room messaging.JoinedRoom) roomUpdate {
	var update roomUpdate
	update.prevBatch = room.Timeline.PrevBatch

	for _, raw := range room.State.Events {
		decodeRoomEvent(raw, &update)
	}
	for _, raw := range room.Timeline.Events {
		decodeRoomEvent(raw, &update)
	}

	for _, raw := range room.Ephemeral.Events {
		if raw.Type.String() == "m.typing" {
			update.typingSet = true
			update.typing = decodeTypingUsers(raw.Content)
		}
	}
	for _, raw := range room.AccountData.Events {
		if raw.Type.String() == "m.fully_read" {
			if id, ok := raw.Content["event_id"].(string); ok {
				if parsed, err := ref.ParseEventID(id); err == nil {
					update.readMarker = parsed
				}
			}
		}
	}

	return update
}

// decodeRoomEvent translates one wire event, appending to the update.
// Unrecognized event types are dropped: a chat client renders
// messages, edits, redactions, reactions, and membership, and the
// sync filter already excludes most of the rest.
func decodeRoomEvent(raw messaging.Event, update *roomUpdate) {
	switch raw.Type.String() {
	case "m.room.message":
		update.events = append(update.events, decodeMessage(raw))
	case "m.reaction":
		if event, ok := decodeReaction(raw); ok {
			update.events = append(update.events, event)
		}
	case "m.room.redaction":
		if !raw.Redacts.IsZero() {
			update.events = append(update.events, timeline.Event{
				ID:     raw.EventID,
				Sender: raw.Sender,
				Token:  raw.OriginServerTS,
				Kind:   timeline.KindRedaction,
				Target: raw.Redacts,
			})
		}
	case "m.room.member":
		if event, ok := decodeMembership(raw); ok {
			update.events = append(update.events, event)
		}
	case "m.room.name":
		if name, ok := raw.Content["name"].(string); ok {
			update.name = name
		}
	}
}

func decodeMessage(raw messaging.Event) timeline.Event {
	event := timeline.Event{
		ID:     raw.EventID,
		Sender: raw.Sender,
		Token:  raw.OriginServerTS,
		Kind:   timeline.KindMessage,
	}
	if body, ok := raw.Content["body"].(string); ok {
		event.Body = body
	}
	if raw.Unsigned != nil {
		event.TransactionID = raw.Unsigned.TransactionID
	}

	// A replacement relation turns the message into an edit of its
	// target, with the real body in m.new_content (the top-level
	// body carries a "* " fallback for clients without edit support).
	if relates, ok := raw.Content["m.relates_to"].(map[string]any); ok {
		if relType, _ := relates["rel_type"].(string); relType == "m.replace" {
			if target, ok := decodeRelationTarget(relates); ok {
				event.Kind = timeline.KindEdit
				event.Target = target
				if replacement, ok := raw.Content["m.new_content"].(map[string]any); ok {
					if body, ok := replacement["body"].(string); ok {
						event.Body = body
					}
				}
			}
		}
	}
	return event
}

func decodeReaction(raw messaging.Event) (timeline.Event, bool) {
	relates, ok := raw.Content["m.relates_to"].(map[string]any)
	if !ok {
		return timeline.Event{}, false
	}
	if relType, _ := relates["rel_type"].(string); relType != "m.annotation" {
		return timeline.Event{}, false
	}
	target, ok := decodeRelationTarget(relates)
	if !ok {
		return timeline.Event{}, false
	}
	key, _ := relates["key"].(string)
	if key == "" {
		return timeline.Event{}, false
	}
	return timeline.Event{
		ID:     raw.EventID,
		Sender: raw.Sender,
		Token:  raw.OriginServerTS,
		Kind:   timeline.KindReaction,
		Body:   key,
		Target: target,
	}, true
}

func decodeMembership(raw messaging.Event) (timeline.Event, bool) {
	if raw.StateKey == nil {
		return timeline.Event{}, false
	}
	member, err := ref.ParseUserID(*raw.StateKey)
	if err != nil {
		return timeline.Event{}, false
	}
	membership, _ := raw.Content["membership"].(string)
	if membership == "" {
		return timeline.Event{}, false
	}
	return timeline.Event{
		ID:         raw.EventID,
		Sender:     raw.Sender,
		Token:      raw.OriginServerTS,
		Kind:       timeline.KindMembership,
		Member:     member,
		Membership: membership,
	}, true
}

func decodeRelationTarget(relates map[string]any) (ref.EventID, bool) {
	id, ok := relates["event_id"].(string)
	if !ok {
		return ref.EventID{}, false
	}
	parsed, err := ref.ParseEventID(id)
	if err != nil {
		return ref.EventID{}, false
	}
	return parsed, true
}

func decodeTypingUsers(content map[string]any) []ref.UserID {
	raw, ok := content["user_ids"].([]any)
	if !ok {
		return nil
	}
	users := make([]ref.UserID, 0, len(raw))
	for _, entry := range raw {
		id, ok := entry.(string)
		if !ok {
			continue
		}
		if parsed, err := ref.ParseUserID(id); err == nil {
			users = append(users, parsed)
		}
	}
	return users
}

// decodeBackfillPage translates a /messages response (dir=b returns
// newest-first) into ascending-token order for head insertion.
func decodeBackfillPage(response *messaging.RoomMessagesResponse) []timeline.Event {
	var update roomUpdate
	for _, raw := range response.Chunk {
		decodeRoomEvent(raw, &update)
	}
	events := update.events
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Token < events[j].Token
	})
	return events
}
