// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/loomchat/loom/lib/clock"
	"github.com/loomchat/loom/lib/ref"
)

// typingExpiry bounds how long a typing notice stays visible without
// a refresh from the server. Matches the protocol's server-side
// typing timeout ballpark.
const typingExpiry = 30 * time.Second

// EngineConfig holds configuration for creating an Engine.
type EngineConfig struct {
	// Clock is used for typing-notice expiry. If nil, clock.Real()
	// is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
	// Strict makes invariant violations panic instead of logging and
	// skipping. Enable in tests and development builds.
	Strict bool
}

// Engine applies envelopes to per-account room state and emits render
// deltas. It owns all Room and Timeline values; nothing else mutates
// them. The engine is confined to the host thread and is not safe for
// concurrent use.
type Engine struct {
	clock  clock.Clock
	logger *slog.Logger
	strict bool

	accounts map[string]*accountState
}

type accountState struct {
	rooms   map[ref.RoomID]*Room
	lastSeq uint64
	status  AccountStatus
}

// NewEngine creates an empty engine.
func NewEngine(config EngineConfig) *Engine {
	c := config.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		clock:    c,
		logger:   logger,
		strict:   config.Strict,
		accounts: make(map[string]*accountState),
	}
}

// Room returns the room with the given ID for an account, or nil if
// the account has never seen it.
func (e *Engine) Room(account string, id ref.RoomID) *Room {
	state, ok := e.accounts[account]
	if !ok {
		return nil
	}
	return state.rooms[id]
}

// Rooms returns an account's rooms sorted by display name, then room
// ID, for stable presentation.
func (e *Engine) Rooms(account string) []*Room {
	state, ok := e.accounts[account]
	if !ok {
		return nil
	}
	rooms := make([]*Room, 0, len(state.rooms))
	for _, room := range state.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Name != rooms[j].Name {
			return rooms[i].Name < rooms[j].Name
		}
		return rooms[i].ID.String() < rooms[j].ID.String()
	})
	return rooms
}

// Status returns the last known connection status for an account.
func (e *Engine) Status(account string) AccountStatus {
	if state, ok := e.accounts[account]; ok {
		return state.status
	}
	return AccountStatus{State: StateDisconnected}
}

// Apply reconciles one envelope into room state and returns the
// deltas a renderer needs. Application is idempotent: replaying an
// envelope (or an overlapping sync window after reconnect) changes
// nothing on the second pass.
func (e *Engine) Apply(env Envelope) []RenderDelta {
	state := e.ensureAccount(env.Account)

	// Sequence numbers increase per account in emission order. A
	// regression means the bridge redelivered — harmless because
	// application is idempotent, but worth a trace.
	if env.Seq != 0 {
		if env.Seq <= state.lastSeq {
			e.logger.Debug("replayed envelope",
				"account", env.Account, "seq", env.Seq, "last_seq", state.lastSeq)
		} else {
			state.lastSeq = env.Seq
		}
	}

	switch env.Kind {
	case EnvelopeSyncBatch:
		return e.applySyncBatch(state, env)
	case EnvelopeBackfill:
		return e.applyBackfill(state, env)
	case EnvelopeRoomReset:
		return e.applyRoomReset(state, env)
	case EnvelopeRequestResult:
		return e.applyRequestResult(state, env)
	case EnvelopeAccountStatus:
		return e.applyAccountStatus(state, env)
	default:
		e.violation("envelope with unknown kind %d for account %s", int(env.Kind), env.Account)
		return nil
	}
}

// AddLocalEcho registers an optimistic entry for an outgoing message
// so the user sees it immediately. The echo reconciles when sync
// delivers the real event (matched by transaction ID) or fails when
// the request completion reports an error. Called from the host
// thread only.
func (e *Engine) AddLocalEcho(account string, roomID ref.RoomID, token string, sender ref.UserID, body string) []RenderDelta {
	state := e.ensureAccount(account)
	room, created := e.ensureRoom(state, account, roomID)

	var deltas []RenderDelta
	if created {
		deltas = append(deltas, RenderDelta{Account: account, Room: roomID, Kind: DeltaRoomCreated})
	}
	room.echoes = append(room.echoes, &LocalEcho{Token: token, Sender: sender, Body: body})
	return append(deltas, RenderDelta{Account: account, Room: roomID, Kind: DeltaEchoUpdated})
}

// ExpireTyping prunes expired typing notices across an account's
// rooms, emitting a typing delta for each room that changed.
func (e *Engine) ExpireTyping(account string) []RenderDelta {
	state, ok := e.accounts[account]
	if !ok {
		return nil
	}
	now := e.clock.Now()

	var deltas []RenderDelta
	for _, room := range state.rooms {
		before := len(room.Typing)
		users := room.TypingUsers(now)
		if len(users) != before {
			deltas = append(deltas, RenderDelta{
				Account: account, Room: room.ID, Kind: DeltaTypingChanged, Typing: users,
			})
		}
	}
	return deltas
}

func (e *Engine) ensureAccount(account string) *accountState {
	state, ok := e.accounts[account]
	if !ok {
		state = &accountState{rooms: make(map[ref.RoomID]*Room)}
		e.accounts[account] = state
	}
	return state
}

func (e *Engine) ensureRoom(state *accountState, account string, id ref.RoomID) (*Room, bool) {
	if room, ok := state.rooms[id]; ok {
		return room, false
	}
	room := NewRoom(id)
	state.rooms[id] = room
	e.logger.Debug("room created", "account", account, "room_id", id)
	return room, true
}

func (e *Engine) applySyncBatch(state *accountState, env Envelope) []RenderDelta {
	if env.Room.IsZero() {
		e.violation("sync batch without room for account %s", env.Account)
		return nil
	}

	var deltas []RenderDelta
	room, created := e.ensureRoom(state, env.Account, env.Room)
	if created {
		deltas = append(deltas, RenderDelta{Account: env.Account, Room: env.Room, Kind: DeltaRoomCreated})
	}

	if env.RoomName != "" {
		room.Name = env.RoomName
	}
	// The first sync batch carries the token for paging backwards
	// from the start of the live window. Later batches must not
	// overwrite it — backfill owns the token from then on.
	if env.PrevBatch != "" && room.PrevBatch == "" {
		room.PrevBatch = env.PrevBatch
	}

	for _, event := range env.Events {
		deltas = append(deltas, e.applyEvent(env.Account, room, event)...)
	}

	if env.TypingSet {
		now := e.clock.Now()
		room.Typing = make(map[ref.UserID]time.Time, len(env.Typing))
		for _, user := range env.Typing {
			room.Typing[user] = now.Add(typingExpiry)
		}
		deltas = append(deltas, RenderDelta{
			Account: env.Account, Room: env.Room, Kind: DeltaTypingChanged, Typing: env.Typing,
		})
	}

	if !env.ReadMarker.IsZero() && env.ReadMarker != room.ReadMarker {
		room.ReadMarker = env.ReadMarker
		deltas = append(deltas, RenderDelta{
			Account: env.Account, Room: env.Room, Kind: DeltaReadMarkerMoved, ReadMarker: env.ReadMarker,
		})
	}

	return deltas
}

// applyEvent reconciles one live event into the room. Order of
// checks: dedup, overlay kinds, membership, then tail insert with
// local echo reconciliation and pending overlay drain.
func (e *Engine) applyEvent(account string, room *Room, event Event) []RenderDelta {
	switch event.Kind {
	case KindEdit, KindRedaction, KindReaction:
		return e.applyOverlayEvent(account, room, event)

	case KindMembership:
		if event.Member.IsZero() {
			e.violation("membership event %s without member in room %s", event.ID, room.ID)
			return nil
		}
		if room.Members[event.Member] == event.Membership {
			return nil
		}
		room.Members[event.Member] = event.Membership
		return []RenderDelta{{
			Account: account, Room: room.ID, Kind: DeltaMembershipChanged,
			Member: event.Member, Membership: event.Membership,
		}}

	default:
		var deltas []RenderDelta
		if event.TransactionID != "" && room.removeEcho(event.TransactionID) {
			deltas = append(deltas, RenderDelta{Account: account, Room: room.ID, Kind: DeltaEchoUpdated})
		}

		position, inserted := room.Timeline.AppendTail(event)
		if !inserted {
			// Redelivered sync window. Dedup by event ID makes the
			// replay a no-op.
			return deltas
		}
		deltas = append(deltas, RenderDelta{
			Account: account, Room: room.ID, Kind: DeltaMessageAppended,
			Position: position, Entry: room.Timeline.Entry(position),
		})
		return append(deltas, e.drainPendingOverlays(account, room, event.ID)...)
	}
}

// applyOverlayEvent applies an edit/redaction/reaction to its target,
// or parks it in the pending table when the target has not arrived
// yet (out-of-order backfill). Overlay application is keyed by the
// overlay's own event ID so redelivery cannot double-apply.
func (e *Engine) applyOverlayEvent(account string, room *Room, overlay Event) []RenderDelta {
	if overlay.Target.IsZero() {
		e.violation("%s event %s without target in room %s", overlay.Kind, overlay.ID, room.ID)
		return nil
	}
	if room.appliedOverlays[overlay.ID] {
		return nil
	}

	entry := room.Timeline.Lookup(overlay.Target)
	if entry == nil {
		for _, pending := range room.pendingOverlays[overlay.Target] {
			if pending.ID == overlay.ID {
				return nil
			}
		}
		room.pendingOverlays[overlay.Target] = append(room.pendingOverlays[overlay.Target], overlay)
		return nil
	}

	return e.mutateOverlay(account, room, entry, overlay)
}

// mutateOverlay mutates the target entry's overlay state and emits
// the re-render delta for its position.
func (e *Engine) mutateOverlay(account string, room *Room, entry *Entry, overlay Event) []RenderDelta {
	room.appliedOverlays[overlay.ID] = true

	switch overlay.Kind {
	case KindEdit:
		entry.EditedBody = overlay.Body
	case KindRedaction:
		entry.Redacted = true
		entry.EditedBody = ""
		entry.Reactions = nil
	case KindReaction:
		if entry.Reactions == nil {
			entry.Reactions = make(map[string]int)
		}
		entry.Reactions[overlay.Body]++
	}

	position := room.Timeline.Position(entry.Event.ID)
	if position < 0 {
		e.violation("overlay target %s vanished from room %s", entry.Event.ID, room.ID)
		return nil
	}
	return []RenderDelta{{
		Account: account, Room: room.ID, Kind: DeltaMessageUpdated,
		Position: position, Entry: entry,
	}}
}

// drainPendingOverlays applies overlays that were waiting for the
// given target event.
func (e *Engine) drainPendingOverlays(account string, room *Room, target ref.EventID) []RenderDelta {
	pending, ok := room.pendingOverlays[target]
	if !ok {
		return nil
	}
	delete(room.pendingOverlays, target)

	entry := room.Timeline.Lookup(target)
	if entry == nil {
		e.violation("pending overlay target %s missing after insert in room %s", target, room.ID)
		return nil
	}

	var deltas []RenderDelta
	for _, overlay := range pending {
		if room.appliedOverlays[overlay.ID] {
			continue
		}
		deltas = append(deltas, e.mutateOverlay(account, room, entry, overlay)...)
	}
	return deltas
}

func (e *Engine) applyBackfill(state *accountState, env Envelope) []RenderDelta {
	if env.Room.IsZero() {
		e.violation("backfill without room for account %s", env.Account)
		return nil
	}

	var deltas []RenderDelta
	room, created := e.ensureRoom(state, env.Account, env.Room)
	if created {
		deltas = append(deltas, RenderDelta{Account: env.Account, Room: env.Room, Kind: DeltaRoomCreated})
	}

	// Backfill always advances the continuation token, even when the
	// page carried nothing new.
	if env.PrevBatch != "" {
		room.PrevBatch = env.PrevBatch
	}

	var insertable []Event
	var overlays []Event
	for _, event := range env.Events {
		switch event.Kind {
		case KindEdit, KindRedaction, KindReaction:
			overlays = append(overlays, event)
		case KindMembership:
			// Old membership events must not change current room
			// state; they are history only and Loom does not render
			// historical membership lines from backfill.
		default:
			insertable = append(insertable, event)
		}
	}

	count := room.Timeline.PrependHead(insertable)
	if count > 0 {
		deltas = append(deltas, RenderDelta{
			Account: env.Account, Room: env.Room, Kind: DeltaMessagesPrepended, Count: count,
		})
	}

	for _, event := range insertable {
		if room.Timeline.Contains(event.ID) {
			deltas = append(deltas, e.drainPendingOverlays(env.Account, room, event.ID)...)
		}
	}
	for _, overlay := range overlays {
		deltas = append(deltas, e.applyOverlayEvent(env.Account, room, overlay)...)
	}
	return deltas
}

func (e *Engine) applyRoomReset(state *accountState, env Envelope) []RenderDelta {
	var deltas []RenderDelta
	if env.Room.IsZero() {
		for _, room := range state.rooms {
			room.Reset()
			deltas = append(deltas, RenderDelta{Account: env.Account, Room: room.ID, Kind: DeltaRoomReset})
		}
		return deltas
	}

	room := state.rooms[env.Room]
	if room == nil {
		// Reset for a room never seen: nothing rendered, nothing to
		// discard.
		return nil
	}
	room.Reset()
	return []RenderDelta{{Account: env.Account, Room: env.Room, Kind: DeltaRoomReset}}
}

func (e *Engine) applyRequestResult(state *accountState, env Envelope) []RenderDelta {
	if env.Request == nil {
		e.violation("request-result envelope without result for account %s", env.Account)
		return nil
	}
	result := env.Request

	// A completion for a message send resolves its local echo:
	// removed on success (the sync event will render it), marked
	// failed on error so the originating line shows the failure.
	if !result.Room.IsZero() {
		if room := state.rooms[result.Room]; room != nil {
			if i := room.echoIndex(result.Token); i >= 0 {
				echo := room.echoes[i]
				if result.Failure == FailureNone {
					room.removeEcho(result.Token)
				} else {
					echo.Failed = true
					echo.FailureDetail = result.Detail
				}
				return []RenderDelta{{
					Account: env.Account, Room: result.Room, Kind: DeltaEchoUpdated, Request: result,
				}}
			}
		}
	}

	return []RenderDelta{{
		Account: env.Account, Room: result.Room, Kind: DeltaRequestCompleted, Request: result,
	}}
}

func (e *Engine) applyAccountStatus(state *accountState, env Envelope) []RenderDelta {
	if env.Status == nil {
		e.violation("account-status envelope without status for account %s", env.Account)
		return nil
	}
	state.status = *env.Status
	return []RenderDelta{{Account: env.Account, Kind: DeltaAccountStatus, Status: env.Status}}
}

// violation reports an engine invariant breach: panic in strict mode
// (development), log and continue in production.
func (e *Engine) violation(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	if e.strict {
		panic("timeline: invariant violation: " + message)
	}
	e.logger.Error("timeline invariant violation", "detail", message)
}
