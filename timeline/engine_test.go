// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loomchat/loom/lib/clock"
	"github.com/loomchat/loom/lib/ref"
)

var engineEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(engineEpoch)
	engine := NewEngine(EngineConfig{
		Clock:  fake,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Strict: true,
	})
	return engine, fake
}

func testRoomID(t *testing.T) ref.RoomID {
	t.Helper()
	return ref.MustParseRoomID("!room:example.org")
}

func syncBatch(room ref.RoomID, seq uint64, events ...Event) Envelope {
	return Envelope{
		Account: "alice",
		Seq:     seq,
		Kind:    EnvelopeSyncBatch,
		Room:    room,
		Events:  events,
	}
}

func edit(id string, token int64, target string, body string) Event {
	return Event{
		ID:     ref.MustParseEventID(id),
		Sender: ref.MustParseUserID("@alice:example.org"),
		Token:  token,
		Kind:   KindEdit,
		Body:   body,
		Target: ref.MustParseEventID(target),
	}
}

func redaction(id string, token int64, target string) Event {
	return Event{
		ID:     ref.MustParseEventID(id),
		Sender: ref.MustParseUserID("@alice:example.org"),
		Token:  token,
		Kind:   KindRedaction,
		Target: ref.MustParseEventID(target),
	}
}

func reaction(id string, token int64, target string, key string) Event {
	return Event{
		ID:     ref.MustParseEventID(id),
		Sender: ref.MustParseUserID("@bob:example.org"),
		Token:  token,
		Kind:   KindReaction,
		Body:   key,
		Target: ref.MustParseEventID(target),
	}
}

func kinds(deltas []RenderDelta) []DeltaKind {
	out := make([]DeltaKind, len(deltas))
	for i, delta := range deltas {
		out[i] = delta.Kind
	}
	return out
}

func TestSyncBatchCreatesRoomAndAppends(t *testing.T) {
	engine, _ := newTestEngine(t)
	roomID := testRoomID(t)

	deltas := engine.Apply(syncBatch(roomID, 1,
		message("$e1", 100, "hello"),
		message("$e2", 200, "world"),
	))

	want := []DeltaKind{DeltaRoomCreated, DeltaMessageAppended, DeltaMessageAppended}
	got := kinds(deltas)
	if len(got) != len(want) {
		t.Fatalf("deltas = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("deltas = %v, want %v", got, want)
		}
	}

	room := engine.Room("alice", roomID)
	if room == nil {
		t.Fatal("room not created")
	}
	if room.Timeline.Len() != 2 {
		t.Fatalf("timeline length = %d, want 2", room.Timeline.Len())
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t)
	roomID := testRoomID(t)

	env := syncBatch(roomID, 1,
		message("$e1", 100, "hello"),
		reaction("$r1", 150, "$e1", "👍"),
	)
	engine.Apply(env)

	// Redelivery after a reconnect replays an overlapping window.
	// Nothing may change: no new entries, no doubled reaction.
	deltas := engine.Apply(env)
	for _, delta := range deltas {
		if delta.Kind == DeltaMessageAppended || delta.Kind == DeltaMessageUpdated {
			t.Fatalf("replay produced %v", delta.Kind)
		}
	}

	entry := engine.Room("alice", roomID).Timeline.Lookup(ref.MustParseEventID("$e1"))
	if got := entry.Reactions["👍"]; got != 1 {
		t.Fatalf("reaction count = %d, want 1", got)
	}
}

// A message is edited and then redacted: the redaction must clear
// both the original body and the edit, and strip reactions.
func TestEditThenRedactionClearsContent(t *testing.T) {
	engine, _ := newTestEngine(t)
	roomID := testRoomID(t)

	engine.Apply(syncBatch(roomID, 1, message("$e1", 100, "original")))
	engine.Apply(syncBatch(roomID, 2,
		reaction("$r1", 120, "$e1", "👍"),
		edit("$e2", 150, "$e1", "edited"),
	))

	entry := engine.Room("alice", roomID).Timeline.Lookup(ref.MustParseEventID("$e1"))
	if got := entry.DisplayBody(); got != "edited" {
		t.Fatalf("DisplayBody after edit = %q, want %q", got, "edited")
	}

	deltas := engine.Apply(syncBatch(roomID, 3, redaction("$e3", 200, "$e1")))
	if len(deltas) != 1 || deltas[0].Kind != DeltaMessageUpdated {
		t.Fatalf("deltas = %v, want single message-updated", kinds(deltas))
	}
	if !entry.Redacted {
		t.Fatal("entry not redacted")
	}
	if got := entry.DisplayBody(); got != "" {
		t.Fatalf("DisplayBody after redaction = %q, want empty", got)
	}
	if entry.Reactions != nil {
		t.Fatalf("reactions survived redaction: %v", entry.Reactions)
	}
}

func TestOverlayBeforeTargetIsParked(t *testing.T) {
	engine, _ := newTestEngine(t)
	roomID := testRoomID(t)

	// The live window opens mid-conversation: an edit arrives whose
	// target is older than the window. No delta yet.
	deltas := engine.Apply(syncBatch(roomID, 1, edit("$e2", 200, "$e1", "edited")))
	for _, delta := range deltas {
		if delta.Kind == DeltaMessageUpdated {
			t.Fatal("overlay applied before its target arrived")
		}
	}

	// Backfill delivers the target; the parked edit applies.
	deltas = engine.Apply(Envelope{
		Account:   "alice",
		Seq:       2,
		Kind:      EnvelopeBackfill,
		Room:      roomID,
		Events:    []Event{message("$e1", 100, "original")},
		PrevBatch: "t100",
	})

	var sawPrepend, sawUpdate bool
	for _, delta := range deltas {
		switch delta.Kind {
		case DeltaMessagesPrepended:
			sawPrepend = true
		case DeltaMessageUpdated:
			sawUpdate = true
		}
	}
	if !sawPrepend || !sawUpdate {
		t.Fatalf("deltas = %v, want prepend and update", kinds(deltas))
	}

	entry := engine.Room("alice", roomID).Timeline.Lookup(ref.MustParseEventID("$e1"))
	if got := entry.DisplayBody(); got != "edited" {
		t.Fatalf("DisplayBody = %q, want %q", got, "edited")
	}
}

func TestBackfillUpdatesPrevBatch(t *testing.T) {
	engine, _ := newTestEngine(t)
	roomID := testRoomID(t)

	env := syncBatch(roomID, 1, message("$e3", 300, "live"))
	env.PrevBatch = "t300"
	engine.Apply(env)

	// A later sync batch must not clobber the backfill anchor.
	env = syncBatch(roomID, 2, message("$e4", 400, "more"))
	env.PrevBatch = "t400"
	engine.Apply(env)

	room := engine.Room("alice", roomID)
	if room.PrevBatch != "t300" {
		t.Fatalf("PrevBatch after sync = %q, want %q", room.PrevBatch, "t300")
	}

	engine.Apply(Envelope{
		Account:   "alice",
		Seq:       3,
		Kind:      EnvelopeBackfill,
		Room:      roomID,
		Events:    []Event{message("$e2", 200, "older")},
		PrevBatch: "t200",
	})
	if room.PrevBatch != "t200" {
		t.Fatalf("PrevBatch after backfill = %q, want %q", room.PrevBatch, "t200")
	}
}

func TestRoomResetDiscardsTimelineKeepsIdentity(t *testing.T) {
	engine, _ := newTestEngine(t)
	roomID := testRoomID(t)

	env := syncBatch(roomID, 1,
		message("$e1", 100, "hello"),
		Event{
			ID:         ref.MustParseEventID("$m1"),
			Sender:     ref.MustParseUserID("@bob:example.org"),
			Token:      110,
			Kind:       KindMembership,
			Member:     ref.MustParseUserID("@bob:example.org"),
			Membership: "join",
		},
	)
	env.RoomName = "Project"
	engine.Apply(env)

	deltas := engine.Apply(Envelope{Account: "alice", Seq: 2, Kind: EnvelopeRoomReset})
	if len(deltas) != 1 || deltas[0].Kind != DeltaRoomReset {
		t.Fatalf("deltas = %v, want single room-reset", kinds(deltas))
	}

	room := engine.Room("alice", roomID)
	if room.Timeline.Len() != 0 {
		t.Fatalf("timeline length after reset = %d, want 0", room.Timeline.Len())
	}
	if room.PrevBatch != "" {
		t.Fatalf("PrevBatch after reset = %q, want empty", room.PrevBatch)
	}
	if room.Name != "Project" {
		t.Fatalf("Name after reset = %q, want %q", room.Name, "Project")
	}
	if room.Members[ref.MustParseUserID("@bob:example.org")] != "join" {
		t.Fatal("membership lost on reset")
	}

	// Full resync after the reset repopulates cleanly.
	engine.Apply(syncBatch(roomID, 3, message("$e1", 100, "hello")))
	if room.Timeline.Len() != 1 {
		t.Fatalf("timeline length after resync = %d, want 1", room.Timeline.Len())
	}
}

func TestLocalEchoReconciledBySync(t *testing.T) {
	engine, _ := newTestEngine(t)
	roomID := testRoomID(t)
	sender := ref.MustParseUserID("@alice:example.org")

	engine.Apply(syncBatch(roomID, 1, message("$e1", 100, "hello")))
	engine.AddLocalEcho("alice", roomID, "txn-1", sender, "my reply")

	room := engine.Room("alice", roomID)
	if len(room.Echoes()) != 1 {
		t.Fatalf("echoes = %d, want 1", len(room.Echoes()))
	}

	// The server echoes the transaction ID on the session's own
	// event; the optimistic line gives way to the real one.
	event := message("$e2", 200, "my reply")
	event.TransactionID = "txn-1"
	deltas := engine.Apply(syncBatch(roomID, 2, event))

	var sawEcho, sawAppend bool
	for _, delta := range deltas {
		switch delta.Kind {
		case DeltaEchoUpdated:
			sawEcho = true
		case DeltaMessageAppended:
			sawAppend = true
		}
	}
	if !sawEcho || !sawAppend {
		t.Fatalf("deltas = %v, want echo-updated and message-appended", kinds(deltas))
	}
	if len(room.Echoes()) != 0 {
		t.Fatalf("echoes after reconcile = %d, want 0", len(room.Echoes()))
	}
}

func TestRequestFailureMarksEcho(t *testing.T) {
	engine, _ := newTestEngine(t)
	roomID := testRoomID(t)
	sender := ref.MustParseUserID("@alice:example.org")

	engine.Apply(syncBatch(roomID, 1, message("$e1", 100, "hello")))
	engine.AddLocalEcho("alice", roomID, "abc", sender, "doomed")

	deltas := engine.Apply(Envelope{
		Account: "alice",
		Seq:     2,
		Kind:    EnvelopeRequestResult,
		Request: &RequestResult{
			Token:   "abc",
			Room:    roomID,
			Failure: FailureRejected,
			Detail:  "M_FORBIDDEN: not allowed",
		},
	})
	if len(deltas) != 1 || deltas[0].Kind != DeltaEchoUpdated {
		t.Fatalf("deltas = %v, want single echo-updated", kinds(deltas))
	}
	if deltas[0].Request.Token != "abc" {
		t.Fatalf("completion token = %q, want %q", deltas[0].Request.Token, "abc")
	}
	if deltas[0].Request.Failure != FailureRejected {
		t.Fatalf("failure = %v, want %v", deltas[0].Request.Failure, FailureRejected)
	}

	echoes := engine.Room("alice", roomID).Echoes()
	if len(echoes) != 1 || !echoes[0].Failed {
		t.Fatalf("echo not marked failed: %+v", echoes)
	}
	if echoes[0].FailureDetail == "" {
		t.Fatal("failure detail missing")
	}
}

func TestRequestResultWithoutEchoCompletesGenerically(t *testing.T) {
	engine, _ := newTestEngine(t)

	deltas := engine.Apply(Envelope{
		Account: "alice",
		Seq:     1,
		Kind:    EnvelopeRequestResult,
		Request: &RequestResult{Token: "join-1", Failure: FailureNetwork, Detail: "connection refused"},
	})
	if len(deltas) != 1 || deltas[0].Kind != DeltaRequestCompleted {
		t.Fatalf("deltas = %v, want single request-completed", kinds(deltas))
	}
}

func TestTypingSnapshotAndExpiry(t *testing.T) {
	engine, fake := newTestEngine(t)
	roomID := testRoomID(t)
	bob := ref.MustParseUserID("@bob:example.org")

	env := syncBatch(roomID, 1)
	env.TypingSet = true
	env.Typing = []ref.UserID{bob}
	deltas := engine.Apply(env)

	var saw bool
	for _, delta := range deltas {
		if delta.Kind == DeltaTypingChanged {
			saw = true
			if len(delta.Typing) != 1 || delta.Typing[0] != bob {
				t.Fatalf("typing = %v, want [%v]", delta.Typing, bob)
			}
		}
	}
	if !saw {
		t.Fatalf("deltas = %v, want typing-changed", kinds(deltas))
	}

	// No refresh arrives; the notice ages out on its own.
	fake.Advance(typingExpiry + time.Second)
	deltas = engine.ExpireTyping("alice")
	if len(deltas) != 1 || deltas[0].Kind != DeltaTypingChanged {
		t.Fatalf("expiry deltas = %v, want single typing-changed", kinds(deltas))
	}
	if len(deltas[0].Typing) != 0 {
		t.Fatalf("typing after expiry = %v, want empty", deltas[0].Typing)
	}
	if engine.ExpireTyping("alice") != nil {
		t.Fatal("second expiry pass emitted deltas")
	}
}

func TestMembershipAndReadMarkerDeltas(t *testing.T) {
	engine, _ := newTestEngine(t)
	roomID := testRoomID(t)
	bob := ref.MustParseUserID("@bob:example.org")

	join := Event{
		ID:         ref.MustParseEventID("$m1"),
		Sender:     bob,
		Token:      100,
		Kind:       KindMembership,
		Member:     bob,
		Membership: "join",
	}
	deltas := engine.Apply(syncBatch(roomID, 1, join))

	var sawMembership bool
	for _, delta := range deltas {
		if delta.Kind == DeltaMembershipChanged {
			sawMembership = true
			if delta.Member != bob || delta.Membership != "join" {
				t.Fatalf("membership delta = %+v", delta)
			}
		}
	}
	if !sawMembership {
		t.Fatalf("deltas = %v, want membership-changed", kinds(deltas))
	}

	// Redelivering the same membership is a no-op.
	deltas = engine.Apply(syncBatch(roomID, 2, join))
	for _, delta := range deltas {
		if delta.Kind == DeltaMembershipChanged {
			t.Fatal("unchanged membership emitted a delta")
		}
	}

	marker := ref.MustParseEventID("$m1")
	env := syncBatch(roomID, 3)
	env.ReadMarker = marker
	deltas = engine.Apply(env)
	if len(deltas) != 1 || deltas[0].Kind != DeltaReadMarkerMoved {
		t.Fatalf("deltas = %v, want single read-marker-moved", kinds(deltas))
	}
	if engine.Room("alice", roomID).ReadMarker != marker {
		t.Fatal("read marker not stored")
	}
}

func TestAccountStatus(t *testing.T) {
	engine, _ := newTestEngine(t)

	deltas := engine.Apply(Envelope{
		Account: "alice",
		Seq:     1,
		Kind:    EnvelopeAccountStatus,
		Status:  &AccountStatus{State: StateSyncing},
	})
	if len(deltas) != 1 || deltas[0].Kind != DeltaAccountStatus {
		t.Fatalf("deltas = %v, want single account-status", kinds(deltas))
	}
	if got := engine.Status("alice").State; got != StateSyncing {
		t.Fatalf("status = %v, want %v", got, StateSyncing)
	}
	if got := engine.Status("carol").State; got != StateDisconnected {
		t.Fatalf("unknown account status = %v, want %v", got, StateDisconnected)
	}
}

func TestRoomsSortedByName(t *testing.T) {
	engine, _ := newTestEngine(t)

	first := syncBatch(ref.MustParseRoomID("!zzz:example.org"), 1, message("$e1", 100, "a"))
	first.RoomName = "Alpha"
	engine.Apply(first)

	second := syncBatch(ref.MustParseRoomID("!aaa:example.org"), 2, message("$e2", 200, "b"))
	second.RoomName = "Beta"
	engine.Apply(second)

	rooms := engine.Rooms("alice")
	if len(rooms) != 2 {
		t.Fatalf("rooms = %d, want 2", len(rooms))
	}
	if rooms[0].Name != "Alpha" || rooms[1].Name != "Beta" {
		t.Fatalf("room order = [%q, %q], want [Alpha, Beta]", rooms[0].Name, rooms[1].Name)
	}
}
