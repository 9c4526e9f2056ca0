// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"github.com/loomchat/loom/lib/ref"
)

// Timeline is the ordered history of one room. Entries are strictly
// monotonic by ordering token and unique by event ID. Live sync
// events append at the tail; backfill pages insert at the head. The
// two never intermix.
type Timeline struct {
	entries []*Entry
	index   map[ref.EventID]*Entry
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{index: make(map[ref.EventID]*Entry)}
}

// Len returns the number of entries.
func (t *Timeline) Len() int { return len(t.entries) }

// Entry returns the entry at position i.
func (t *Timeline) Entry(i int) *Entry { return t.entries[i] }

// Entries returns the entries in token order. The returned slice is
// shared; callers must not modify it.
func (t *Timeline) Entries() []*Entry { return t.entries }

// Lookup returns the entry with the given event ID, or nil.
func (t *Timeline) Lookup(id ref.EventID) *Entry { return t.index[id] }

// Contains reports whether an event ID is already present.
func (t *Timeline) Contains(id ref.EventID) bool { return t.index[id] != nil }

// AppendTail inserts a live sync event at the tail. Returns the
// entry's position and true, or -1 and false if the event ID is
// already present (redelivered sync window — dedup).
func (t *Timeline) AppendTail(event Event) (int, bool) {
	if t.Contains(event.ID) {
		return -1, false
	}
	entry := &Entry{Event: event}
	t.entries = append(t.entries, entry)
	t.index[event.ID] = entry
	return len(t.entries) - 1, true
}

// PrependHead inserts a backfill page at the head. Events must be in
// ascending token order; already-present events are skipped. Returns
// the number of entries inserted.
//
// Head inserts never pass tail entries: an event whose token exceeds
// the current head token belongs to the live window and is dropped
// here — it either already arrived via sync or will.
func (t *Timeline) PrependHead(events []Event) int {
	var headToken int64
	if len(t.entries) > 0 {
		headToken = t.entries[0].Event.Token
	}

	page := make([]*Entry, 0, len(events))
	for _, event := range events {
		if t.Contains(event.ID) {
			continue
		}
		if len(t.entries) > 0 && event.Token > headToken {
			continue
		}
		page = append(page, &Entry{Event: event})
	}
	if len(page) == 0 {
		return 0
	}

	for _, entry := range page {
		t.index[entry.Event.ID] = entry
	}
	t.entries = append(page, t.entries...)
	return len(page)
}

// Position returns the index of the entry with the given event ID,
// or -1 if absent. Linear scan from the tail: overlay targets are
// overwhelmingly recent events.
func (t *Timeline) Position(id ref.EventID) int {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Event.ID == id {
			return i
		}
	}
	return -1
}
