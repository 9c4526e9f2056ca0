// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/timeline"
)

// roomKey identifies one room buffer across accounts.
type roomKey struct {
	account string
	room    ref.RoomID
}

// Buffer is the rendered view of one room. It holds no timeline data
// of its own: the engine's Room is the single source of truth, and
// the buffer re-derives its lines when a delta marks it dirty. Rooms
// are small enough that rebuilding beats tracking per-line patches.
type Buffer struct {
	key    roomKey
	room   *timeline.Room
	theme  Theme
	selfID ref.UserID

	dirty  bool
	lines  []string
	unread bool

	// scroll is the number of lines scrolled up from the bottom.
	// Zero means pinned to the newest message.
	scroll int
}

func newBuffer(key roomKey, room *timeline.Room, theme Theme, selfID ref.UserID) *Buffer {
	return &Buffer{key: key, room: room, theme: theme, selfID: selfID, dirty: true}
}

// markDirty schedules a rebuild on the next render. Unread is set
// when the buffer is not the active one.
func (b *Buffer) markDirty(active bool) {
	b.dirty = true
	if !active {
		b.unread = true
	}
}

// Title returns the room's display name, falling back to the room ID.
func (b *Buffer) Title() string {
	if b.room.Name != "" {
		return b.room.Name
	}
	return b.room.ID.String()
}

// ScrollUp moves the view toward older messages.
func (b *Buffer) ScrollUp(lines int) {
	b.scroll += lines
	if max := len(b.lines) - 1; b.scroll > max {
		b.scroll = max
	}
	if b.scroll < 0 {
		b.scroll = 0
	}
}

// ScrollDown moves the view toward newer messages.
func (b *Buffer) ScrollDown(lines int) {
	b.scroll -= lines
	if b.scroll < 0 {
		b.scroll = 0
	}
}

// AtTop reports whether the view shows the oldest rendered line,
// which is the cue to offer backfill.
func (b *Buffer) AtTop() bool {
	return b.scroll >= len(b.lines)-1
}

// View renders the buffer's visible window, height lines tall.
func (b *Buffer) View(height int) string {
	if b.dirty {
		b.rebuild()
	}
	if height <= 0 || len(b.lines) == 0 {
		return ""
	}

	end := len(b.lines) - b.scroll
	if end > len(b.lines) {
		end = len(b.lines)
	}
	if end < 1 {
		end = 1
	}
	start := end - height
	if start < 0 {
		start = 0
	}
	return strings.Join(b.lines[start:end], "\n")
}

// rebuild re-derives the rendered lines from the room's timeline and
// local echoes.
func (b *Buffer) rebuild() {
	b.dirty = false
	b.lines = b.lines[:0]

	for _, entry := range b.room.Timeline.Entries() {
		b.lines = append(b.lines, b.renderEntry(entry))
	}
	for _, echo := range b.room.Echoes() {
		b.lines = append(b.lines, b.renderEcho(echo))
	}
}

func (b *Buffer) renderEntry(entry *timeline.Entry) string {
	stamp := time.UnixMilli(entry.Event.Token).Format("15:04")

	if entry.Event.Kind == timeline.KindMembership {
		return fmt.Sprintf("%s %s", stamp,
			b.theme.Membership.Render(fmt.Sprintf("%s is now %q",
				entry.Event.Member, entry.Event.Membership)))
	}

	senderStyle := b.theme.Sender
	if entry.Event.Sender == b.selfID {
		senderStyle = b.theme.OwnSender
	}
	sender := senderStyle.Render(entry.Event.Sender.String())

	if entry.Redacted {
		return fmt.Sprintf("%s %s %s", stamp, sender,
			b.theme.Redacted.Render("(message removed)"))
	}

	body := b.theme.Body.Render(entry.DisplayBody())
	if entry.EditedBody != "" {
		body += " " + b.theme.Edited.Render("(edited)")
	}
	if len(entry.Reactions) > 0 {
		body += " " + b.theme.Reaction.Render(renderReactions(entry.Reactions))
	}
	return fmt.Sprintf("%s %s %s", stamp, sender, body)
}

func (b *Buffer) renderEcho(echo *timeline.LocalEcho) string {
	sender := b.theme.OwnSender.Render(echo.Sender.String())
	if echo.Failed {
		return fmt.Sprintf("      %s %s %s", sender, echo.Body,
			b.theme.Failed.Render("✗ "+echo.FailureDetail))
	}
	return fmt.Sprintf("      %s %s", sender,
		b.theme.Pending.Render(echo.Body+" …"))
}

// renderReactions formats reaction counts in stable key order.
func renderReactions(reactions map[string]int) string {
	keys := make([]string, 0, len(reactions))
	for key := range reactions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		if count := reactions[key]; count > 1 {
			parts = append(parts, fmt.Sprintf("[%s %d]", key, count))
		} else {
			parts = append(parts, "["+key+"]")
		}
	}
	return strings.Join(parts, " ")
}
