// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/loomchat/loom/bridge"
	"github.com/loomchat/loom/connection"
	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/timeline"
)

// Submitter hands actions to an account's background domain. The
// manager's supervisors implement the underlying behavior; the
// indirection keeps the model testable without a homeserver.
type Submitter interface {
	Submit(account string, action connection.Action) error
}

// tickMsg drives the bridge drain. One arrives every TickInterval
// while the program runs.
type tickMsg time.Time

// defaultTickInterval is the bridge drain cadence. Fast enough that
// incoming messages feel immediate, slow enough to stay invisible in
// a CPU profile.
const defaultTickInterval = 80 * time.Millisecond

// typingNoticeInterval rate-limits outgoing typing notices while the
// user keeps typing.
const typingNoticeInterval = 3 * time.Second

// Config configures the chat model.
type Config struct {
	// Bridge is drained every tick.
	Bridge *bridge.Bridge

	// Engine reconciles envelopes into room state. The model owns it
	// exclusively.
	Engine *timeline.Engine

	// Submitter receives outgoing actions.
	Submitter Submitter

	// SelfID maps account name to its user ID, for styling the
	// user's own messages and attributing local echoes.
	SelfID map[string]ref.UserID

	// Logger receives structured log output. If nil, slog.Default()
	// is used. Never log to stdout/stderr while the TUI runs.
	Logger *slog.Logger

	// TickInterval overrides the drain cadence, mainly for tests.
	TickInterval time.Duration

	// NewToken mints idempotency tokens. If nil, random UUIDs are
	// used.
	NewToken func() string
}

// Model is the top-level bubbletea model for the chat TUI.
type Model struct {
	bridge    *bridge.Bridge
	engine    *timeline.Engine
	submitter Submitter
	selfID    map[string]ref.UserID
	logger    *slog.Logger
	theme     Theme
	keys      KeyMap

	tickInterval time.Duration
	newToken     func() string

	// Terminal dimensions (set by WindowSizeMsg).
	width  int
	height int
	ready  bool

	// Room list in presentation order and the active buffer.
	roomList  []roomKey
	buffers   map[roomKey]*Buffer
	activeIdx int

	// accounts is every account that has emitted an envelope, in
	// first-seen order. Status rendering and typing expiry iterate
	// it.
	accounts []string

	// pendingBackfill maps a room to its in-flight backfill token.
	// At most one page request per room is outstanding.
	pendingBackfill map[roomKey]string

	// notice is a transient status-bar message (request failures,
	// end of history).
	notice string

	input          textinput.Model
	lastTypingSent time.Time
	typingRoomKey  roomKey
}

// NewModel creates the chat model.
func NewModel(config Config) Model {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := config.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}
	newToken := config.NewToken
	if newToken == nil {
		newToken = uuid.NewString
	}

	input := textinput.New()
	input.Placeholder = "message"
	input.Prompt = "> "
	input.Focus()

	return Model{
		bridge:          config.Bridge,
		engine:          config.Engine,
		submitter:       config.Submitter,
		selfID:          config.SelfID,
		logger:          logger,
		theme:           DefaultTheme,
		keys:            DefaultKeyMap,
		tickInterval:    interval,
		newToken:        newToken,
		buffers:         make(map[roomKey]*Buffer),
		pendingBackfill: make(map[roomKey]string),
		input:           input,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.scheduleTick(), textinput.Blink)
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tickMsg:
		m.drain()
		return m, m.scheduleTick()

	case tea.WindowSizeMsg:
		m.width = message.Width
		m.height = message.Height
		m.ready = true
		m.input.Width = message.Width - len(m.input.Prompt) - 1
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(message)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(message)
	return m, cmd
}

func (m Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(message, m.keys.NextRoom):
		m.switchRoom(1)
		return m, nil

	case key.Matches(message, m.keys.PrevRoom):
		m.switchRoom(-1)
		return m, nil

	case key.Matches(message, m.keys.ScrollUp):
		if buffer := m.activeBuffer(); buffer != nil {
			buffer.ScrollUp(1)
		}
		return m, nil

	case key.Matches(message, m.keys.ScrollDown):
		if buffer := m.activeBuffer(); buffer != nil {
			buffer.ScrollDown(1)
		}
		return m, nil

	case key.Matches(message, m.keys.PageUp):
		if buffer := m.activeBuffer(); buffer != nil {
			buffer.ScrollUp(m.bodyHeight())
			if buffer.AtTop() {
				m.requestBackfill()
			}
		}
		return m, nil

	case key.Matches(message, m.keys.PageDown):
		if buffer := m.activeBuffer(); buffer != nil {
			buffer.ScrollDown(m.bodyHeight())
		}
		return m, nil

	case key.Matches(message, m.keys.Backfill):
		m.requestBackfill()
		return m, nil

	case key.Matches(message, m.keys.Send):
		m.sendMessage()
		return m, nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(message)
	if m.input.Value() != before {
		m.maybeSendTyping()
	}
	return m, cmd
}

// drain is the once-per-tick bridge pass: apply every queued envelope
// and expire stale typing notices.
func (m *Model) drain() {
	for _, env := range m.bridge.TryDrain(0) {
		m.observeAccount(env.Account)
		m.applyDeltas(m.engine.Apply(env))
	}
	for _, account := range m.accounts {
		m.applyDeltas(m.engine.ExpireTyping(account))
	}
}

func (m *Model) observeAccount(account string) {
	for _, existing := range m.accounts {
		if existing == account {
			return
		}
	}
	m.accounts = append(m.accounts, account)
}

// applyDeltas routes engine deltas to buffers. Buffers are created on
// demand: a delta for an unseen room creates its buffer first.
func (m *Model) applyDeltas(deltas []timeline.RenderDelta) {
	for _, delta := range deltas {
		if delta.Kind == timeline.DeltaAccountStatus {
			if delta.Status.Detail != "" {
				m.notice = fmt.Sprintf("%s: %s", delta.Account, delta.Status.Detail)
			}
			continue
		}
		if delta.Room.IsZero() {
			continue
		}

		key := roomKey{account: delta.Account, room: delta.Room}
		buffer := m.ensureBuffer(key)
		active := m.activeKey() == key

		switch delta.Kind {
		case timeline.DeltaRequestCompleted:
			m.completeRequest(key, delta.Request)
		case timeline.DeltaEchoUpdated:
			if delta.Request != nil {
				m.completeRequest(key, delta.Request)
			}
			buffer.markDirty(active)
		case timeline.DeltaTypingChanged, timeline.DeltaReadMarkerMoved:
			// Rendered from room state on the next View; no unread
			// flag for presence-level changes.
			buffer.dirty = true
		default:
			buffer.markDirty(active)
		}
	}
}

// completeRequest resolves pending-request bookkeeping for a
// completion delta.
func (m *Model) completeRequest(key roomKey, result *timeline.RequestResult) {
	if m.pendingBackfill[key] == result.Token {
		delete(m.pendingBackfill, key)
	}
	if result.Failure != timeline.FailureNone {
		m.notice = fmt.Sprintf("%s failed: %s", key.room, result.Detail)
	}
}

func (m *Model) ensureBuffer(key roomKey) *Buffer {
	if buffer, ok := m.buffers[key]; ok {
		return buffer
	}
	room := m.engine.Room(key.account, key.room)
	if room == nil {
		// A delta can outlive its room across a reset. Hand back a
		// detached buffer; the next sync batch recreates the room
		// and its real buffer.
		return m.placeholderBuffer(key)
	}
	buffer := newBuffer(key, room, m.theme, m.selfID[key.account])
	m.buffers[key] = buffer
	m.roomList = append(m.roomList, key)
	return buffer
}

func (m *Model) placeholderBuffer(key roomKey) *Buffer {
	return newBuffer(key, timeline.NewRoom(key.room), m.theme, m.selfID[key.account])
}

func (m *Model) activeKey() roomKey {
	if m.activeIdx < 0 || m.activeIdx >= len(m.roomList) {
		return roomKey{}
	}
	return m.roomList[m.activeIdx]
}

func (m *Model) activeBuffer() *Buffer {
	return m.buffers[m.activeKey()]
}

func (m *Model) switchRoom(direction int) {
	if len(m.roomList) == 0 {
		return
	}
	m.activeIdx = (m.activeIdx + direction + len(m.roomList)) % len(m.roomList)
	if buffer := m.activeBuffer(); buffer != nil {
		buffer.unread = false
	}
}

// sendMessage submits the input line as a message to the active room
// with a fresh idempotency token, registering the local echo first so
// the line renders before the server replies.
func (m *Model) sendMessage() {
	body := strings.TrimSpace(m.input.Value())
	if body == "" {
		return
	}
	key := m.activeKey()
	if key.account == "" {
		m.notice = "no active room"
		return
	}

	token := m.newToken()
	m.applyDeltas(m.engine.AddLocalEcho(key.account, key.room, token, m.selfID[key.account], body))
	m.input.Reset()

	m.submit(key.account, connection.Action{
		Token: token,
		Kind:  connection.ActionSendMessage,
		Room:  key.room,
		Body:  body,
	})
}

// requestBackfill asks for the next older history page of the active
// room. At most one request per room is in flight; a room whose
// pagination token is exhausted reports the end of history.
func (m *Model) requestBackfill() {
	key := m.activeKey()
	if key.account == "" {
		return
	}
	if _, inFlight := m.pendingBackfill[key]; inFlight {
		return
	}
	room := m.engine.Room(key.account, key.room)
	if room == nil {
		return
	}
	if room.PrevBatch == "" {
		m.notice = "no more history"
		return
	}

	token := m.newToken()
	m.pendingBackfill[key] = token
	m.submit(key.account, connection.Action{
		Token: token,
		Kind:  connection.ActionBackfill,
		Room:  key.room,
		From:  room.PrevBatch,
	})
}

// maybeSendTyping emits a typing notice, rate-limited per room.
func (m *Model) maybeSendTyping() {
	key := m.activeKey()
	if key.account == "" {
		return
	}
	now := time.Now()
	if key == m.typingRoomKey && now.Sub(m.lastTypingSent) < typingNoticeInterval {
		return
	}
	m.typingRoomKey = key
	m.lastTypingSent = now

	m.submit(key.account, connection.Action{
		Token:  m.newToken(),
		Kind:   connection.ActionSendTyping,
		Room:   key.room,
		Typing: true,
	})
}

// submit hands an action to the background domain, converting an
// immediate submission error into a synthetic completion so it
// resolves through the same path as a server rejection.
func (m *Model) submit(account string, action connection.Action) {
	if err := m.submitter.Submit(account, action); err != nil {
		m.logger.Warn("submit failed", "account", account, "kind", action.Kind, "error", err)
		m.applyDeltas(m.engine.Apply(timeline.Envelope{
			Account: account,
			Kind:    timeline.EnvelopeRequestResult,
			Request: &timeline.RequestResult{
				Token:   action.Token,
				Room:    action.Room,
				Failure: timeline.FailureValidation,
				Detail:  err.Error(),
			},
		}))
	}
}

func (m *Model) bodyHeight() int {
	// Status bar, room bar, typing line, input line.
	height := m.height - 4
	if height < 1 {
		height = 1
	}
	return height
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "loading…"
	}

	var view strings.Builder
	view.WriteString(m.statusBar())
	view.WriteString("\n")
	view.WriteString(m.roomBar())
	view.WriteString("\n")

	body := ""
	if buffer := m.activeBuffer(); buffer != nil {
		body = buffer.View(m.bodyHeight())
	}
	// Pad the body so the input line stays anchored at the bottom.
	bodyLines := strings.Count(body, "\n") + 1
	if body == "" {
		bodyLines = 0
	}
	for i := bodyLines; i < m.bodyHeight(); i++ {
		view.WriteString("\n")
	}
	view.WriteString(body)
	view.WriteString("\n")

	view.WriteString(m.typingLine())
	view.WriteString("\n")
	view.WriteString(m.input.View())
	return view.String()
}

// statusBar summarizes account connection states and the last notice.
func (m Model) statusBar() string {
	var parts []string
	for _, account := range m.accounts {
		status := m.engine.Status(account)
		parts = append(parts, fmt.Sprintf("%s:%s", account, status.State))
	}
	line := strings.Join(parts, "  ")
	if m.notice != "" {
		line += "  " + m.notice
	}
	if line == "" {
		line = "loom"
	}
	return m.theme.StatusBar.Width(m.width).Render(line)
}

func (m Model) roomBar() string {
	if len(m.roomList) == 0 {
		return m.theme.RoomIdle.Render("(no rooms)")
	}
	var parts []string
	for i, key := range m.roomList {
		buffer := m.buffers[key]
		style := m.theme.RoomIdle
		switch {
		case i == m.activeIdx:
			style = m.theme.RoomActive
		case buffer.unread:
			style = m.theme.RoomUnread
		}
		parts = append(parts, style.Render(buffer.Title()))
	}
	return strings.Join(parts, " │ ")
}

// typingLine shows who is typing in the active room.
func (m Model) typingLine() string {
	key := m.activeKey()
	if key.account == "" {
		return ""
	}
	room := m.engine.Room(key.account, key.room)
	if room == nil {
		return ""
	}
	users := room.TypingUsers(time.Now())
	if len(users) == 0 {
		return ""
	}
	names := make([]string, len(users))
	for i, user := range users {
		names[i] = user.String()
	}
	return m.theme.Typing.Render(strings.Join(names, ", ") + " typing…")
}
