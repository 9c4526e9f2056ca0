// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"github.com/loomchat/loom/bridge"
	"github.com/loomchat/loom/lib/clock"
	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/messaging"
	"github.com/loomchat/loom/timeline"
)

// sequence allocates per-account envelope sequence numbers. Shared
// between the sync worker and the request executor so both emit into
// one strictly increasing stream.
type sequence struct {
	n atomic.Uint64
}

func (s *sequence) next() uint64 { return s.n.Add(1) }

// syncFilter restricts /sync to the event types a chat client
// renders. Presence is suppressed entirely; global account data is
// suppressed (the per-room fully-read marker still arrives in each
// room's account_data section). lazy_load_members keeps initial sync
// responses for large rooms tractable.
const syncFilter = `{
  "room": {
    "timeline": {
      "types": ["m.room.message", "m.room.member", "m.room.name", "m.reaction", "m.room.redaction"],
      "limit": 50,
      "lazy_load_members": true
    },
    "state": {
      "types": ["m.room.member", "m.room.name"],
      "lazy_load_members": true
    },
    "ephemeral": {"types": ["m.typing"]},
    "account_data": {"types": ["m.fully_read"]}
  },
  "presence": {"types": []},
  "account_data": {"types": []}
}`

// syncTimeoutMS is the /sync long-poll timeout. The homeserver holds
// the request until an event arrives or the window elapses.
const syncTimeoutMS = 30000

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// WorkerConfig configures a sync worker.
type WorkerConfig struct {
	// Account is the account name envelopes are attributed to.
	Account string

	// Session is the authenticated protocol session.
	Session *messaging.Session

	// Bridge receives the emitted envelopes.
	Bridge *bridge.Bridge

	// Clock is used for backoff waits. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Since resumes the sync stream from a stored position. Empty
	// means a full initial sync.
	Since string

	// OnNextBatch, if set, is called with each new sync position so
	// the caller can persist it for the next resume. Called from the
	// worker goroutine.
	OnNextBatch func(token string)

	// InitialBackoff and MaxBackoff bound the retry delay for
	// transient errors. Zero values use the defaults (1s, 30s).
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	sequence *sequence
}

// Worker runs one account's /sync long-poll loop, translating each
// response into envelopes. It owns no room state: decoding happens
// here, reconciliation on the host thread.
type Worker struct {
	account     string
	session     *messaging.Session
	bridge      *bridge.Bridge
	clock       clock.Clock
	logger      *slog.Logger
	seq         *sequence
	since       string
	onNextBatch func(string)

	initialBackoff time.Duration
	maxBackoff     time.Duration

	syncing bool
}

// NewWorker creates a worker. It does not start any goroutine; call
// Run.
func NewWorker(config WorkerConfig) *Worker {
	c := config.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	initial := config.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	max := config.MaxBackoff
	if max <= 0 {
		max = defaultMaxBackoff
	}
	seq := config.sequence
	if seq == nil {
		seq = &sequence{}
	}
	return &Worker{
		account:        config.Account,
		session:        config.Session,
		bridge:         config.Bridge,
		clock:          c,
		logger:         logger.With("account", config.Account),
		seq:            seq,
		since:          config.Since,
		onNextBatch:    config.OnNextBatch,
		initialBackoff: initial,
		maxBackoff:     max,
	}
}

// Run executes the sync loop until the context is cancelled, the
// bridge closes, or a fatal auth error stops the account. Transient
// errors are retried with capped exponential backoff plus jitter. An
// expired sync position emits a room-reset envelope and restarts from
// a full initial sync.
func (w *Worker) Run(ctx context.Context) error {
	backoff := w.initialBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		options := messaging.SyncOptions{
			Since:  w.since,
			Filter: syncFilter,
		}
		if w.since != "" {
			// Incremental syncs long-poll; the initial snapshot
			// returns immediately.
			options.Timeout = syncTimeoutMS
			options.SetTimeout = true
		}

		response, err := w.session.Sync(ctx, options)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			switch {
			case messaging.IsFatalAuthError(err):
				w.logger.Error("authentication rejected, stopping sync", "error", err)
				w.emitStatus(ctx, timeline.StateErrored, err.Error(), true)
				return err

			case messaging.IsExpiredSyncToken(err):
				// The server no longer knows our position. Discard
				// rendered timelines and resync from scratch; rooms
				// keep their identity.
				w.logger.Warn("sync position expired, full resync", "error", err)
				w.since = ""
				if w.onNextBatch != nil {
					w.onNextBatch("")
				}
				if err := w.emit(ctx, timeline.Envelope{Kind: timeline.EnvelopeRoomReset}); err != nil {
					return err
				}
				backoff = w.initialBackoff
				continue

			default:
				w.syncing = false
				w.logger.Warn("sync failed, retrying", "error", err, "backoff", backoff)
				w.emitStatus(ctx, timeline.StateErrored, err.Error(), false)
				if err := w.wait(ctx, backoff); err != nil {
					return err
				}
				backoff = min(backoff*2, w.maxBackoff)
				continue
			}
		}

		backoff = w.initialBackoff
		w.since = response.NextBatch
		if w.onNextBatch != nil {
			w.onNextBatch(response.NextBatch)
		}
		if !w.syncing {
			w.syncing = true
			w.emitStatus(ctx, timeline.StateSyncing, "", false)
		}

		if err := w.emitSyncResponse(ctx, response); err != nil {
			return err
		}
	}
}

// emitSyncResponse translates one /sync response into per-room
// envelopes. Rooms are emitted in sorted order so repeated runs over
// the same response are deterministic.
func (w *Worker) emitSyncResponse(ctx context.Context, response *messaging.SyncResponse) error {
	roomIDs := make([]ref.RoomID, 0, len(response.Rooms.Join))
	for roomID := range response.Rooms.Join {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Slice(roomIDs, func(i, j int) bool {
		return roomIDs[i].String() < roomIDs[j].String()
	})

	for _, roomID := range roomIDs {
		update := decodeJoinedRoom(response.Rooms.Join[roomID])
		if len(update.events) == 0 && update.name == "" && !update.typingSet &&
			update.readMarker.IsZero() && update.prevBatch == "" {
			continue
		}
		env := timeline.Envelope{
			Kind:       timeline.EnvelopeSyncBatch,
			Room:       roomID,
			RoomName:   update.name,
			Events:     update.events,
			TypingSet:  update.typingSet,
			Typing:     update.typing,
			ReadMarker: update.readMarker,
			PrevBatch:  update.prevBatch,
		}
		if err := w.emit(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// emit stamps account and sequence onto an envelope and sends it over
// the bridge, blocking under backpressure.
func (w *Worker) emit(ctx context.Context, env timeline.Envelope) error {
	env.Account = w.account
	env.Seq = w.seq.next()
	return w.bridge.Send(ctx, env)
}

func (w *Worker) emitStatus(ctx context.Context, state timeline.AccountState, detail string, fatal bool) {
	env := timeline.Envelope{
		Kind:   timeline.EnvelopeAccountStatus,
		Status: &timeline.AccountStatus{State: state, Detail: detail, Fatal: fatal},
	}
	if err := w.emit(ctx, env); err != nil {
		w.logger.Debug("status envelope dropped", "state", state, "error", err)
	}
}

// wait sleeps for the backoff delay plus up to 50% jitter, aborting
// on cancellation.
func (w *Worker) wait(ctx context.Context, delay time.Duration) error {
	jittered := delay + time.Duration(rand.Int63n(int64(delay/2)+1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.clock.After(jittered):
		return nil
	}
}
