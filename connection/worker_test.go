// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loomchat/loom/bridge"
	"github.com/loomchat/loom/lib/clock"
	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/messaging"
	"github.com/loomchat/loom/timeline"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSession(t *testing.T, mock *mockHomeserver) *messaging.Session {
	t.Helper()
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: mock.URL(),
		Logger:        discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client.SessionFromToken(
		ref.MustParseUserID("@alice:example.org"), "syt-test-token", "LOOMDEV")
}

// awaitEnvelopes drains the bridge until n envelopes arrived or the
// deadline passes.
func awaitEnvelopes(t *testing.T, b *bridge.Bridge, n int) []timeline.Envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var collected []timeline.Envelope
	for len(collected) < n {
		collected = append(collected, b.TryDrain(0)...)
		if time.Now().After(deadline) {
			t.Fatalf("got %d envelopes before deadline, want %d", len(collected), n)
		}
		time.Sleep(2 * time.Millisecond)
	}
	return collected
}

func envelopeOfKind(t *testing.T, envelopes []timeline.Envelope, kind timeline.EnvelopeKind) timeline.Envelope {
	t.Helper()
	for _, env := range envelopes {
		if env.Kind == kind {
			return env
		}
	}
	t.Fatalf("no %v envelope in %d envelopes", kind, len(envelopes))
	return timeline.Envelope{}
}

func TestWorkerEmitsSyncBatches(t *testing.T) {
	mock := newMockHomeserver(t)
	mock.queueSync(200, syncBody("batch-1", "!room:example.org",
		[]string{messageJSON("$e1", "@bob:example.org", 100, "hello")},
		`, "state": {"events": [{"event_id": "$n", "type": "m.room.name", "sender": "@bob:example.org", "origin_server_ts": 50, "state_key": "", "content": {"name": "Ops"}}]}`))
	mock.queueSync(200, syncBody("batch-2", "!room:example.org",
		[]string{messageJSON("$e2", "@bob:example.org", 200, "again")}, ""))

	channel := bridge.New(32)
	var tokens []string
	worker := NewWorker(WorkerConfig{
		Account:     "alice",
		Session:     testSession(t, mock),
		Bridge:      channel,
		Logger:      discardLogger(),
		OnNextBatch: func(token string) { tokens = append(tokens, token) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	// Status, then one batch per sync response.
	envelopes := awaitEnvelopes(t, channel, 3)
	cancel()
	<-done

	status := envelopeOfKind(t, envelopes, timeline.EnvelopeAccountStatus)
	if status.Status.State != timeline.StateSyncing {
		t.Errorf("status = %v, want syncing", status.Status.State)
	}

	var batches []timeline.Envelope
	for _, env := range envelopes {
		if env.Kind == timeline.EnvelopeSyncBatch {
			batches = append(batches, env)
		}
	}
	if len(batches) != 2 {
		t.Fatalf("sync batches = %d, want 2", len(batches))
	}
	if batches[0].RoomName != "Ops" {
		t.Errorf("first batch RoomName = %q, want Ops", batches[0].RoomName)
	}
	if len(batches[0].Events) != 1 || batches[0].Events[0].Body != "hello" {
		t.Errorf("first batch events = %+v", batches[0].Events)
	}
	if batches[0].Seq >= batches[1].Seq {
		t.Errorf("sequence not increasing: %d then %d", batches[0].Seq, batches[1].Seq)
	}

	// The stored position advanced with each response.
	if len(tokens) < 2 || tokens[0] != "batch-1" || tokens[1] != "batch-2" {
		t.Errorf("persisted tokens = %v, want [batch-1 batch-2 ...]", tokens)
	}

	// First call is an initial sync (no since, no long-poll); the
	// second resumes with the previous next_batch.
	syncCalls := mock.recorded("/sync")
	if len(syncCalls) < 2 {
		t.Fatalf("sync calls = %d, want at least 2", len(syncCalls))
	}
	if got := syncCalls[0].query.Get("since"); got != "" {
		t.Errorf("first sync since = %q, want empty", got)
	}
	if got := syncCalls[0].query.Get("timeout"); got != "" {
		t.Errorf("first sync timeout = %q, want unset", got)
	}
	if got := syncCalls[1].query.Get("since"); got != "batch-1" {
		t.Errorf("second sync since = %q, want batch-1", got)
	}
	if got := syncCalls[1].query.Get("timeout"); got != "30000" {
		t.Errorf("second sync timeout = %q, want 30000", got)
	}
}

func TestWorkerResumesFromStoredToken(t *testing.T) {
	mock := newMockHomeserver(t)
	mock.queueSync(200, `{"next_batch": "batch-9", "rooms": {}}`)

	channel := bridge.New(8)
	worker := NewWorker(WorkerConfig{
		Account: "alice",
		Session: testSession(t, mock),
		Bridge:  channel,
		Logger:  discardLogger(),
		Since:   "stored-token",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	awaitEnvelopes(t, channel, 1)
	cancel()
	<-done

	syncCalls := mock.recorded("/sync")
	if got := syncCalls[0].query.Get("since"); got != "stored-token" {
		t.Errorf("resumed sync since = %q, want stored-token", got)
	}
}

func TestWorkerExpiredTokenResetsAndResyncs(t *testing.T) {
	mock := newMockHomeserver(t)
	mock.queueSync(200, `{"next_batch": "batch-1", "rooms": {}}`)
	mock.queueSync(400, `{"errcode": "M_UNKNOWN_POS", "error": "Unknown position"}`)
	mock.queueSync(200, syncBody("batch-2", "!room:example.org",
		[]string{messageJSON("$e1", "@bob:example.org", 100, "hello")}, ""))

	channel := bridge.New(32)
	var tokens []string
	worker := NewWorker(WorkerConfig{
		Account:     "alice",
		Session:     testSession(t, mock),
		Bridge:      channel,
		Logger:      discardLogger(),
		OnNextBatch: func(token string) { tokens = append(tokens, token) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	// Syncing status, reset, then the post-reset batch.
	envelopes := awaitEnvelopes(t, channel, 3)
	cancel()
	<-done

	reset := envelopeOfKind(t, envelopes, timeline.EnvelopeRoomReset)
	if !reset.Room.IsZero() {
		t.Errorf("reset room = %v, want zero (all rooms)", reset.Room)
	}
	envelopeOfKind(t, envelopes, timeline.EnvelopeSyncBatch)

	// The stored position was cleared at the reset and the next sync
	// started over.
	var sawCleared bool
	for _, token := range tokens {
		if token == "" {
			sawCleared = true
		}
	}
	if !sawCleared {
		t.Errorf("persisted tokens = %v, want a cleared entry", tokens)
	}

	syncCalls := mock.recorded("/sync")
	if len(syncCalls) < 3 {
		t.Fatalf("sync calls = %d, want at least 3", len(syncCalls))
	}
	if got := syncCalls[2].query.Get("since"); got != "" {
		t.Errorf("post-reset sync since = %q, want empty (full resync)", got)
	}
}

func TestWorkerFatalAuthStops(t *testing.T) {
	mock := newMockHomeserver(t)
	mock.queueSync(401, `{"errcode": "M_UNKNOWN_TOKEN", "error": "Invalid token"}`)

	channel := bridge.New(8)
	worker := NewWorker(WorkerConfig{
		Account: "alice",
		Session: testSession(t, mock),
		Bridge:  channel,
		Logger:  discardLogger(),
	})

	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	select {
	case err := <-done:
		if !messaging.IsFatalAuthError(err) {
			t.Fatalf("Run returned %v, want fatal auth error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker kept running after fatal auth error")
	}

	// The mock received exactly one sync: no retry after a fatal
	// error.
	if calls := mock.recorded("/sync"); len(calls) != 1 {
		t.Fatalf("sync calls = %d, want 1", len(calls))
	}

	status := envelopeOfKind(t, channel.TryDrain(0), timeline.EnvelopeAccountStatus)
	if status.Status.State != timeline.StateErrored || !status.Status.Fatal {
		t.Errorf("status = %+v, want fatal errored", status.Status)
	}
}

func TestWorkerTransientErrorBacksOff(t *testing.T) {
	mock := newMockHomeserver(t)
	mock.queueSync(500, `{"errcode": "M_UNKNOWN", "error": "boom"}`)
	mock.queueSync(502, `{"errcode": "M_UNKNOWN", "error": "boom"}`)
	mock.queueSync(200, `{"next_batch": "batch-1", "rooms": {}}`)

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	channel := bridge.New(32)
	worker := NewWorker(WorkerConfig{
		Account:        "alice",
		Session:        testSession(t, mock),
		Bridge:         channel,
		Clock:          fake,
		Logger:         discardLogger(),
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	// First failure: the worker parks on the backoff timer. The wait
	// is 1s plus up to 50% jitter.
	fake.BlockUntilWaiters(1)
	fake.Advance(2 * time.Second)

	// Second failure: doubled backoff.
	fake.BlockUntilWaiters(1)
	fake.Advance(4 * time.Second)

	envelopes := awaitEnvelopes(t, channel, 3)
	cancel()
	<-done

	var errored, syncing int
	for _, env := range envelopes {
		if env.Kind != timeline.EnvelopeAccountStatus {
			continue
		}
		switch env.Status.State {
		case timeline.StateErrored:
			errored++
			if env.Status.Fatal {
				t.Error("transient failure marked fatal")
			}
		case timeline.StateSyncing:
			syncing++
		}
	}
	if errored != 2 || syncing != 1 {
		t.Errorf("status envelopes: errored=%d syncing=%d, want 2 and 1", errored, syncing)
	}

	if calls := mock.recorded("/sync"); len(calls) < 3 {
		t.Errorf("sync calls = %d, want 3 (two retries then success)", len(calls))
	}
}
