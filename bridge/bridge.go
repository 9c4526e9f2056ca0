// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/loomchat/loom/timeline"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("bridge: closed")

// DefaultCapacity bounds the bridge when no capacity is given. Sized
// for bursty sync traffic: a full initial sync of a busy account
// produces one envelope per room plus a handful of status envelopes.
const DefaultCapacity = 256

// Bridge is a bounded FIFO of envelopes. Multiple producers, one
// consumer. Send blocks when full; TryDrain never blocks.
type Bridge struct {
	envelopes chan timeline.Envelope

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// New creates a bridge with the given capacity. Capacity values less
// than one fall back to DefaultCapacity.
func New(capacity int) *Bridge {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Bridge{
		envelopes: make(chan timeline.Envelope, capacity),
		done:      make(chan struct{}),
	}
}

// Send enqueues one envelope, blocking while the bridge is full. It
// returns ctx.Err() if the context is cancelled first, or ErrClosed
// if the bridge is closed before the envelope is accepted.
func (b *Bridge) Send(ctx context.Context, env timeline.Envelope) error {
	// Closed-check before entering the select: a select with both
	// cases ready picks randomly, and a send must never succeed
	// after Close returned.
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.envelopes <- env:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues one envelope without blocking. Returns ErrClosed
// after Close, or false when the bridge is full. Used for best-effort
// status envelopes on paths that must not wait for the consumer.
func (b *Bridge) TrySend(env timeline.Envelope) (bool, error) {
	select {
	case <-b.done:
		return false, ErrClosed
	default:
	}
	select {
	case b.envelopes <- env:
		return true, nil
	default:
		return false, nil
	}
}

// TryDrain removes and returns up to max buffered envelopes without
// blocking, in FIFO order. max <= 0 means drain everything buffered.
// An empty bridge returns nil.
func (b *Bridge) TryDrain(max int) []timeline.Envelope {
	var drained []timeline.Envelope
	for max <= 0 || len(drained) < max {
		select {
		case env := <-b.envelopes:
			drained = append(drained, env)
		default:
			return drained
		}
	}
	return drained
}

// Len returns the number of buffered envelopes.
func (b *Bridge) Len() int { return len(b.envelopes) }

// Close wakes all blocked senders and rejects future sends. Buffered
// envelopes stay drainable. Close is idempotent.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}
