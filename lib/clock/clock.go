// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability. Production
// code injects [Real]; tests inject [Fake] with deterministic time
// control. Every production function that would call time.Now,
// time.After, or time.Sleep takes a Clock (or is a method on a struct
// with a Clock field) instead of calling the time package directly.
package clock

import "time"

// Clock is the time surface Loom depends on: reading the current time
// (typing-notice expiry, backoff jitter seeding), waiting for a
// duration (reconnect backoff), and sleeping.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the current goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
