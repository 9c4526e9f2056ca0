// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API for Loom's
// synchronization and messaging needs.
//
// The package provides two core types. [Client] is an unauthenticated
// Matrix client holding the homeserver URL and HTTP transport; it
// handles password login and server version probing. [Session] wraps a
// Client with an access token for authenticated operations:
// incremental sync with long-polling, idempotent event sending (PUT
// with a caller-supplied transaction ID), redactions, room membership
// (join, leave), history pagination via /messages, read markers,
// typing notices, and identity verification (WhoAmI).
//
// Sessions are lightweight and safe for concurrent use; every method
// takes a context that bounds (and can abort) the underlying HTTP
// request. Cancelling the context of an in-flight /sync long-poll
// aborts it promptly — the sync worker relies on this for clean
// shutdown.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_UNKNOWN_TOKEN, etc.) and HTTP
// status code. [IsMatrixError] tests for a specific code. Request URLs
// are built by string concatenation rather than url.URL to avoid
// double-encoding of path segments containing URL-encoded characters.
package messaging
