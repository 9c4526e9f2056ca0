// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"github.com/loomchat/loom/lib/ref"
)

// EnvelopeKind identifies what an envelope carries.
type EnvelopeKind int

const (
	// EnvelopeSyncBatch carries one room's decoded events from a sync
	// response, in server order, to append at the timeline tail.
	EnvelopeSyncBatch EnvelopeKind = iota
	// EnvelopeBackfill carries one page of older history, in
	// ascending token order, to insert at the timeline head.
	EnvelopeBackfill
	// EnvelopeRoomReset instructs the engine to discard a room's
	// timeline before a full resync repopulates it (expired sync
	// token recovery). A zero Room resets every room of the account.
	EnvelopeRoomReset
	// EnvelopeRequestResult completes an outgoing request, echoing
	// the caller's idempotency token.
	EnvelopeRequestResult
	// EnvelopeAccountStatus reports a connection state change.
	EnvelopeAccountStatus
)

func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeSyncBatch:
		return "sync-batch"
	case EnvelopeBackfill:
		return "backfill"
	case EnvelopeRoomReset:
		return "room-reset"
	case EnvelopeRequestResult:
		return "request-result"
	case EnvelopeAccountStatus:
		return "account-status"
	default:
		return "unknown"
	}
}

// Envelope is a decoded, validated unit of work produced in the
// background sync domain and consumed exactly once by the engine on
// the host thread. Seq increases strictly per account, in emission
// order.
type Envelope struct {
	Account string
	Seq     uint64
	Kind    EnvelopeKind

	// Room scopes sync-batch, backfill, room-reset, and room-level
	// request results.
	Room ref.RoomID

	// RoomName carries a display-name change observed in room state;
	// empty means unchanged.
	RoomName string

	// Events are the decoded timeline events, ascending by token.
	Events []Event

	// TypingSet reports that Typing carries a new snapshot of the
	// room's typing users (the snapshot may be empty).
	TypingSet bool
	Typing    []ref.UserID

	// ReadMarker moves the room's fully-read position; zero means
	// unchanged.
	ReadMarker ref.EventID

	// PrevBatch updates the room's backfill continuation token; empty
	// means unchanged.
	PrevBatch string

	// Request is set for EnvelopeRequestResult.
	Request *RequestResult

	// Status is set for EnvelopeAccountStatus.
	Status *AccountStatus
}

// FailureKind classifies why an outgoing request failed.
type FailureKind int

const (
	// FailureNone means the request succeeded.
	FailureNone FailureKind = iota
	// FailureNetwork is a transport-level failure; the request may
	// have never reached the server.
	FailureNetwork
	// FailureRejected means the server processed and refused the
	// request.
	FailureRejected
	// FailureValidation means the request was malformed and never
	// sent.
	FailureValidation
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureNetwork:
		return "network"
	case FailureRejected:
		return "rejected-by-server"
	case FailureValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// RequestResult is the completion of an outgoing request. Token is
// the idempotency token the caller supplied at submission — the host
// layer matches completion to request by it, even across retries.
type RequestResult struct {
	Token   string
	Room    ref.RoomID
	EventID ref.EventID
	Failure FailureKind

	// Detail is a human-readable explanation for failures.
	Detail string
}

// AccountState is the connection lifecycle state of one account.
type AccountState int

const (
	StateDisconnected AccountState = iota
	StateConnecting
	StateSyncing
	StateErrored
)

func (s AccountState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSyncing:
		return "syncing"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// AccountStatus reports a connection state change for display.
// Transient errors keep Fatal false — the worker is still retrying.
type AccountStatus struct {
	State  AccountState
	Detail string
	Fatal  bool
}
