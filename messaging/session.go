// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/loomchat/loom/lib/ref"
)

// Session is an authenticated Matrix session: a Client plus an access
// token. Sessions are safe for concurrent use — the sync worker
// long-polls on one goroutine while request executors send events on
// others.
type Session struct {
	client      *Client
	accessToken string
	userID      ref.UserID
	deviceID    string
}

// UserID returns the fully-qualified Matrix user ID.
func (s *Session) UserID() ref.UserID { return s.userID }

// DeviceID returns the device ID for this session.
func (s *Session) DeviceID() string { return s.deviceID }

// AccessToken returns the raw access token, for persisting to the
// session store. Never log it.
func (s *Session) AccessToken() string { return s.accessToken }

// CloseIdleConnections drops pooled HTTP connections. Call after a
// sync error so the next request opens a fresh TCP connection.
func (s *Session) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// WhoAmI validates the access token and returns the user ID. Useful
// for checking whether a stored token is still valid before starting
// the sync loop.
func (s *Session) WhoAmI(ctx context.Context) (ref.UserID, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", s.accessToken, nil)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// Sync performs an incremental sync with the homeserver. For initial
// sync, leave options.Since empty. For long-polling, set
// options.Timeout to the desired wait in milliseconds. Cancelling ctx
// aborts the in-flight long-poll.
func (s *Session) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// SendEvent sends an event to a room using Matrix's idempotent PUT
// with a caller-supplied transaction ID. Retrying with the same
// transaction ID returns the same event ID instead of duplicating the
// event — outgoing request retries depend on this. Returns the event
// ID.
func (s *Session) SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, transactionID string, content any) (ref.EventID, error) {
	if transactionID == "" {
		return ref.EventID{}, fmt.Errorf("messaging: transaction ID is required for event send")
	}
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType.String()),
		url.PathEscape(transactionID),
	)

	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send event to %q failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// SendMessage sends an m.room.message event. Returns the event ID.
func (s *Session) SendMessage(ctx context.Context, roomID ref.RoomID, transactionID string, content MessageContent) (ref.EventID, error) {
	eventType, _ := ref.ParseEventType("m.room.message")
	return s.SendEvent(ctx, roomID, eventType, transactionID, content)
}

// RedactEvent redacts a previously sent event. Same idempotent PUT
// shape as SendEvent. Returns the redaction's own event ID.
func (s *Session) RedactEvent(ctx context.Context, roomID ref.RoomID, target ref.EventID, transactionID, reason string) (ref.EventID, error) {
	if transactionID == "" {
		return ref.EventID{}, fmt.Errorf("messaging: transaction ID is required for redaction")
	}
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/redact/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(target.String()),
		url.PathEscape(transactionID),
	)

	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, RedactRequest{Reason: reason})
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: redact %q in %q failed: %w", target, roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse redact response: %w", err)
	}
	return response.EventID, nil
}

// JoinRoom joins a room by ID or alias. Returns the resolved room ID.
func (s *Session) JoinRoom(ctx context.Context, roomIDOrAlias string) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomIDOrAlias)
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomIDOrAlias, err)
	}

	var response JoinRoomResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// LeaveRoom leaves a room by ID.
func (s *Session) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/leave", url.PathEscape(roomID.String()))
	if _, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{}); err != nil {
		return fmt.Errorf("messaging: leave room %q failed: %w", roomID, err)
	}
	return nil
}

// RoomMessages fetches paginated history from a room. Used for
// backfill: direction "b" with a prev_batch token walks backwards
// from the oldest known event.
func (s *Session) RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/messages", url.PathEscape(roomID.String()))

	query := url.Values{}
	if options.From != "" {
		query.Set("from", options.From)
	}
	direction := options.Direction
	if direction == "" {
		direction = "b"
	}
	query.Set("dir", direction)
	if options.Limit > 0 {
		query.Set("limit", strconv.Itoa(options.Limit))
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: room messages for %q failed: %w", roomID, err)
	}

	var response RoomMessagesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse messages response: %w", err)
	}
	return &response, nil
}

// SetReadMarker moves the fully-read marker and sets a public read
// receipt at the given event.
func (s *Session) SetReadMarker(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/read_markers", url.PathEscape(roomID.String()))
	request := ReadMarkerRequest{FullyRead: eventID, Read: eventID}
	if _, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, request); err != nil {
		return fmt.Errorf("messaging: set read marker in %q failed: %w", roomID, err)
	}
	return nil
}

// SendTyping sets or clears a typing notice. timeoutMS is how long
// the server keeps the notice alive; ignored when typing is false.
func (s *Session) SendTyping(ctx context.Context, roomID ref.RoomID, typing bool, timeoutMS int64) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/typing/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(s.userID.String()),
	)
	request := TypingRequest{Typing: typing}
	if typing {
		request.Timeout = timeoutMS
	}
	if _, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, request); err != nil {
		return fmt.Errorf("messaging: typing notice in %q failed: %w", roomID, err)
	}
	return nil
}

// ResolveAlias resolves a room alias (e.g., "#lobby:example.org") to
// a room ID.
func (s *Session) ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	path := "/_matrix/client/v3/directory/room/" + url.PathEscape(alias.String())
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: resolve alias %q failed: %w", alias, err)
	}

	var response ResolveAliasResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse resolve alias response: %w", err)
	}
	return response.RoomID, nil
}
