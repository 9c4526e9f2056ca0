// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// scriptedResponse is one canned homeserver reply.
type scriptedResponse struct {
	status int
	body   string
}

// recordedRequest captures one request the mock received.
type recordedRequest struct {
	method string
	path   string
	query  url.Values
	body   string
}

// mockHomeserver is a scriptable homeserver for worker and supervisor
// tests. /sync replies are consumed from a queue; when the queue is
// empty the handler parks until the client disconnects, which models
// an idle long-poll. All other endpoints either return canned
// successes or a per-path scripted response.
type mockHomeserver struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	syncQueue     []scriptedResponse
	pathResponses map[string]scriptedResponse
	requests      []recordedRequest
	loginCount    int
}

func newMockHomeserver(t *testing.T) *mockHomeserver {
	t.Helper()
	mock := &mockHomeserver{
		t:             t,
		pathResponses: make(map[string]scriptedResponse),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	t.Cleanup(mock.server.Close)
	return mock
}

func (m *mockHomeserver) URL() string { return m.server.URL }

// queueSync appends a /sync reply to the script.
func (m *mockHomeserver) queueSync(status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncQueue = append(m.syncQueue, scriptedResponse{status: status, body: body})
}

// respond scripts the reply for any non-sync path (matched by
// substring, first match wins).
func (m *mockHomeserver) respond(pathFragment string, status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pathResponses[pathFragment] = scriptedResponse{status: status, body: body}
}

// recorded returns the requests whose path contains the fragment.
func (m *mockHomeserver) recorded(pathFragment string) []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []recordedRequest
	for _, request := range m.requests {
		if strings.Contains(request.path, pathFragment) {
			matches = append(matches, request)
		}
	}
	return matches
}

func (m *mockHomeserver) logins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginCount
}

func (m *mockHomeserver) handle(w http.ResponseWriter, r *http.Request) {
	var body strings.Builder
	if r.Body != nil {
		buffer := make([]byte, 64*1024)
		for {
			n, err := r.Body.Read(buffer)
			body.Write(buffer[:n])
			if err != nil {
				break
			}
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, recordedRequest{
		method: r.Method,
		path:   r.URL.Path,
		query:  r.URL.Query(),
		body:   body.String(),
	})
	m.mu.Unlock()

	switch {
	case strings.HasSuffix(r.URL.Path, "/sync"):
		m.handleSync(w, r)

	case strings.HasSuffix(r.URL.Path, "/login"):
		m.mu.Lock()
		m.loginCount++
		scripted, ok := m.pathResponses["/login"]
		m.mu.Unlock()
		if ok {
			writeJSON(w, scripted.status, scripted.body)
			return
		}
		writeJSON(w, http.StatusOK, `{
			"user_id": "@alice:example.org",
			"access_token": "syt-test-token",
			"device_id": "LOOMDEV"
		}`)

	default:
		m.mu.Lock()
		var scripted scriptedResponse
		var ok bool
		for fragment, response := range m.pathResponses {
			if strings.Contains(r.URL.Path, fragment) {
				scripted, ok = response, true
				break
			}
		}
		m.mu.Unlock()
		if ok {
			writeJSON(w, scripted.status, scripted.body)
			return
		}
		// Default success shapes for the endpoints the router hits.
		switch {
		case strings.Contains(r.URL.Path, "/send/"), strings.Contains(r.URL.Path, "/redact/"):
			writeJSON(w, http.StatusOK, `{"event_id": "$sent:example.org"}`)
		case strings.Contains(r.URL.Path, "/join/"):
			writeJSON(w, http.StatusOK, `{"room_id": "!room:example.org"}`)
		case strings.Contains(r.URL.Path, "/messages"):
			writeJSON(w, http.StatusOK, `{"start": "s", "end": "", "chunk": []}`)
		default:
			writeJSON(w, http.StatusOK, `{}`)
		}
	}
}

func (m *mockHomeserver) handleSync(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	var next *scriptedResponse
	if len(m.syncQueue) > 0 {
		next = &m.syncQueue[0]
		m.syncQueue = m.syncQueue[1:]
	}
	m.mu.Unlock()

	if next == nil {
		// Script exhausted: behave like an idle long-poll and hold
		// the request until the client goes away.
		<-r.Context().Done()
		return
	}
	writeJSON(w, next.status, next.body)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

// syncBody builds a minimal /sync response with one joined room.
func syncBody(nextBatch, roomID string, timelineEvents []string, extra string) string {
	events := "[" + strings.Join(timelineEvents, ",") + "]"
	room := fmt.Sprintf(`{"timeline": {"events": %s, "prev_batch": "pb-%s"}%s}`, events, nextBatch, extra)
	return fmt.Sprintf(`{"next_batch": %q, "rooms": {"join": {%q: %s}}}`, nextBatch, roomID, room)
}

// messageJSON builds an m.room.message event.
func messageJSON(eventID, sender string, ts int64, body string) string {
	event := map[string]any{
		"event_id":         eventID,
		"type":             "m.room.message",
		"sender":           sender,
		"origin_server_ts": ts,
		"content":          map[string]any{"msgtype": "m.text", "body": body},
	}
	data, _ := json.Marshal(event)
	return string(data)
}
