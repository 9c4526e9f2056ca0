// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// UserID is a validated Matrix user ID (e.g., "@alice:example.org").
// The localpart and server name are retained as one opaque string;
// Loom only needs identity comparison and display.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string. A user
// ID starts with '@' and contains a ':' separating the localpart from
// the server name.
func ParseUserID(raw string) (UserID, error) {
	if err := validateSigil(raw, '@', "user ID"); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// Localpart returns the part between '@' and ':' (e.g., "alice").
func (u UserID) Localpart() string {
	rest := strings.TrimPrefix(u.id, "@")
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		return rest[:i]
	}
	return rest
}

func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value.
func (u UserID) IsZero() bool { return u.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) { return marshalID(u.id) }

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (u *UserID) UnmarshalText(data []byte) error {
	return unmarshalID(data, ParseUserID, (*UserID)(u))
}

// RoomID is a validated Matrix room ID (e.g., "!abc123:example.org").
// Room IDs are server-assigned opaque identifiers; rooms are keyed by
// them for the lifetime of an account, never by any transient buffer
// handle.
type RoomID struct {
	id string
}

// ParseRoomID validates and wraps a raw Matrix room ID string. A room
// ID starts with '!' and contains a ':' separating the opaque
// localpart from the server name.
func ParseRoomID(raw string) (RoomID, error) {
	if err := validateSigil(raw, '!', "room ID"); err != nil {
		return RoomID{}, err
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID is like ParseRoomID but panics on error.
func MustParseRoomID(raw string) RoomID {
	r, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return r
}

func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value.
func (r RoomID) IsZero() bool { return r.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) { return marshalID(r.id) }

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (r *RoomID) UnmarshalText(data []byte) error {
	return unmarshalID(data, ParseRoomID, (*RoomID)(r))
}

// RoomAlias is a validated Matrix room alias (e.g., "#lobby:example.org").
type RoomAlias struct {
	id string
}

// ParseRoomAlias validates and wraps a raw Matrix room alias string.
func ParseRoomAlias(raw string) (RoomAlias, error) {
	if err := validateSigil(raw, '#', "room alias"); err != nil {
		return RoomAlias{}, err
	}
	return RoomAlias{id: raw}, nil
}

func (a RoomAlias) String() string { return a.id }

// IsZero reports whether the RoomAlias is the zero value.
func (a RoomAlias) IsZero() bool { return a.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (a RoomAlias) MarshalText() ([]byte, error) { return marshalID(a.id) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *RoomAlias) UnmarshalText(data []byte) error {
	return unmarshalID(data, ParseRoomAlias, (*RoomAlias)(a))
}

// EventID is a validated Matrix event ID (e.g., "$abc123xyz"). Room
// version 4+ event IDs are "$base64hash" with no server suffix; older
// versions carry ":server". Loom treats them as opaque — the only
// validation is the '$' sigil and a non-empty remainder.
type EventID struct {
	id string
}

// ParseEventID validates and wraps a raw Matrix event ID string.
func ParseEventID(raw string) (EventID, error) {
	if raw == "" {
		return EventID{}, fmt.Errorf("empty event ID")
	}
	if raw[0] != '$' {
		return EventID{}, fmt.Errorf("event ID must start with '$': %q", raw)
	}
	if len(raw) < 2 {
		return EventID{}, fmt.Errorf("event ID has no content after '$': %q", raw)
	}
	return EventID{id: raw}, nil
}

// MustParseEventID is like ParseEventID but panics on error.
func MustParseEventID(raw string) EventID {
	e, err := ParseEventID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseEventID(%q): %v", raw, err))
	}
	return e
}

func (e EventID) String() string { return e.id }

// IsZero reports whether the EventID is the zero value.
func (e EventID) IsZero() bool { return e.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (e EventID) MarshalText() ([]byte, error) { return marshalID(e.id) }

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (e *EventID) UnmarshalText(data []byte) error {
	return unmarshalID(data, ParseEventID, (*EventID)(e))
}

// EventType is a Matrix event type string (e.g., "m.room.message").
// Event types are dot-separated reverse-DNS style names. Validation is
// minimal: non-empty, no whitespace.
type EventType struct {
	name string
}

// ParseEventType validates and wraps a raw event type string.
func ParseEventType(raw string) (EventType, error) {
	if raw == "" {
		return EventType{}, fmt.Errorf("empty event type")
	}
	if strings.ContainsAny(raw, " \t\n") {
		return EventType{}, fmt.Errorf("event type contains whitespace: %q", raw)
	}
	return EventType{name: raw}, nil
}

func (t EventType) String() string { return t.name }

// IsZero reports whether the EventType is the zero value.
func (t EventType) IsZero() bool { return t.name == "" }

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) { return marshalID(t.name) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EventType) UnmarshalText(data []byte) error {
	return unmarshalID(data, ParseEventType, (*EventType)(t))
}

// validateSigil checks the shared shape of sigil-prefixed Matrix
// identifiers: "<sigil>localpart:servername" with all three parts
// non-empty.
func validateSigil(raw string, sigil byte, kind string) error {
	if raw == "" {
		return fmt.Errorf("empty %s", kind)
	}
	if raw[0] != sigil {
		return fmt.Errorf("%s must start with %q: %q", kind, string(sigil), raw)
	}
	colonIndex := strings.IndexByte(raw[1:], ':')
	if colonIndex < 0 {
		return fmt.Errorf("%s missing ':server' suffix: %q", kind, raw)
	}
	if colonIndex == 0 {
		return fmt.Errorf("%s has empty localpart: %q", kind, raw)
	}
	if raw[1+colonIndex+1:] == "" {
		return fmt.Errorf("%s has empty server name: %q", kind, raw)
	}
	return nil
}

func marshalID(id string) ([]byte, error) {
	if id == "" {
		return nil, nil
	}
	return []byte(id), nil
}

func unmarshalID[T any](data []byte, parse func(string) (T, error), out *T) error {
	if len(data) == 0 {
		var zero T
		*out = zero
		return nil
	}
	parsed, err := parse(string(data))
	if err != nil {
		return err
	}
	*out = parsed
	return nil
}
