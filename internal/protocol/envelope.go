// Package protocol defines the wire types exchanged between chat clients
// and the hub, and the validation applied to inbound envelopes.
package protocol

import (
	"encoding/json"
	"strings"
)

// Type is the closed set of envelope kinds.
type Type int

const (
	TypeUnknown Type = iota
	TypeConnect
	TypeChat
	TypeTyping
	TypeError
)

var typeNames = map[Type]string{
	TypeConnect: "connect",
	TypeChat:    "chat",
	TypeTyping:  "typing",
	TypeError:   "error",
}

// ParseType maps a wire name to a Type, ignoring case. Unrecognized names
// yield TypeUnknown and false.
func ParseType(s string) (Type, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == s {
			return t, true
		}
	}
	return TypeUnknown, false
}

// String returns the wire name, or "" for TypeUnknown.
func (t Type) String() string {
	return typeNames[t]
}

// Valid reports whether t is one of the recognized kinds.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// MarshalJSON encodes the type as its lower-case wire name.
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON never fails on an unrecognized name; the value becomes
// TypeUnknown so Validate can report it to the client.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*t = TypeUnknown
		return nil
	}
	*t, _ = ParseType(s)
	return nil
}

// Envelope is the uniform message exchanged over a hub connection.
type Envelope struct {
	Type       Type    `json:"type"`
	SenderID   string  `json:"senderId,omitempty"`
	ReceiverID string  `json:"receiverId,omitempty"`
	Data       *string `json:"data,omitempty"`
}

// ErrorEnvelope builds the private diagnostic sent to a misbehaving caller.
func ErrorEnvelope(msg string) Envelope {
	return Envelope{Type: TypeError, Data: &msg}
}

// DataString returns the payload text, or "" when data is absent.
func (e *Envelope) DataString() string {
	if e == nil || e.Data == nil {
		return ""
	}
	return *e.Data
}

// JoinResult is returned to the caller of Join.
type JoinResult struct {
	Success bool  `json:"success"`
	UserID  int64 `json:"userId"`
}

// EventName identifies a server-to-client push.
type EventName string

const (
	EventReceiveMessage EventName = "ReceiveMessage"
	EventUserOnline     EventName = "UserOnline"
	EventUserOffline    EventName = "UserOffline"
)

// Event is a push delivered to a connection or a group.
type Event struct {
	Name    EventName
	Payload any
}

// ReceiveMessage wraps an envelope for delivery.
func ReceiveMessage(env Envelope) Event {
	return Event{Name: EventReceiveMessage, Payload: env}
}

// UserOnline announces that userID has a live connection.
func UserOnline(userID int64) Event {
	return Event{Name: EventUserOnline, Payload: userID}
}

// UserOffline announces that userID has no live connection left.
func UserOffline(userID int64) Event {
	return Event{Name: EventUserOffline, Payload: userID}
}
