package protocol

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// MaxDataLength bounds the data of a chat message, in UTF-16 code units so
// the limit matches what browser clients measure with String.length.
const MaxDataLength = 4096

// ValidationError describes why an envelope was rejected. Message is safe to
// show to the client.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// Validate checks the shape of env against its declared type. It returns nil
// for a valid envelope and stops at the first violated rule.
func Validate(env *Envelope) error {
	if env == nil {
		return invalid("", "Message is null.")
	}
	if !env.Type.Valid() {
		return invalid("type", "Invalid or missing 'type'. Must be one of: connect, chat, typing, error.")
	}
	if isBlank(env.SenderID) {
		return invalid("senderId", "Missing or empty 'senderId'.")
	}

	switch env.Type {
	case TypeConnect, TypeError:
		return nil
	case TypeChat:
		if isBlank(env.ReceiverID) {
			return invalid("receiverId", "Missing or empty 'receiverId' for chat message.")
		}
		if env.Data == nil {
			return invalid("data", "Missing 'data' for chat message.")
		}
		if DataLength(*env.Data) > MaxDataLength {
			return invalid("data", fmt.Sprintf("Message 'data' exceeds maximum length of %d.", MaxDataLength))
		}
		return nil
	case TypeTyping:
		if isBlank(env.ReceiverID) {
			return invalid("receiverId", "Missing or empty 'receiverId' for typing indicator.")
		}
		return nil
	}
	return invalid("type", "Unknown message type.")
}

// DataLength counts s in UTF-16 code units.
func DataLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
