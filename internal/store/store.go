// Package store persists chat users and direct messages.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInput is returned for arguments a backend refuses to persist.
var ErrInvalidInput = errors.New("store: invalid input")

// MaxNameLength bounds a user's display name, in characters.
const MaxNameLength = 256

// User is a chat participant identified by a unique display name.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is one persisted direct message. Messages are never edited.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Data       string    `json:"data"`
	SentAt     time.Time `json:"sentAt"`
}

// Counterpart returns the participant of m that is not userID.
func (m Message) Counterpart(userID int64) int64 {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Store is implemented by every persistence backend.
type Store interface {
	// GetOrCreateUser returns the user with exactly this name, creating it
	// on first use. Concurrent calls with the same name yield one user.
	GetOrCreateUser(ctx context.Context, name string) (User, error)
	// GetUsers returns all users ordered by name.
	GetUsers(ctx context.Context) ([]User, error)
	// LookupUsers returns the users among ids that exist, keyed by ID.
	LookupUsers(ctx context.Context, ids []int64) (map[int64]User, error)
	// SaveMessage appends a message and stamps it with the current time.
	SaveMessage(ctx context.Context, senderID, receiverID int64, data string) (Message, error)
	// GetMessageHistory returns the oldest limit messages exchanged between
	// the two users, ascending by SentAt.
	GetMessageHistory(ctx context.Context, userID, otherUserID int64, limit int) ([]Message, error)
	// RecentMessages returns up to limit messages sent or received by
	// userID, newest first.
	RecentMessages(ctx context.Context, userID int64, limit int) ([]Message, error)
	Close() error
}

// ValidateUserName checks a normalized display name before it is stored.
func ValidateUserName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: user name is required", ErrInvalidInput)
	}
	if len([]rune(name)) > MaxNameLength {
		return fmt.Errorf("%w: user name exceeds %d characters", ErrInvalidInput, MaxNameLength)
	}
	return nil
}

// ValidateMessage checks message participants before they are stored.
func ValidateMessage(senderID, receiverID int64) error {
	if senderID <= 0 || receiverID <= 0 {
		return fmt.Errorf("%w: sender and receiver ids must be positive", ErrInvalidInput)
	}
	return nil
}
