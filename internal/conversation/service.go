// Package conversation answers the read-only queries behind the REST API:
// the user directory, per-user conversation lists and pairwise history.
package conversation

import (
	"context"
	"fmt"
	"time"
	"unicode/utf16"

	"github.com/christopherjohns/realchat/internal/protocol"
	"github.com/christopherjohns/realchat/internal/store"
	"github.com/samber/lo"
)

const (
	// DefaultLimit caps the number of conversations returned per user.
	DefaultLimit = 100

	// PreviewLength is the number of UTF-16 code units kept in a message
	// preview, the same unit protocol.MaxDataLength is counted in.
	PreviewLength = 80

	// HistoryLimit caps the messages returned for one conversation.
	HistoryLimit = 200

	// overfetch multiplies the conversation limit to size the message scan.
	overfetch = 2
)

// Store is the subset of the persistence layer the queries read from.
type Store interface {
	GetUsers(ctx context.Context) ([]store.User, error)
	LookupUsers(ctx context.Context, ids []int64) (map[int64]store.User, error)
	RecentMessages(ctx context.Context, userID int64, limit int) ([]store.Message, error)
	GetMessageHistory(ctx context.Context, userID, otherUserID int64, limit int) ([]store.Message, error)
}

// User is the public projection of a user.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Summary describes the latest exchange between a user and one counterpart.
type Summary struct {
	OtherUserID        int64     `json:"otherUserId"`
	OtherUserName      string    `json:"otherUserName"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	LastMessagePreview string    `json:"lastMessagePreview"`
}

// Option configures a Service.
type Option func(*Service)

// WithLimit sets the maximum number of conversations per user. Values
// below 1 keep the default.
func WithLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

// Service runs conversation queries against a Store.
type Service struct {
	store Store
	limit int
}

// NewService creates a Service.
func NewService(st Store, opts ...Option) *Service {
	s := &Service{store: st, limit: DefaultLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetUsers returns every user ordered by name.
func (s *Service) GetUsers(ctx context.Context) ([]User, error) {
	users, err := s.store.GetUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return lo.Map(users, func(u store.User, _ int) User {
		return User{ID: u.ID, Name: u.Name}
	}), nil
}

// GetRecentConversations returns one summary per counterpart of userID,
// most recent first.
//
// Only the newest limit*2 messages are scanned, so a user with many
// chatty counterparts may see fewer than limit conversations.
func (s *Service) GetRecentConversations(ctx context.Context, userID int64) ([]Summary, error) {
	msgs, err := s.store.RecentMessages(ctx, userID, s.limit*overfetch)
	if err != nil {
		return nil, fmt.Errorf("recent messages for user %d: %w", userID, err)
	}

	latest := lo.UniqBy(msgs, func(m store.Message) int64 {
		return m.Counterpart(userID)
	})
	if len(latest) > s.limit {
		latest = latest[:s.limit]
	}

	names, err := s.store.LookupUsers(ctx, lo.Map(latest, func(m store.Message, _ int) int64 {
		return m.Counterpart(userID)
	}))
	if err != nil {
		return nil, fmt.Errorf("resolve counterparts for user %d: %w", userID, err)
	}

	summaries := make([]Summary, 0, len(latest))
	for _, m := range latest {
		other := m.Counterpart(userID)
		summaries = append(summaries, Summary{
			OtherUserID:        other,
			OtherUserName:      names[other].Name,
			LastMessageAt:      m.SentAt,
			LastMessagePreview: Preview(m.Data),
		})
	}
	return summaries, nil
}

// GetMessageHistory returns up to HistoryLimit messages between the two
// users, oldest first.
func (s *Service) GetMessageHistory(ctx context.Context, userID, otherUserID int64) ([]store.Message, error) {
	msgs, err := s.store.GetMessageHistory(ctx, userID, otherUserID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("history between %d and %d: %w", userID, otherUserID, err)
	}
	return msgs, nil
}

// Preview shortens data to PreviewLength UTF-16 code units, appending "..."
// when anything was cut. A surrogate pair straddling the boundary is dropped
// whole rather than split.
func Preview(data string) string {
	if protocol.DataLength(data) <= PreviewLength {
		return data
	}
	units := 0
	for i, r := range data {
		units += utf16.RuneLen(r)
		if units > PreviewLength {
			return data[:i] + "..."
		}
	}
	return data
}
