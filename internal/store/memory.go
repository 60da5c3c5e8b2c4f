package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces the time source used to stamp users and messages.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// MemoryStore keeps users and messages in process memory. It is the default
// backend for development and the reference implementation in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]User
	byName   map[string]int64
	messages []Message
	nextUser int64
	nextMsg  int64
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		users:  make(map[int64]User),
		byName: make(map[string]int64),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreateUser returns the user named name, creating it if needed.
func (s *MemoryStore) GetOrCreateUser(ctx context.Context, name string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if err := ValidateUserName(name); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byName[name]; ok {
		return s.users[id], nil
	}
	s.nextUser++
	u := User{ID: s.nextUser, Name: name, CreatedAt: s.now().UTC()}
	s.users[u.ID] = u
	s.byName[name] = u.ID
	return u, nil
}

// GetUsers returns all users ordered by name.
func (s *MemoryStore) GetUsers(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	users := lo.Values(s.users)
	s.mu.RUnlock()
	slices.SortFunc(users, func(a, b User) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return users, nil
}

// LookupUsers returns the known users among ids.
func (s *MemoryStore) LookupUsers(ctx context.Context, ids []int64) (map[int64]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[int64]User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			result[id] = u
		}
	}
	return result, nil
}

// SaveMessage appends a message.
func (s *MemoryStore) SaveMessage(ctx context.Context, senderID, receiverID int64, data string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if err := ValidateMessage(senderID, receiverID); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsg++
	m := Message{
		ID:         s.nextMsg,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Data:       data,
		SentAt:     s.now().UTC(),
	}
	s.messages = append(s.messages, m)
	return m, nil
}

// GetMessageHistory returns up to limit messages between the two users,
// oldest first.
func (s *MemoryStore) GetMessageHistory(ctx context.Context, userID, otherUserID int64, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	history := lo.Filter(s.messages, func(m Message, _ int) bool {
		return (m.SenderID == userID && m.ReceiverID == otherUserID) ||
			(m.SenderID == otherUserID && m.ReceiverID == userID)
	})
	s.mu.RUnlock()

	slices.SortStableFunc(history, func(a, b Message) int {
		return cmp.Or(a.SentAt.Compare(b.SentAt), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

// RecentMessages returns up to limit messages involving userID, newest first.
func (s *MemoryStore) RecentMessages(ctx context.Context, userID int64, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	recent := lo.Filter(s.messages, func(m Message, _ int) bool {
		return m.SenderID == userID || m.ReceiverID == userID
	})
	s.mu.RUnlock()

	slices.SortStableFunc(recent, func(a, b Message) int {
		return cmp.Or(b.SentAt.Compare(a.SentAt), cmp.Compare(b.ID, a.ID))
	})
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	return recent, nil
}

// Count returns the number of stored messages.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
