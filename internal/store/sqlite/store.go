// Package sqlite provides a SQLite-backed chat store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/christopherjohns/realchat/internal/store"
	"github.com/christopherjohns/realchat/internal/store/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists users and messages in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer; a single connection keeps writes serialized
	// instead of surfacing SQLITE_BUSY to callers.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetOrCreateUser returns the user named name, inserting it on first use.
func (s *Store) GetOrCreateUser(ctx context.Context, name string) (store.User, error) {
	if err := store.ValidateUserName(name); err != nil {
		return store.User{}, err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, toMillis(s.now()),
	); err != nil {
		return store.User{}, fmt.Errorf("insert user: %w", err)
	}

	var (
		u       store.User
		created int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM users WHERE name = ?`, name,
	).Scan(&u.ID, &u.Name, &created)
	if err != nil {
		return store.User{}, fmt.Errorf("select user: %w", err)
	}
	u.CreatedAt = fromMillis(created)
	return u, nil
}

// GetUsers returns all users ordered by name.
func (s *Store) GetUsers(ctx context.Context) ([]store.User, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, name, created_at FROM users ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []store.User{}
	for rows.Next() {
		var (
			u       store.User
			created int64
		)
		if err := rows.Scan(&u.ID, &u.Name, &created); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = fromMillis(created)
		users = append(users, u)
	}
	return users, rows.Err()
}

// LookupUsers returns the known users among ids.
func (s *Store) LookupUsers(ctx context.Context, ids []int64) (map[int64]store.User, error) {
	result := make(map[int64]store.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, created_at FROM users WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			u       store.User
			created int64
		)
		if err := rows.Scan(&u.ID, &u.Name, &created); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = fromMillis(created)
		result[u.ID] = u
	}
	return result, rows.Err()
}

// SaveMessage appends a message.
func (s *Store) SaveMessage(ctx context.Context, senderID, receiverID int64, data string) (store.Message, error) {
	if err := store.ValidateMessage(senderID, receiverID); err != nil {
		return store.Message{}, err
	}
	m := store.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Data:       data,
		SentAt:     fromMillis(toMillis(s.now())),
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, data, sent_at) VALUES (?, ?, ?, ?)`,
		m.SenderID, m.ReceiverID, m.Data, toMillis(m.SentAt),
	)
	if err != nil {
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return store.Message{}, fmt.Errorf("message id: %w", err)
	}
	return m, nil
}

// GetMessageHistory returns up to limit messages between the two users,
// oldest first.
func (s *Store) GetMessageHistory(ctx context.Context, userID, otherUserID int64, limit int) ([]store.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, sender_id, receiver_id, data, sent_at FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY sent_at ASC, id ASC
		 LIMIT ?`,
		userID, otherUserID, otherUserID, userID, sqlLimit(limit),
	)
}

// RecentMessages returns up to limit messages involving userID, newest first.
func (s *Store) RecentMessages(ctx context.Context, userID int64, limit int) ([]store.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, sender_id, receiver_id, data, sent_at FROM messages
		 WHERE sender_id = ? OR receiver_id = ?
		 ORDER BY sent_at DESC, id DESC
		 LIMIT ?`,
		userID, userID, sqlLimit(limit),
	)
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]store.Message, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []store.Message{}
	for rows.Next() {
		var (
			m    store.Message
			sent int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Data, &sent); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SentAt = fromMillis(sent)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

var _ store.Store = (*Store)(nil)
