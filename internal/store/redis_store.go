package store

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyUserSeq     = "user:seq"
	keyUsersByName = "users:byname"
	keyMessageSeq  = "message:seq"
)

func userKey(id int64) string {
	return "user:" + strconv.FormatInt(id, 10)
}

func userMessagesKey(id int64) string {
	return userKey(id) + ":messages"
}

func messageKey(member string) string {
	return "message:" + member
}

// conversationKey orders the pair so both participants share one key.
func conversationKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("conversation:%d:%d", a, b)
}

// messageMember zero-pads the id so members with equal scores sort by id.
func messageMember(id int64) string {
	return fmt.Sprintf("%019d", id)
}

// getOrCreateUser resolves a name to an id atomically so concurrent joins
// with the same name share one user. It only touches the keys it is given;
// the user hash is written by the caller.
var getOrCreateUser = redis.NewScript(`
local id = redis.call('HGET', KEYS[1], ARGV[1])
if not id then
  id = redis.call('INCR', KEYS[2])
  redis.call('HSET', KEYS[1], ARGV[1], id)
end
return tostring(id)
`)

// RedisStore persists users in hashes and messages as JSON strings indexed
// by per-user and per-conversation sorted sets scored by send time.
type RedisStore struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisStore creates a RedisStore on top of client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

// GetOrCreateUser returns the user named name, creating it if needed.
func (s *RedisStore) GetOrCreateUser(ctx context.Context, name string) (User, error) {
	if err := ValidateUserName(name); err != nil {
		return User{}, err
	}
	created := s.now().UTC().UnixMilli()
	raw, err := getOrCreateUser.Run(ctx, s.client,
		[]string{keyUsersByName, keyUserSeq},
		name,
	).Text()
	if err != nil {
		return User{}, fmt.Errorf("redis: get or create user: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return User{}, fmt.Errorf("redis: parse user id %q: %w", raw, err)
	}
	// HSETNX keeps the first writer's fields, so racing joins converge and a
	// hash lost between the script and this write is restored on next join.
	key := userKey(id)
	if _, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "name", name)
		pipe.HSetNX(ctx, key, "created_at", created)
		return nil
	}); err != nil {
		return User{}, fmt.Errorf("redis: write user %d: %w", id, err)
	}
	users, err := s.LookupUsers(ctx, []int64{id})
	if err != nil {
		return User{}, err
	}
	u, ok := users[id]
	if !ok {
		return User{}, fmt.Errorf("redis: user %d vanished after creation", id)
	}
	return u, nil
}

// GetUsers returns all users ordered by name.
func (s *RedisStore) GetUsers(ctx context.Context) ([]User, error) {
	byName, err := s.client.HGetAll(ctx, keyUsersByName).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list users: %w", err)
	}
	ids := make([]int64, 0, len(byName))
	for _, v := range byName {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	found, err := s.LookupUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(found))
	for _, u := range found {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b User) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return users, nil
}

// LookupUsers returns the known users among ids.
func (s *RedisStore) LookupUsers(ctx context.Context, ids []int64) (map[int64]User, error) {
	result := make(map[int64]User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	pipe := s.client.Pipeline()
	cmds := make(map[int64]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, userKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: lookup users: %w", err)
	}
	for id, cmd := range cmds {
		fields := cmd.Val()
		name, ok := fields["name"]
		if !ok {
			continue
		}
		ms, _ := strconv.ParseInt(fields["created_at"], 10, 64)
		result[id] = User{ID: id, Name: name, CreatedAt: time.UnixMilli(ms).UTC()}
	}
	return result, nil
}

// SaveMessage appends a message and indexes it for both participants.
func (s *RedisStore) SaveMessage(ctx context.Context, senderID, receiverID int64, data string) (Message, error) {
	if err := ValidateMessage(senderID, receiverID); err != nil {
		return Message{}, err
	}
	id, err := s.client.Incr(ctx, keyMessageSeq).Result()
	if err != nil {
		return Message{}, fmt.Errorf("redis: allocate message id: %w", err)
	}
	m := Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Data:       data,
		SentAt:     s.now().UTC(),
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return Message{}, fmt.Errorf("redis: marshal message: %w", err)
	}

	member := messageMember(id)
	z := redis.Z{Score: float64(m.SentAt.UnixMilli()), Member: member}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, messageKey(member), payload, 0)
	pipe.ZAdd(ctx, userMessagesKey(senderID), z)
	if receiverID != senderID {
		pipe.ZAdd(ctx, userMessagesKey(receiverID), z)
	}
	pipe.ZAdd(ctx, conversationKey(senderID, receiverID), z)
	if _, err := pipe.Exec(ctx); err != nil {
		return Message{}, fmt.Errorf("redis: save message: %w", err)
	}
	return m, nil
}

// GetMessageHistory returns up to limit messages between the two users,
// oldest first.
func (s *RedisStore) GetMessageHistory(ctx context.Context, userID, otherUserID int64, limit int) ([]Message, error) {
	members, err := s.client.ZRange(ctx, conversationKey(userID, otherUserID), 0, stop(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read history: %w", err)
	}
	return s.loadMessages(ctx, members)
}

// RecentMessages returns up to limit messages involving userID, newest first.
func (s *RedisStore) RecentMessages(ctx context.Context, userID int64, limit int) ([]Message, error) {
	members, err := s.client.ZRevRange(ctx, userMessagesKey(userID), 0, stop(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read recent messages: %w", err)
	}
	return s.loadMessages(ctx, members)
}

// stop converts a limit into an inclusive sorted-set range end.
func stop(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit - 1)
}

func (s *RedisStore) loadMessages(ctx context.Context, members []string) ([]Message, error) {
	if len(members) == 0 {
		return []Message{}, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = messageKey(m)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load messages: %w", err)
	}
	msgs := make([]Message, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(str), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Close closes the underlying client when the store owns one.
func (s *RedisStore) Close() error {
	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
