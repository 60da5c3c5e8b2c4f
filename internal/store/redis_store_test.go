package store_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/christopherjohns/realchat/internal/store"
	"github.com/christopherjohns/realchat/internal/store/storetest"
)

func newTestRedisStore(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStore(client)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, _ := newTestRedisStore(t)
		return s
	})
}

func TestRedisStoreKeyLayout(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	alice, err := s.GetOrCreateUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	bob, _ := s.GetOrCreateUser(ctx, "bob")
	if _, err := s.SaveMessage(ctx, bob.ID, alice.ID, "hi"); err != nil {
		t.Fatal(err)
	}

	if got := mr.HGet("users:byname", "alice"); got != "1" {
		t.Errorf("expected alice -> 1, got %q", got)
	}
	if got := mr.HGet("user:2", "name"); got != "bob" {
		t.Errorf("expected user:2 name bob, got %q", got)
	}
	for _, key := range []string{"user:1:messages", "user:2:messages", "conversation:1:2"} {
		members, err := mr.ZMembers(key)
		if err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		if len(members) != 1 {
			t.Errorf("%s: expected 1 member, got %v", key, members)
		}
	}
	if !mr.Exists("message:0000000000000000001") {
		t.Error("expected message payload key")
	}
}

func TestRedisStoreRestoresMissingUserHash(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	// Name index written, user hash never written.
	mr.HSet("users:byname", "carol", "7")

	u, err := s.GetOrCreateUser(ctx, "carol")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if u.ID != 7 || u.Name != "carol" {
		t.Fatalf("expected carol as user 7, got %+v", u)
	}
	if got := mr.HGet("user:7", "name"); got != "carol" {
		t.Errorf("expected user:7 hash restored, got name %q", got)
	}
	createdAt := mr.HGet("user:7", "created_at")

	again, err := s.GetOrCreateUser(ctx, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != 7 || mr.HGet("user:7", "created_at") != createdAt {
		t.Errorf("expected second join to keep the first creation time, got %+v", again)
	}
}

func TestRedisStoreSelfMessageIndexedOnce(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := s.SaveMessage(ctx, 3, 3, "note to self"); err != nil {
		t.Fatal(err)
	}
	members, _ := mr.ZMembers("user:3:messages")
	if len(members) != 1 {
		t.Fatalf("expected one index entry, got %v", members)
	}
	recent, err := s.RecentMessages(ctx, 3, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 {
		t.Errorf("expected 1 recent message, got %d", len(recent))
	}
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.Close()

	if _, err := s.SaveMessage(context.Background(), 1, 2, "lost"); err == nil {
		t.Fatal("expected error when redis is down")
	}
	if _, err := s.GetOrCreateUser(context.Background(), "alice"); err == nil {
		t.Fatal("expected error when redis is down")
	}
}
