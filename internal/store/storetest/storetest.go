// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/christopherjohns/realchat/internal/store"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run exercises the store.Store contract against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetOrCreateUserIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.GetOrCreateUser(ctx, "Alice")
		if err != nil {
			t.Fatalf("create alice: %v", err)
		}
		if a.ID <= 0 {
			t.Fatalf("expected positive id, got %d", a.ID)
		}
		if a.CreatedAt.IsZero() {
			t.Error("expected created_at to be set")
		}
		again, err := s.GetOrCreateUser(ctx, "Alice")
		if err != nil {
			t.Fatalf("get alice: %v", err)
		}
		if again.ID != a.ID {
			t.Errorf("expected same id %d, got %d", a.ID, again.ID)
		}
	})

	t.Run("NamesAreCaseSensitive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		upper, _ := s.GetOrCreateUser(ctx, "Alice")
		lower, err := s.GetOrCreateUser(ctx, "alice")
		if err != nil {
			t.Fatalf("create alice: %v", err)
		}
		if upper.ID == lower.ID {
			t.Error("expected Alice and alice to be distinct users")
		}
	})

	t.Run("RejectsInvalidNames", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if _, err := s.GetOrCreateUser(ctx, ""); !errors.Is(err, store.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for empty name, got %v", err)
		}
		long := strings.Repeat("x", store.MaxNameLength+1)
		if _, err := s.GetOrCreateUser(ctx, long); !errors.Is(err, store.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for long name, got %v", err)
		}
	})

	t.Run("ConcurrentCreateYieldsOneUser", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const n = 20
		ids := make([]int64, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				u, err := s.GetOrCreateUser(ctx, "bob")
				ids[i], errs[i] = u.ID, err
			}(i)
		}
		wg.Wait()
		for i := 0; i < n; i++ {
			if errs[i] != nil {
				t.Fatalf("call %d: %v", i, errs[i])
			}
			if ids[i] != ids[0] {
				t.Fatalf("expected one user id, got %d and %d", ids[0], ids[i])
			}
		}
		users, err := s.GetUsers(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(users) != 1 {
			t.Errorf("expected 1 user, got %d", len(users))
		}
	})

	t.Run("GetUsersOrderedByName", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, name := range []string{"carol", "alice", "bob"} {
			if _, err := s.GetOrCreateUser(ctx, name); err != nil {
				t.Fatal(err)
			}
		}
		users, err := s.GetUsers(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var names []string
		for _, u := range users {
			names = append(names, u.Name)
		}
		if got := strings.Join(names, ","); got != "alice,bob,carol" {
			t.Errorf("expected alice,bob,carol, got %s", got)
		}
	})

	t.Run("LookupUsersSkipsUnknown", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a, _ := s.GetOrCreateUser(ctx, "alice")

		found, err := s.LookupUsers(ctx, []int64{a.ID, a.ID + 100})
		if err != nil {
			t.Fatal(err)
		}
		if len(found) != 1 || found[a.ID].Name != "alice" {
			t.Errorf("expected only alice, got %+v", found)
		}
		empty, err := s.LookupUsers(ctx, nil)
		if err != nil || len(empty) != 0 {
			t.Errorf("expected empty lookup, got %v %v", empty, err)
		}
	})

	t.Run("SaveMessageStampsFields", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		m, err := s.SaveMessage(ctx, 1, 2, "hello")
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if m.ID <= 0 || m.SenderID != 1 || m.ReceiverID != 2 || m.Data != "hello" {
			t.Errorf("unexpected message %+v", m)
		}
		if m.SentAt.IsZero() {
			t.Error("expected sent_at to be set")
		}
		if _, err := s.SaveMessage(ctx, 0, 2, "x"); !errors.Is(err, store.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for sender 0, got %v", err)
		}
	})

	t.Run("HistoryIsAscendingAndScoped", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		mustSave(t, s, 1, 2, "one")
		mustSave(t, s, 2, 1, "two")
		mustSave(t, s, 1, 3, "elsewhere")
		mustSave(t, s, 1, 2, "three")

		history, err := s.GetMessageHistory(ctx, 2, 1, 200)
		if err != nil {
			t.Fatal(err)
		}
		if got := joinData(history); got != "one,two,three" {
			t.Errorf("expected one,two,three, got %s", got)
		}

		capped, err := s.GetMessageHistory(ctx, 1, 2, 2)
		if err != nil {
			t.Fatal(err)
		}
		if got := joinData(capped); got != "one,two" {
			t.Errorf("expected the oldest two messages, got %s", got)
		}
	})

	t.Run("RecentMessagesNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			mustSave(t, s, 1, int64(2+i%2), fmt.Sprintf("m%d", i))
		}
		mustSave(t, s, 7, 8, "unrelated")

		recent, err := s.RecentMessages(ctx, 1, 3)
		if err != nil {
			t.Fatal(err)
		}
		if got := joinData(recent); got != "m4,m3,m2" {
			t.Errorf("expected m4,m3,m2, got %s", got)
		}
		none, err := s.RecentMessages(ctx, 42, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(none) != 0 {
			t.Errorf("expected no messages, got %d", len(none))
		}
	})
}

func mustSave(t *testing.T, s store.Store, from, to int64, data string) {
	t.Helper()
	if _, err := s.SaveMessage(context.Background(), from, to, data); err != nil {
		t.Fatalf("save %q: %v", data, err)
	}
}

func joinData(msgs []store.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Data
	}
	return strings.Join(parts, ",")
}
