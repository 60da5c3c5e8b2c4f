package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/christopherjohns/realchat/internal/store"
	"github.com/christopherjohns/realchat/internal/store/storetest"
)

func TestMemoryStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemoryStore()
	})
}

func TestMemoryStoreWithClock(t *testing.T) {
	at := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	s := store.NewMemoryStore(store.WithClock(func() time.Time { return at }))

	m, err := s.SaveMessage(context.Background(), 1, 2, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if !m.SentAt.Equal(at) {
		t.Errorf("expected sent_at %v, got %v", at, m.SentAt)
	}
	if s.Count() != 1 {
		t.Errorf("expected 1 message, got %d", s.Count())
	}
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	s := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.SaveMessage(ctx, 1, 2, "hi"); err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if s.Count() != 0 {
		t.Errorf("expected nothing persisted, got %d", s.Count())
	}
}

func TestMessageCounterpart(t *testing.T) {
	m := store.Message{SenderID: 1, ReceiverID: 2}
	if m.Counterpart(1) != 2 || m.Counterpart(2) != 1 {
		t.Errorf("unexpected counterparts %d %d", m.Counterpart(1), m.Counterpart(2))
	}
}
