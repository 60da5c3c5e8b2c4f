package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/christopherjohns/realchat/internal/conversation"
	"github.com/christopherjohns/realchat/internal/store"
	"github.com/christopherjohns/realchat/internal/ws"
)

type staticPresence []int64

func (p staticPresence) OnlineUserIDs() []int64 { return p }

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) GetUsers(context.Context) ([]store.User, error) {
	return nil, errors.New("disk on fire")
}

func newTestServer(t *testing.T, st conversation.Store, opts ...Option) *Server {
	t.Helper()
	return New(":0", Deps{
		Presence:      staticPresence{1, 2},
		Conversations: conversation.NewService(st),
		Conns:         ws.NewConnManager(),
	}, opts...)
}

func serve(srv *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	w := serve(srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if body := decode[map[string]string](t, w); body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", body["status"])
	}
}

func TestRootEndpoint(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	w := serve(srv, http.MethodGet, "/", nil)
	body := decode[map[string]string](t, w)
	if body["name"] != Name || body["status"] != "running" {
		t.Errorf("unexpected body %v", body)
	}

	if w := serve(srv, http.MethodGet, "/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", w.Code)
	}
}

func TestListUsers(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	st.GetOrCreateUser(ctx, "zoe")
	st.GetOrCreateUser(ctx, "adam")
	srv := newTestServer(t, st)

	w := serve(srv, http.MethodGet, "/api/users", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
	users := decode[[]conversation.User](t, w)
	if len(users) != 2 || users[0].Name != "adam" || users[1].Name != "zoe" {
		t.Errorf("expected users ordered by name, got %+v", users)
	}
}

func TestListUsersEmptyIsArray(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	w := serve(srv, http.MethodGet, "/api/users", nil)
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("expected empty JSON array, got %s", got)
	}
}

func TestConversationsAndHistory(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	alice, _ := st.GetOrCreateUser(ctx, "alice")
	bob, _ := st.GetOrCreateUser(ctx, "bob")
	st.SaveMessage(ctx, alice.ID, bob.ID, "hi")
	st.SaveMessage(ctx, bob.ID, alice.ID, "hey")
	srv := newTestServer(t, st)

	w := serve(srv, http.MethodGet, "/api/users/1/conversations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body)
	}
	summaries := decode[[]conversation.Summary](t, w)
	if len(summaries) != 1 || summaries[0].OtherUserID != bob.ID || summaries[0].OtherUserName != "bob" {
		t.Errorf("unexpected summaries %+v", summaries)
	}

	w = serve(srv, http.MethodGet, "/api/conversations/2/with/1/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body)
	}
	msgs := decode[[]store.Message](t, w)
	if len(msgs) != 2 || msgs[0].SenderID != alice.ID || msgs[1].SenderID != bob.ID {
		t.Errorf("expected both messages oldest first, got %+v", msgs)
	}

	w = serve(srv, http.MethodGet, "/api/conversations/1/with/99/messages", nil)
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("expected empty history as [], got %s", got)
	}
	w = serve(srv, http.MethodGet, "/api/users/99/conversations", nil)
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("expected no conversations as [], got %s", got)
	}
}

func TestBadPathIDs(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	for _, target := range []string{
		"/api/users/abc/conversations",
		"/api/conversations/1/with/x/messages",
		"/api/conversations/1.5/with/2/messages",
	} {
		w := serve(srv, http.MethodGet, target, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, w.Code)
			continue
		}
		if body := decode[map[string]string](t, w); body["error"] == "" {
			t.Errorf("%s: expected error message", target)
		}
	}
}

func TestStoreFailureIs500(t *testing.T) {
	srv := newTestServer(t, failingStore{store.NewMemoryStore()})

	w := serve(srv, http.MethodGet, "/api/users", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := decode[map[string]string](t, w)
	if strings.Contains(body["error"], "disk") {
		t.Errorf("store error leaked to client: %q", body["error"])
	}
}

func TestOnlineAndStats(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	ids := decode[[]int64](t, serve(srv, http.MethodGet, "/api/online", nil))
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("unexpected online ids %v", ids)
	}

	stats := decode[Stats](t, serve(srv, http.MethodGet, "/api/stats", nil))
	if stats.OnlineUsers != 2 || stats.Connections.Active != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	if w := serve(srv, http.MethodPost, "/api/users", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore(),
		WithAllowedOrigins("http://localhost:3000", "*.example.com"))

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:3000", true},
		{"https://app.example.com", true},
		{"http://localhost:4000", false},
		{"https://example.org", false},
	}
	for _, tt := range tests {
		w := serve(srv, http.MethodGet, "/health", http.Header{"Origin": {tt.origin}})
		got := w.Header().Get("Access-Control-Allow-Origin")
		if tt.allowed && got != tt.origin {
			t.Errorf("%s: expected allow-origin echo, got %q", tt.origin, got)
		}
		if !tt.allowed && got != "" {
			t.Errorf("%s: expected no allow-origin, got %q", tt.origin, got)
		}
	}
}

func TestCORSWildcardOmitsCredentials(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore(), WithAllowedOrigins("*"))

	w := serve(srv, http.MethodGet, "/health", http.Header{"Origin": {"https://evil.example"}})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected literal *, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("expected no credentials header with wildcard, got %q", got)
	}

	w = serve(srv, http.MethodOptions, "/api/users", http.Header{
		"Origin":                        {"https://evil.example"},
		"Access-Control-Request-Method": {"GET"},
	})
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Errorf("expected credential-free preflight, got %d %v", w.Code, w.Header())
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore(), WithAllowedOrigins("http://localhost:3000"))

	w := serve(srv, http.MethodOptions, "/api/users", http.Header{
		"Origin":                        {"http://localhost:3000"},
		"Access-Control-Request-Method": {"GET"},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "GET") {
		t.Errorf("expected GET in allowed methods, got %q", w.Header().Get("Access-Control-Allow-Methods"))
	}
	if w.Header().Get("Vary") != "Origin" {
		t.Errorf("expected Vary: Origin, got %q", w.Header().Get("Vary"))
	}
}

func TestChatHandlerMounted(t *testing.T) {
	var hit bool
	srv := New(":0", Deps{
		Conversations: conversation.NewService(store.NewMemoryStore()),
		ChatHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hit = true
			w.WriteHeader(http.StatusSwitchingProtocols)
		}),
	})

	serve(srv, http.MethodGet, "/hubs/chat", nil)
	if !hit {
		t.Error("expected chat handler to serve /hubs/chat")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore(), WithShutdownTimeout(time.Second))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
