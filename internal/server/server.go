// Package server exposes the chat hub endpoint and the read-only REST API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/christopherjohns/realchat/internal/conversation"
	"github.com/christopherjohns/realchat/internal/ws"
	"golang.org/x/sync/errgroup"
)

const (
	// Name is reported by the root endpoint.
	Name = "realchat"

	defaultShutdownTimeout = 10 * time.Second
)

// Presence reports who is online.
type Presence interface {
	OnlineUserIDs() []int64
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Presence      Presence
	Conversations *conversation.Service
	Conns         *ws.ConnManager
	// ChatHandler serves GET /hubs/chat.
	ChatHandler http.Handler
}

// Server is the main HTTP server.
type Server struct {
	addr            string
	mux             *http.ServeMux
	deps            Deps
	allowedOrigins  []string
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins enables CORS for the given origins. Entries are either
// full origins ("https://app.example.com") or host patterns
// ("*.example.com").
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithShutdownTimeout bounds how long Run waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// New creates a Server listening on addr.
func New(addr string, deps Deps, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		mux:             http.NewServeMux(),
		deps:            deps,
		shutdownTimeout: defaultShutdownTimeout,
		log:             slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.cors(s.mux)
}

// Run serves until ctx is cancelled, then closes WebSocket connections and
// drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("server: listening", "addr", ln.Addr().String())
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are invisible to http.Server.Shutdown.
		if s.deps.Conns != nil {
			s.deps.Conns.Shutdown()
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/users", s.handleListUsers)
	s.mux.HandleFunc("GET /api/users/{userId}/conversations", s.handleConversations)
	s.mux.HandleFunc("GET /api/conversations/{userId}/with/{otherUserId}/messages", s.handleHistory)
	s.mux.HandleFunc("GET /api/online", s.handleOnline)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	if s.deps.ChatHandler != nil {
		s.mux.Handle("GET /hubs/chat", s.deps.ChatHandler)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"name": Name, "status": "running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
