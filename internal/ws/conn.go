package ws

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const (
	// sendBufferSize is the number of frames that can be queued per client.
	sendBufferSize = 16

	// writeTimeout is the max time to wait for a single write to complete.
	writeTimeout = 5 * time.Second

	// idleCheckInterval is how often the idle reaper runs.
	idleCheckInterval = 30 * time.Second
)

// Client is one accepted WebSocket connection.
type Client struct {
	conn       *websocket.Conn
	send       chan []byte
	id         string
	remoteAddr string
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

type connEntry struct {
	cancel      context.CancelFunc
	connectedAt time.Time
	lastActive  time.Time
}

// ConnStats holds point-in-time connection statistics.
type ConnStats struct {
	Active          int   `json:"active"`
	MaxConns        int   `json:"maxConns"`
	Rejected        int64 `json:"rejected"`
	DroppedMessages int64 `json:"droppedMessages"`
	IdleReaped      int64 `json:"idleReaped"`
}

// ConnInfo holds metadata about a single connection.
type ConnInfo struct {
	ID          string        `json:"id"`
	RemoteAddr  string        `json:"remoteAddr"`
	ConnectedAt time.Time     `json:"connectedAt"`
	LastActive  time.Time     `json:"lastActive"`
	Idle        time.Duration `json:"idle"`
}

// ConnManager tracks active WebSocket connections: per-client buffered
// send channels drained by a write pump, a connection limit, idle reaping
// and graceful shutdown.
type ConnManager struct {
	mu       sync.Mutex
	clients  map[*Client]*connEntry
	closed   bool
	maxConns int
	idleTTL  time.Duration
	stopIdle context.CancelFunc
	log      *slog.Logger

	rejected        atomic.Int64
	droppedMessages atomic.Int64
	idleReaped      atomic.Int64
}

// ConnManagerOption configures a ConnManager.
type ConnManagerOption func(*ConnManager)

// WithMaxConns sets the maximum number of concurrent connections.
// 0 means unlimited.
func WithMaxConns(n int) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.maxConns = n
	}
}

// WithIdleTimeout sets how long a connection may stay silent before it is
// closed. 0 disables idle reaping.
func WithIdleTimeout(d time.Duration) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.idleTTL = d
	}
}

// WithConnLogger sets the logger.
func WithConnLogger(log *slog.Logger) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.log = log
	}
}

// NewConnManager creates a connection manager.
func NewConnManager(opts ...ConnManagerOption) *ConnManager {
	cm := &ConnManager{
		clients: make(map[*Client]*connEntry),
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(cm)
	}
	if cm.idleTTL > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		cm.stopIdle = cancel
		go cm.idleReapLoop(ctx)
	}
	return cm
}

// Add registers a client and starts its write pump. The returned context is
// cancelled when the client is removed or the manager shuts down. A
// cancelled context is returned when the manager is closed or at capacity;
// the connection has then already been closed.
func (cm *ConnManager) Add(c *Client) context.Context {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		return cancelledContext()
	}
	if cm.maxConns > 0 && len(cm.clients) >= cm.maxConns {
		cm.mu.Unlock()
		cm.rejected.Add(1)
		cm.log.Warn("ws: connection rejected, at capacity", "conn", c.id, "max", cm.maxConns)
		c.conn.Close(websocket.StatusTryAgainLater, "server at capacity")
		return cancelledContext()
	}
	defer cm.mu.Unlock()

	now := time.Now()
	c.send = make(chan []byte, sendBufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	cm.clients[c] = &connEntry{
		cancel:      cancel,
		connectedAt: now,
		lastActive:  now,
	}
	go cm.writePump(ctx, c)
	return ctx
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// Remove stops a client's write pump. The send channel stays open so
// concurrent senders never write to a closed channel; frames queued after
// removal are dropped with the client.
func (cm *ConnManager) Remove(c *Client) {
	cm.mu.Lock()
	entry, ok := cm.clients[c]
	if ok {
		delete(cm.clients, c)
	}
	cm.mu.Unlock()

	if ok {
		entry.cancel()
	}
}

// Send queues a frame for the client. It returns false when the buffer is
// full or the client was never added.
func (cm *ConnManager) Send(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		cm.droppedMessages.Add(1)
		cm.log.Warn("ws: send buffer full, dropping frame", "conn", c.id)
		return false
	}
}

// TouchActivity marks the client as active so it is not reaped.
func (cm *ConnManager) TouchActivity(c *Client) {
	cm.mu.Lock()
	if entry, ok := cm.clients[c]; ok {
		entry.lastActive = time.Now()
	}
	cm.mu.Unlock()
}

// Count returns the number of active connections.
func (cm *ConnManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.clients)
}

// Stats returns point-in-time connection statistics.
func (cm *ConnManager) Stats() ConnStats {
	cm.mu.Lock()
	active := len(cm.clients)
	cm.mu.Unlock()
	return ConnStats{
		Active:          active,
		MaxConns:        cm.maxConns,
		Rejected:        cm.rejected.Load(),
		DroppedMessages: cm.droppedMessages.Load(),
		IdleReaped:      cm.idleReaped.Load(),
	}
}

// Clients returns metadata for all active connections.
func (cm *ConnManager) Clients() []ConnInfo {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	now := time.Now()
	result := make([]ConnInfo, 0, len(cm.clients))
	for c, entry := range cm.clients {
		result = append(result, ConnInfo{
			ID:          c.id,
			RemoteAddr:  c.remoteAddr,
			ConnectedAt: entry.connectedAt,
			LastActive:  entry.lastActive,
			Idle:        now.Sub(entry.lastActive),
		})
	}
	return result
}

// Shutdown closes every connection with StatusGoingAway and rejects new
// ones.
func (cm *ConnManager) Shutdown() {
	cm.mu.Lock()
	cm.closed = true
	clients := cm.clients
	cm.clients = make(map[*Client]*connEntry)
	cm.mu.Unlock()

	if cm.stopIdle != nil {
		cm.stopIdle()
	}
	// Close before cancelling so peers see StatusGoingAway rather than the
	// read-cancellation close.
	var wg sync.WaitGroup
	for c, entry := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			entry.cancel()
		}()
	}
	wg.Wait()
	cm.log.Info("ws: connections closed for shutdown", "count", len(clients))
}

func (cm *ConnManager) idleReapLoop(ctx context.Context) {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.reapIdle(time.Now())
		}
	}
}

// reapIdle closes connections idle for longer than idleTTL as of now.
func (cm *ConnManager) reapIdle(now time.Time) {
	cm.mu.Lock()
	stale := make(map[*Client]*connEntry)
	for c, entry := range cm.clients {
		if now.Sub(entry.lastActive) > cm.idleTTL {
			stale[c] = entry
			delete(cm.clients, c)
		}
	}
	cm.mu.Unlock()

	for c, entry := range stale {
		c.conn.Close(websocket.StatusPolicyViolation, "idle timeout")
		entry.cancel()
		cm.idleReaped.Add(1)
		cm.log.Info("ws: reaped idle connection", "conn", c.id)
	}
}

// writePump drains the client's send channel until ctx is cancelled.
func (cm *ConnManager) writePump(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				cm.log.Debug("ws: write failed", "conn", c.id, "err", err)
				return
			}
		}
	}
}
