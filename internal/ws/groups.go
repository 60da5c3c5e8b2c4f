package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/christopherjohns/realchat/internal/protocol"
)

// Groups routes events to connections by ID or by named group. It owns the
// ConnManager that performs the actual writes.
type Groups struct {
	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]*Client
	conns   *ConnManager
	log     *slog.Logger
}

// NewGroups creates a router on top of conns. A nil logger discards output.
func NewGroups(conns *ConnManager, log *slog.Logger) *Groups {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Groups{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]*Client),
		conns:   conns,
		log:     log,
	}
}

// ConnMgr returns the connection manager.
func (g *Groups) ConnMgr() *ConnManager {
	return g.conns
}

// register adds c to the connection manager and makes it addressable. The
// returned context is cancelled when the connection is torn down.
func (g *Groups) register(c *Client) context.Context {
	ctx := g.conns.Add(c)
	if ctx.Err() != nil {
		return ctx
	}
	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()
	return ctx
}

// unregister removes c from every group and stops its write pump.
func (g *Groups) unregister(c *Client) {
	g.mu.Lock()
	delete(g.clients, c.id)
	for name, members := range g.groups {
		delete(members, c.id)
		if len(members) == 0 {
			delete(g.groups, name)
		}
	}
	g.mu.Unlock()

	g.conns.Remove(c)
}

// AddToGroup subscribes a registered connection to group.
func (g *Groups) AddToGroup(connID, group string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[connID]
	if !ok {
		return
	}
	if g.groups[group] == nil {
		g.groups[group] = make(map[string]*Client)
	}
	g.groups[group][connID] = c
}

// RemoveFromGroup unsubscribes a connection from group.
func (g *Groups) RemoveFromGroup(connID, group string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	members, ok := g.groups[group]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(g.groups, group)
	}
}

// SendToGroup queues ev for every member of group.
func (g *Groups) SendToGroup(group string, ev protocol.Event) {
	data, err := encodeEvent(ev)
	if err != nil {
		g.log.Error("ws: encode event", "event", ev.Name, "err", err)
		return
	}

	g.mu.RLock()
	members := g.groups[group]
	targets := make([]*Client, 0, len(members))
	for _, c := range members {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		g.conns.Send(c, data)
	}
}

// SendToConn queues ev for a single connection.
func (g *Groups) SendToConn(connID string, ev protocol.Event) {
	data, err := encodeEvent(ev)
	if err != nil {
		g.log.Error("ws: encode event", "event", ev.Name, "err", err)
		return
	}
	g.mu.RLock()
	c, ok := g.clients[connID]
	g.mu.RUnlock()
	if ok {
		g.conns.Send(c, data)
	}
}

// GroupSize returns the number of connections subscribed to group.
func (g *Groups) GroupSize(group string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.groups[group])
}
