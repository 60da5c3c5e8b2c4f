// Package chat implements the per-connection routing protocol: joining under
// a display name, direct messages, typing signals and presence broadcasts.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/christopherjohns/realchat/internal/presence"
	"github.com/christopherjohns/realchat/internal/protocol"
	"github.com/christopherjohns/realchat/internal/store"
)

// ErrSessionClosed is returned by operations on a session whose connection
// has already gone away.
var ErrSessionClosed = errors.New("chat: session closed")

// AllGroup is joined by every registered connection and carries presence.
const AllGroup = "all"

// UserGroup names the group holding every connection of userID.
func UserGroup(userID int64) string {
	return "user_" + strconv.FormatInt(userID, 10)
}

// Store is the persistence the hub needs.
type Store interface {
	GetOrCreateUser(ctx context.Context, name string) (store.User, error)
	SaveMessage(ctx context.Context, senderID, receiverID int64, data string) (store.Message, error)
}

// Groups delivers events to connections. Implementations must not block on
// slow receivers.
type Groups interface {
	AddToGroup(connID, group string)
	RemoveFromGroup(connID, group string)
	SendToGroup(group string, ev protocol.Event)
	SendToConn(connID string, ev protocol.Event)
}

// Hub wires sessions to the presence registry, the store and the transport.
type Hub struct {
	registry *presence.Registry
	store    Store
	groups   Groups
	log      *slog.Logger
}

// NewHub creates a Hub. A nil logger discards output.
func NewHub(registry *presence.Registry, st Store, groups Groups, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		registry: registry,
		store:    st,
		groups:   groups,
		log:      log,
	}
}

// Open starts an anonymous session for a freshly accepted connection.
func (h *Hub) Open(connID string) *Session {
	return &Session{hub: h, connID: connID}
}

// OnlineUserIDs returns the users with at least one joined connection.
func (h *Hub) OnlineUserIDs() []int64 {
	return h.registry.GetAllOnlineUserIDs()
}

// sendError pushes a private error envelope to one connection.
func (h *Hub) sendError(connID, msg string) {
	h.groups.SendToConn(connID, protocol.ReceiveMessage(protocol.ErrorEnvelope(msg)))
}
