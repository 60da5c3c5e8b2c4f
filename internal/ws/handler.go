// Package ws carries the chat hub protocol over WebSocket connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/christopherjohns/realchat/internal/chat"
	"github.com/christopherjohns/realchat/internal/protocol"
	"github.com/christopherjohns/realchat/internal/ratelimit"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// maxFrameSize caps one inbound frame. A chat at protocol.MaxDataLength is
// at most about 25 KB even fully \u-escaped, so oversized chats well past
// the data limit still reach validation and get a private error; frames
// beyond this cap close the connection with StatusMessageTooBig.
const maxFrameSize = 1 << 20

// Handler upgrades requests to WebSocket connections and runs the hub
// protocol for each of them.
type Handler struct {
	hub                *chat.Hub
	groups             *Groups
	limiter            *ratelimit.Limiter
	originPatterns     []string
	insecureSkipVerify bool
	log                *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLimiter throttles upgrade attempts per client address.
func WithLimiter(l *ratelimit.Limiter) HandlerOption {
	return func(h *Handler) {
		h.limiter = l
	}
}

// WithOriginPatterns sets the cross-origin hosts allowed to connect.
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *Handler) {
		h.originPatterns = patterns
	}
}

// WithInsecureSkipVerify disables the origin check entirely.
func WithInsecureSkipVerify(skip bool) HandlerOption {
	return func(h *Handler) {
		h.insecureSkipVerify = skip
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.log = log
	}
}

// NewHandler creates a Handler dispatching to hub. groups must be the same
// router the hub was built with.
func NewHandler(hub *chat.Hub, groups *Groups, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub:    hub,
		groups: groups,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the connection and runs its read loop until the peer
// goes away or the connection manager drops it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addr := remoteIP(r)
	if h.limiter != nil && !h.limiter.Allow(addr) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.originPatterns,
		InsecureSkipVerify: h.insecureSkipVerify,
	})
	if err != nil {
		h.log.Warn("ws: accept failed", "remote", addr, "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(maxFrameSize)

	client := &Client{
		conn:       conn,
		id:         uuid.NewString(),
		remoteAddr: addr,
	}
	connCtx := h.groups.register(client)
	if connCtx.Err() != nil {
		return
	}
	defer h.groups.unregister(client)

	session := h.hub.Open(client.id)
	defer session.Close()

	h.log.Debug("ws: connection opened", "conn", client.id, "remote", addr)
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(connCtx, cancel)
	defer stop()
	defer cancel()

	h.readLoop(ctx, client, session)
	h.log.Debug("ws: connection closed", "conn", client.id)
}

// readLoop handles frames strictly in arrival order.
func (h *Handler) readLoop(ctx context.Context, client *Client, session *chat.Session) {
	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		h.groups.ConnMgr().TouchActivity(client)

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.sendError(client, "Invalid frame: expected a JSON object.")
			continue
		}
		h.dispatch(ctx, client, session, f)
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, session *chat.Session, f Frame) {
	switch {
	case strings.EqualFold(f.Target, targetJoin):
		var p joinPayload
		if !h.decode(client, f, &p) {
			return
		}
		res, err := session.Join(ctx, p.UserName)
		h.complete(client, f.InvocationID, targetJoin, res, err)

	case strings.EqualFold(f.Target, targetSendMessage):
		var env protocol.Envelope
		if !h.decode(client, f, &env) {
			return
		}
		err := session.SendMessage(ctx, env)
		h.complete(client, f.InvocationID, targetSendMessage, nil, err)

	case strings.EqualFold(f.Target, targetSetTyping):
		var env protocol.Envelope
		if !h.decode(client, f, &env) {
			return
		}
		err := session.SetTyping(ctx, env)
		h.complete(client, f.InvocationID, targetSetTyping, nil, err)

	case strings.EqualFold(f.Target, targetGetOnlineUserIDs):
		h.complete(client, f.InvocationID, targetGetOnlineUserIDs, session.OnlineUserIDs(), nil)

	default:
		h.sendError(client, fmt.Sprintf("Unknown target '%s'.", f.Target))
	}
}

// decode unmarshals the frame payload into v, reporting failures to the
// client.
func (h *Handler) decode(client *Client, f Frame, v any) bool {
	if len(f.Payload) == 0 {
		h.sendError(client, fmt.Sprintf("Missing payload for '%s'.", f.Target))
		return false
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		h.sendError(client, fmt.Sprintf("Invalid payload for '%s'.", f.Target))
		return false
	}
	return true
}

// complete reports the outcome of an invocation. Results are only sent when
// the client asked for one; failures are always reported.
func (h *Handler) complete(client *Client, invocationID, target string, result any, err error) {
	var (
		data   []byte
		encErr error
	)
	switch {
	case err != nil:
		if errors.Is(err, chat.ErrSessionClosed) {
			return
		}
		if errors.Is(err, context.Canceled) {
			h.log.Debug("ws: invocation abandoned on disconnect", "conn", client.id, "target", target, "err", err)
			return
		}
		h.log.Error("ws: invocation failed", "conn", client.id, "target", target, "err", err)
		data, encErr = encodeFailure(invocationID,
			fmt.Sprintf("An unexpected error occurred invoking '%s' on the server.", target))
	case invocationID != "":
		data, encErr = encodeResult(invocationID, result)
	default:
		return
	}
	if encErr != nil {
		h.log.Error("ws: encode completion", "conn", client.id, "err", encErr)
		return
	}
	h.groups.ConnMgr().Send(client, data)
}

// sendError pushes a private error envelope to the client.
func (h *Handler) sendError(client *Client, msg string) {
	h.groups.SendToConn(client.id, protocol.ReceiveMessage(protocol.ErrorEnvelope(msg)))
}

// remoteIP returns the host part of the request's remote address.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
