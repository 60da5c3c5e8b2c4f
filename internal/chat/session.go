package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/christopherjohns/realchat/internal/protocol"
	"github.com/christopherjohns/realchat/internal/store"
)

type sessionState int

const (
	stateAnonymous sessionState = iota
	stateJoined
	stateClosed
)

const (
	errNameRequired  = "User name is required."
	errNotRegistered = "Not registered. Call Join first."
	errBadReceiver   = "Invalid receiverId."
)

// Session is the protocol state of one connection. Methods are safe for
// concurrent use, though the transport calls them in frame order.
type Session struct {
	hub    *Hub
	connID string

	mu     sync.Mutex
	state  sessionState
	userID int64
}

// ConnID returns the connection identifier the session was opened with.
func (s *Session) ConnID() string {
	return s.connID
}

// Join registers the connection under the user named userName, creating
// the user on first use. Invalid names are reported to the caller with an
// error envelope and an unsuccessful result.
func (s *Session) Join(ctx context.Context, userName string) (protocol.JoinResult, error) {
	name := strings.TrimSpace(userName)
	if name == "" {
		s.hub.sendError(s.connID, errNameRequired)
		return protocol.JoinResult{}, nil
	}
	if utf8.RuneCountInString(name) > store.MaxNameLength {
		s.hub.sendError(s.connID, fmt.Sprintf("User name exceeds maximum length of %d.", store.MaxNameLength))
		return protocol.JoinResult{}, nil
	}
	if s.closed() {
		return protocol.JoinResult{}, ErrSessionClosed
	}

	user, err := s.hub.store.GetOrCreateUser(ctx, name)
	if err != nil {
		return protocol.JoinResult{}, fmt.Errorf("join as %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The connection may have dropped while the store call was in flight.
	if s.state == stateClosed {
		return protocol.JoinResult{}, ErrSessionClosed
	}
	if s.state == stateJoined && s.userID != user.ID {
		s.leaveLocked()
	}

	s.hub.registry.Add(s.connID, user.ID)
	s.hub.groups.AddToGroup(s.connID, UserGroup(user.ID))
	s.hub.groups.AddToGroup(s.connID, AllGroup)
	s.state = stateJoined
	s.userID = user.ID

	s.hub.log.Info("chat: user joined", "conn", s.connID, "user_id", user.ID, "name", user.Name)
	s.hub.groups.SendToGroup(AllGroup, protocol.UserOnline(user.ID))
	return protocol.JoinResult{Success: true, UserID: user.ID}, nil
}

// SendMessage persists a chat message from the joined user and delivers it
// to every connection of the receiver. Only persistence failures are
// returned; protocol errors go to the caller as error envelopes.
func (s *Session) SendMessage(ctx context.Context, env protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	senderID, receiverID, ok := s.prepare(&env, protocol.TypeChat)
	if !ok {
		return nil
	}
	if _, err := s.hub.store.SaveMessage(ctx, senderID, receiverID, env.DataString()); err != nil {
		return fmt.Errorf("save message from %d to %d: %w", senderID, receiverID, err)
	}
	s.hub.groups.SendToGroup(UserGroup(receiverID), protocol.ReceiveMessage(env))
	return nil
}

// SetTyping relays a typing signal to the receiver without persisting it.
func (s *Session) SetTyping(ctx context.Context, env protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, receiverID, ok := s.prepare(&env, protocol.TypeTyping)
	if !ok {
		return nil
	}
	s.hub.groups.SendToGroup(UserGroup(receiverID), protocol.ReceiveMessage(env))
	return nil
}

// prepare resolves the sender, stamps env and validates it. On failure the
// caller has already been sent an error envelope.
func (s *Session) prepare(env *protocol.Envelope, typ protocol.Type) (senderID, receiverID int64, ok bool) {
	senderID, registered := s.hub.registry.GetUserID(s.connID)
	if !registered {
		s.hub.sendError(s.connID, errNotRegistered)
		return 0, 0, false
	}

	env.Type = typ
	env.SenderID = strconv.FormatInt(senderID, 10)
	if err := protocol.Validate(env); err != nil {
		s.hub.sendError(s.connID, err.Error())
		return 0, 0, false
	}

	receiverID, err := strconv.ParseInt(strings.TrimSpace(env.ReceiverID), 10, 64)
	if err != nil || receiverID <= 0 {
		s.hub.sendError(s.connID, errBadReceiver)
		return 0, 0, false
	}
	env.ReceiverID = strconv.FormatInt(receiverID, 10)
	return senderID, receiverID, true
}

// OnlineUserIDs returns the users currently online.
func (s *Session) OnlineUserIDs() []int64 {
	return s.hub.OnlineUserIDs()
}

// Close unregisters the connection. The user is announced offline only when
// this was their last connection. Calling Close more than once is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return
	}
	if s.state == stateJoined {
		s.hub.groups.RemoveFromGroup(s.connID, AllGroup)
		s.leaveLocked()
	}
	s.state = stateClosed
}

// leaveLocked detaches the connection from its current user. Must be called
// with mu held.
func (s *Session) leaveLocked() {
	userID, remaining, ok := s.hub.registry.Remove(s.connID)
	if !ok {
		return
	}
	s.hub.groups.RemoveFromGroup(s.connID, UserGroup(userID))
	if remaining == 0 {
		s.hub.log.Info("chat: user offline", "conn", s.connID, "user_id", userID)
		s.hub.groups.SendToGroup(AllGroup, protocol.UserOffline(userID))
	}
	s.userID = 0
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateClosed
}
