package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/christopherjohns/realchat/internal/store"
	"github.com/christopherjohns/realchat/internal/ws"
)

// Stats is the body of GET /api/stats.
type Stats struct {
	Connections ws.ConnStats `json:"connections"`
	OnlineUsers int          `json:"onlineUsers"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Conversations.GetUsers(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	summaries, err := s.deps.Conversations.GetRecentConversations(r.Context(), userID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	otherID, ok := pathID(w, r, "otherUserId")
	if !ok {
		return
	}
	msgs, err := s.deps.Conversations.GetMessageHistory(r.Context(), userID, otherID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	ids := []int64{}
	if s.deps.Presence != nil {
		ids = append(ids, s.deps.Presence.OnlineUserIDs()...)
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var stats Stats
	if s.deps.Conns != nil {
		stats.Connections = s.deps.Conns.Stats()
	}
	if s.deps.Presence != nil {
		stats.OnlineUsers = len(s.deps.Presence.OnlineUserIDs())
	}
	writeJSON(w, http.StatusOK, stats)
}

// pathID parses an integer path parameter, answering 400 when it is not one.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be an integer, got %q", name, raw))
		return 0, false
	}
	return id, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("server: request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
