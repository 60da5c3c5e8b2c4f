// Package presence tracks which live connections belong to which user.
package presence

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Registry is a concurrent many-to-one map from connection ID to user ID
// with a reverse index per user. The zero value is not usable; call
// NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]int64
	users map[int64]map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]int64),
		users: make(map[int64]map[string]struct{}),
	}
}

// Add maps connID to userID, replacing any previous mapping for connID.
func (r *Registry) Add(connID string, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.conns[connID]; ok {
		if prev == userID {
			return
		}
		r.unindex(connID, prev)
	}
	r.conns[connID] = userID
	set := r.users[userID]
	if set == nil {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	set[connID] = struct{}{}
}

// Remove unregisters connID. It reports the user the connection belonged to
// and how many connections that user still has. ok is false when connID was
// not registered, in which case nothing changes.
func (r *Registry) Remove(connID string) (userID int64, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.conns[connID]
	if !ok {
		return 0, 0, false
	}
	delete(r.conns, connID)
	r.unindex(connID, userID)
	return userID, len(r.users[userID]), true
}

// unindex drops connID from userID's set. Must be called with mu held.
func (r *Registry) unindex(connID string, userID int64) {
	set := r.users[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, userID)
	}
}

// GetUserID returns the user registered for connID.
func (r *Registry) GetUserID(connID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.conns[connID]
	return id, ok
}

// GetConnectionIDsForUser returns the sorted connection IDs of userID.
func (r *Registry) GetConnectionIDsForUser(userID int64) []string {
	r.mu.RLock()
	ids := lo.Keys(r.users[userID])
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// GetAllOnlineUserIDs returns the sorted IDs of users with at least one
// live connection.
func (r *Registry) GetAllOnlineUserIDs() []int64 {
	r.mu.RLock()
	ids := lo.Keys(r.users)
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
