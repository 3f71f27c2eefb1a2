package server

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the process-wide session table with per-IP admission counts.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	perIP    map[string]uint
	maxPerIP uint
}

// NewRegistry creates a registry enforcing the given per-IP session cap.
func NewRegistry(maxPerIP uint) *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		perIP:    make(map[string]uint),
		maxPerIP: maxPerIP,
	}
}

// Admit registers a session for its IP. It reports false, without counting
// anything, when the IP is already at the cap.
func (r *Registry) Admit(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.perIP[s.IP] >= r.maxPerIP {
		return false
	}
	r.perIP[s.IP]++
	r.sessions[s.ID] = s
	return true
}

// Remove drops a session and releases its IP slot. Idempotent.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return
	}
	delete(r.sessions, s.ID)
	if n := r.perIP[s.IP]; n <= 1 {
		delete(r.perIP, s.IP)
	} else {
		r.perIP[s.IP] = n - 1
	}
}

// Snapshot returns the current sessions. The slice is a copy; sessions may
// close concurrently.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// CloseUser closes and removes every session authenticated as userID. Used
// when a user is banned.
func (r *Registry) CloseUser(userID uint64) {
	for _, s := range r.Snapshot() {
		if s.UserID() == userID {
			s.Close()
			r.Remove(s)
		}
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
