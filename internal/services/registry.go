package services

import (
	"sync"
	"time"

	"github.com/talkbridge/backend/internal/models"
)

// session is the live, in-memory side of a call. All fields below mu are
// guarded by it; every state transition for the call holds mu.
type session struct {
	id int64

	mu              sync.Mutex
	call            *models.Call
	callerConn      string
	receiverConn    string
	ticker          *BillingTicker
	ringTimer       *time.Timer
	billedIntervals int64
	done            bool
}

func (s *session) involves(connID string) bool {
	return connID != "" && (s.callerConn == connID || s.receiverConn == connID)
}

// SessionRegistry indexes live sessions by call id. The map lock only guards
// membership; transitions serialize on the per-session mutex so unrelated
// calls never contend.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[int64]*session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[int64]*session)}
}

func (r *SessionRegistry) add(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

func (r *SessionRegistry) get(id int64) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// remove reports whether this call removed the entry.
func (r *SessionRegistry) remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// forConnection returns the sessions that referenced connID at the time of
// the call. Session locks are taken only after the map lock is released, so
// callers must re-check under the session lock before acting.
func (r *SessionRegistry) forConnection(connID string) []*session {
	var out []*session
	for _, s := range r.all() {
		s.mu.Lock()
		if s.involves(connID) {
			out = append(out, s)
		}
		s.mu.Unlock()
	}
	return out
}

func (r *SessionRegistry) all() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Has reports whether the call is live in this process.
func (r *SessionRegistry) Has(id int64) bool {
	_, ok := r.get(id)
	return ok
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
