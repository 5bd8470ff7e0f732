package transport

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is a soft client identity used for SSE routing and
// observability, not authorization.
type Session struct {
	ID        string
	AgentID   string
	CreatedAt time.Time
}

// SessionRegistry tracks sessions created from inbound requests.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

// Resolve returns the session for id, creating one if id is empty or
// unknown. It always returns a valid session and its id.
func (r *SessionRegistry) Resolve(id, agentID string) *Session {
	if id != "" {
		r.mu.RLock()
		s, ok := r.sessions[id]
		r.mu.RUnlock()
		if ok {
			return s
		}
	}

	newID := id
	if newID == "" {
		newID = uuid.NewString()
	}
	s := &Session{ID: newID, AgentID: agentID, CreatedAt: time.Now()}

	r.mu.Lock()
	r.sessions[newID] = s
	r.mu.Unlock()
	return s
}

// Drop removes a session, e.g. when its last SSE subscriber disconnects.
func (r *SessionRegistry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
