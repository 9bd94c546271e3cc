package signaling

import "sync"

// Session correlates a transport-reported signaling session id with the
// durable session id and the attendee it belongs to. AttendeeID is zero while
// the session is unresolved; resolution is attempted once, when the session is
// first sighted, and never again for the same signaling id.
type Session struct {
	AttendeeID         int64
	Token              string
	SignalingSessionID string
	SessionID          string
}

// Resolved reports whether the session was mapped to an attendee.
func (s Session) Resolved() bool {
	return s.AttendeeID != 0
}

// Registry is pure storage for signaling sessions, keyed by the signaling
// session id. No resolution logic lives here.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
	}
}

func (r *Registry) Get(signalingSessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[signalingSessionID]
	return session, ok
}

func (r *Registry) Put(session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.SignalingSessionID] = session
}

// Remove is a no-op for absent ids.
func (r *Registry) Remove(signalingSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, signalingSessionID)
}

// SignalingSessionIDs returns the ids of all stored sessions.
func (r *Registry) SignalingSessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
