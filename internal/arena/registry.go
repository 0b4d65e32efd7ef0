package arena

import (
	"strings"
	"sync"
)

// Conn is a registry entry for one live connection. The registry owns these
// records; sessions refer to connections by id only.
type Conn struct {
	ID        string
	UserID    string
	SessionID string
}

// Registry tracks every live connection and its associations. All access goes
// through the mutex; nothing else touches the map.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Register adds a connection in unassociated state.
func (r *Registry) Register(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; ok {
		return
	}
	r.conns[connID] = &Conn{ID: connID}
}

// AssociateUser attaches a user identity to a connection.
func (r *Registry) AssociateUser(connID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConn
	}
	c.UserID = strings.TrimSpace(userID)
	return nil
}

// AssociateSession attaches a session to a connection. A connection already
// bound to a different session keeps that binding and the call fails.
func (r *Registry) AssociateSession(connID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConn
	}
	if c.SessionID != "" && c.SessionID != sessionID {
		return ErrSlotOccupied
	}
	c.SessionID = sessionID
	return nil
}

// ClearSession detaches a connection from its session, leaving the user
// association intact. Clearing an unknown or unbound connection is a no-op.
func (r *Registry) ClearSession(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		c.SessionID = ""
	}
}

// Get returns a copy of the entry, or false when the connection is gone.
func (r *Registry) Get(connID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return Conn{}, false
	}
	return *c, true
}

// Alive reports whether the connection is still registered.
func (r *Registry) Alive(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[connID]
	return ok
}

// Remove detaches a connection and reports the session it belonged to, if
// any. The session itself is left to the caller; relay to the dropped side
// simply fails from then on.
func (r *Registry) Remove(connID string) (sessionID string, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	delete(r.conns, connID)
	return c.SessionID, true
}
