package registry

import (
	"strconv"
	"sync"
)

// SessionID identifies a logical session ("state") owned by the store
type SessionID uint64

// String returns the base-36 form shown to clients
func (s SessionID) String() string {
	return strconv.FormatUint(uint64(s), 36)
}

// ParseSessionID parses the base-36 form produced by String
func ParseSessionID(s string) (SessionID, error) {
	v, err := strconv.ParseUint(s, 36, 64)
	if err != nil {
		return 0, err
	}
	return SessionID(v), nil
}

// UserID is the opaque user identity taken from a bearer credential
type UserID string

// Conn is a live client connection as seen by the registry
type Conn interface {
	// ID returns a process-unique connection id.
	ID() string
	// Send queues a binary message to the client.
	Send(data []byte) error
	// Close terminates the connection with a close code and reason.
	Close(code int, reason string) error
}

// Ripple reports the cascade caused by a Deregister call
type Ripple struct {
	// Removed is false when the connection was not registered.
	Removed bool
	// UserEmpty is true when the user's last connection for the session went away.
	UserEmpty bool
	// SessionEmpty is true when the session has no users left.
	SessionEmpty bool
}

type userConns map[string]Conn

// Registry maps SessionID -> UserID -> live connections. Empty user and session buckets
// are pruned on every mutation. It never performs store I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]map[UserID]userConns
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		sessions: make(map[SessionID]map[UserID]userConns),
	}
}

// Register adds conn to the (session, user) bucket. It reports whether the user had no
// connection to the session before.
func (r *Registry) Register(session SessionID, user UserID, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.sessions[session]
	if !ok {
		users = make(map[UserID]userConns)
		r.sessions[session] = users
	}
	conns, ok := users[user]
	if !ok {
		conns = make(userConns)
		users[user] = conns
	}
	conns[conn.ID()] = conn
	return len(conns) == 1
}

// Deregister removes conn and reports which buckets became empty. Removing a connection
// that is not registered is a no-op with a zero Ripple.
func (r *Registry) Deregister(session SessionID, user UserID, conn Conn) Ripple {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.sessions[session]
	if !ok {
		return Ripple{}
	}
	conns, ok := users[user]
	if !ok {
		return Ripple{}
	}
	if _, ok := conns[conn.ID()]; !ok {
		return Ripple{}
	}

	ripple := Ripple{Removed: true}
	delete(conns, conn.ID())
	if len(conns) == 0 {
		delete(users, user)
		ripple.UserEmpty = true
	}
	if len(users) == 0 {
		delete(r.sessions, session)
		ripple.SessionEmpty = true
	}
	return ripple
}

// Lookup returns a snapshot of the connections of (session, user)
func (r *Registry) Lookup(session SessionID, user UserID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.sessions[session][user]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// EvictSession closes every connection under session with code and reason, then deletes
// the session. It returns the number of connections closed.
func (r *Registry) EvictSession(session SessionID, code int, reason string) int {
	r.mu.Lock()
	users, ok := r.sessions[session]
	delete(r.sessions, session)
	r.mu.Unlock()

	if !ok {
		return 0
	}
	n := 0
	for _, conns := range users {
		for _, c := range conns {
			_ = c.Close(code, reason)
			n++
		}
	}
	return n
}

// Has reports whether session has at least one connection
func (r *Registry) Has(session SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[session]
	return ok
}

// Users returns the users currently connected to session
func (r *Registry) Users(session SessionID) []UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.sessions[session]
	out := make([]UserID, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	return out
}

// Counts returns the number of sessions and connections held
func (r *Registry) Counts() (sessions, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, users := range r.sessions {
		for _, conns := range users {
			connections += len(conns)
		}
	}
	return len(r.sessions), connections
}
