package server

import (
	"errors"
	"net"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

var (
	ErrNoSession       = errors.New("session not found")
	ErrAlreadyLoggedIn = errors.New("username bound to another session")
	ErrIdentityBound   = errors.New("session already has an identity")
)

// liveSession is everything the dispatch loop keeps per connection.
type liveSession struct {
	session *model.Session
	conn    net.Conn
	decoder protocol.Decoder
}

// SessionRegistry maps live connections to their session state.
//
// It has no locks: only the dispatch loop goroutine may touch it.
type SessionRegistry struct {
	nextID  model.SessionID
	live    map[model.SessionID]*liveSession
	order   []model.SessionID          // accept order, for broadcast iteration
	byOwner map[string]model.SessionID // bound username -> session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		live:    make(map[model.SessionID]*liveSession),
		byOwner: make(map[string]model.SessionID),
	}
}

// Add registers a new unauthenticated session for conn.
func (r *SessionRegistry) Add(conn net.Conn) *model.Session {
	r.nextID++
	sess := &model.Session{ID: r.nextID}
	if addr := conn.RemoteAddr(); addr != nil {
		sess.RemoteAddr = addr.String()
	}
	r.live[sess.ID] = &liveSession{session: sess, conn: conn}
	r.order = append(r.order, sess.ID)
	return sess
}

// Get retrieves a live session by ID.
func (r *SessionRegistry) Get(id model.SessionID) (*model.Session, bool) {
	ls, ok := r.live[id]
	if !ok {
		return nil, false
	}
	return ls.session, true
}

// Conn returns the transport handle of a live session, or nil.
func (r *SessionRegistry) Conn(id model.SessionID) net.Conn {
	if ls, ok := r.live[id]; ok {
		return ls.conn
	}
	return nil
}

func (r *SessionRegistry) decoder(id model.SessionID) *protocol.Decoder {
	if ls, ok := r.live[id]; ok {
		return &ls.decoder
	}
	return nil
}

// Owner returns the session a username is bound to.
func (r *SessionRegistry) Owner(username string) (model.SessionID, bool) {
	id, ok := r.byOwner[username]
	return id, ok
}

// Bind binds username to session id. A username belongs to at most one live
// session and a session's identity never changes once set.
func (r *SessionRegistry) Bind(id model.SessionID, username string) error {
	ls, ok := r.live[id]
	if !ok {
		return ErrNoSession
	}
	if owner, taken := r.byOwner[username]; taken && owner != id {
		return ErrAlreadyLoggedIn
	}
	if !ls.session.Bind(username) {
		return ErrIdentityBound
	}
	r.byOwner[username] = id
	return nil
}

// Remove unregisters a session and returns its record and connection.
// Removing an unknown or already removed ID is a no-op returning false.
func (r *SessionRegistry) Remove(id model.SessionID) (*model.Session, net.Conn, bool) {
	ls, ok := r.live[id]
	if !ok {
		return nil, nil, false
	}
	delete(r.live, id)
	if ls.session.Username != "" && r.byOwner[ls.session.Username] == id {
		delete(r.byOwner, ls.session.Username)
	}
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return ls.session, ls.conn, true
}

// IDs returns a snapshot of live session IDs in accept order.
func (r *SessionRegistry) IDs() []model.SessionID {
	ids := make([]model.SessionID, len(r.order))
	copy(ids, r.order)
	return ids
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	return len(r.live)
}

// Authenticated returns how many live sessions have a bound identity.
func (r *SessionRegistry) Authenticated() int {
	return len(r.byOwner)
}
