package model

import "strconv"

// SessionID is the opaque handle a live connection is keyed by.
// IDs are assigned sequentially and never reused within one server run.
type SessionID uint64

func (id SessionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Session represents one live connection and its authentication state (in-memory only).
//
// Username is empty until a successful login. Once set it never changes for
// the lifetime of the connection.
type Session struct {
	ID         SessionID
	Username   string
	RemoteAddr string
}

// Authenticated reports whether an identity is bound to the session.
func (s *Session) Authenticated() bool {
	return s.Username != ""
}

// Bind sets the session identity. It reports false if a different identity
// is already bound.
func (s *Session) Bind(username string) bool {
	if s.Username != "" && s.Username != username {
		return false
	}
	s.Username = username
	return true
}
