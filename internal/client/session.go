package client

import "sync"

// Session holds the credential of the logged in user. The zero value is a
// logged out session. It is safe for concurrent use.
type Session struct {
	mu    sync.RWMutex
	token string
}

// NewSession returns a session logged in with token, or logged out if token is empty.
func NewSession(token string) *Session {
	return &Session{token: token}
}

// Token returns the current credential, or "" when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Login replaces the credential.
func (s *Session) Login(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Logout clears the credential.
func (s *Session) Logout() {
	s.Login("")
}

// LoggedIn reports whether a credential is present.
func (s *Session) LoggedIn() bool {
	return s.Token() != ""
}
