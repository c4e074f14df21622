package identity

import (
	"errors"
	"strings"
	"sync"
)

var (
	errNotObject = errors.New("payload is not a JSON object")
	errNoUID     = errors.New("user payload has no uid")

	ErrSignedOut = errors.New("no signed-in identity")
)

// Session holds the identity resolved by the external auth provider. It is
// the explicit replacement for a process-wide auth singleton: construct one
// and pass it to the controllers that need it.
type Session struct {
	mu     sync.RWMutex
	userID string
	token  string
}

// SignIn records the provider's signed-in payload. A parsed user supplies both
// the id and the access token. A payload that is not a JSON object is taken as
// an opaque id that doubles as the token, which is what anonymous sign-in
// delivers. Any other unparsed payload is rejected and the session stays
// signed out.
func (s *Session) SignIn(payload []byte) error {
	res := ParseUser(payload)
	if u, ok := res.Parsed(); ok {
		s.set(u.UID, u.TokenManager.AccessToken)
		return nil
	}

	raw, reason := res.Unparsed()
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "{") {
		s.SignOut()
		return reason
	}
	s.set(raw, raw)
	return nil
}

func (s *Session) SignOut() {
	s.set("", "")
}

// UserID returns the raw provider id; callers normalize it before using it as
// a store key.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) IDToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) set(userID, token string) {
	s.mu.Lock()
	s.userID = userID
	s.token = token
	s.mu.Unlock()
}
