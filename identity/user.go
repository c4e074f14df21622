package identity

import (
	"bytes"
	"encoding/json"
)

// User is the subset of the auth provider's user object this module reads.
type User struct {
	UID          string       `json:"uid"`
	DisplayName  string       `json:"displayName"`
	Email        string       `json:"email"`
	IsAnonymous  bool         `json:"isAnonymous"`
	ProviderID   string       `json:"providerId"`
	TokenManager TokenManager `json:"stsTokenManager"`
}

type TokenManager struct {
	RefreshToken   string `json:"refreshToken"`
	AccessToken    string `json:"accessToken"`
	ExpirationTime int64  `json:"expirationTime"`
}

// ParseResult is either a parsed User or the raw payload that could not be
// parsed into one. Callers pick the fallback.
type ParseResult struct {
	user   *User
	raw    string
	reason error
}

// Parsed returns the user and true when the payload decoded into a User with
// a uid.
func (r ParseResult) Parsed() (User, bool) {
	if r.user == nil {
		return User{}, false
	}
	return *r.user, true
}

// Unparsed returns the raw payload and why it was rejected.
func (r ParseResult) Unparsed() (string, error) {
	return r.raw, r.reason
}

// ParseUser decodes a signed-in callback payload.
func ParseUser(payload []byte) ParseResult {
	raw := string(payload)
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ParseResult{raw: raw, reason: errNotObject}
	}
	var u User
	if err := json.Unmarshal(trimmed, &u); err != nil {
		return ParseResult{raw: raw, reason: err}
	}
	if u.UID == "" {
		return ParseResult{raw: raw, reason: errNoUID}
	}
	return ParseResult{user: &u, raw: raw}
}
