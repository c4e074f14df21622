// Package store is the path-addressed JSON key space that sessions live in.
//
// Paths are '/'-separated. The first two segments name a root document (for
// example sessionCodes/ab12cd) and any further segments address a value
// inside it. Every mutation of a root document is versioned, and every
// subscription on that root observes the versions in order.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrInvalidPath  = errors.New("invalid store path")
	ErrInvalidValue = errors.New("value is not valid JSON")
	ErrForbidden    = errors.New("store operation not permitted")
)

// Snapshot is one delivery from a subscription. Value is nil when nothing is
// stored at Path. Err is set when the subscription itself failed; no further
// deliveries follow an error.
type Snapshot struct {
	Path  string
	Value json.RawMessage
	Err   error
}

func (s Snapshot) Exists() bool { return s.Value != nil }

// Handler receives deliveries for one subscription, one at a time and in
// order.
type Handler func(Snapshot)

// Subscription is returned by Subscribe. Unsubscribe never blocks and is safe
// to call more than once or from inside the subscription's own Handler.
type Subscription interface {
	Unsubscribe()
}

// SessionStore abstracts the realtime store.
//
// Get returns nil when nothing is stored at path. Delete of an absent value
// succeeds. Subscribe delivers the current value first (possibly absent) and
// then every change of the value at path.
type SessionStore interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Set(ctx context.Context, path string, value json.RawMessage) error
	Delete(ctx context.Context, path string) error
	Subscribe(ctx context.Context, path string, h Handler) (Subscription, error)
}

// Creator is implemented by stores that can atomically create a root
// document only when none exists.
type Creator interface {
	CreateIfAbsent(ctx context.Context, path string, value json.RawMessage) (bool, error)
}

type credentialKey struct{}

// WithCredential attaches a privileged credential to ctx. Remote stores
// forward it with mutating requests.
func WithCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey{}, token)
}

func CredentialFrom(ctx context.Context) string {
	token, _ := ctx.Value(credentialKey{}).(string)
	return token
}
