package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"gamesession/auth"
	"gamesession/functions"
	"gamesession/session"
	"gamesession/store"
)

const testSecret = "test-secret"

type staticUser string

func (u staticUser) UserID() string { return string(u) }

type staticToken string

func (t staticToken) IDToken() string { return string(t) }

// eventLog records every event a registry emits.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func recordEvents(r *Registry) *eventLog {
	l := &eventLog{notify: make(chan struct{}, 1)}
	r.OnAny(func(e Event) {
		l.mu.Lock()
		l.events = append(l.events, e)
		l.mu.Unlock()
		select {
		case l.notify <- struct{}{}:
		default:
		}
	})
	return l
}

func (l *eventLog) waitFor(t *testing.T, desc string, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		l.mu.Lock()
		for _, e := range l.events {
			if match(e) {
				l.mu.Unlock()
				return e
			}
		}
		l.mu.Unlock()
		select {
		case <-l.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %s; saw %v", desc, l.types())
			return nil
		}
	}
}

func (l *eventLog) waitType(t *testing.T, typ EventType) Event {
	t.Helper()
	return l.waitFor(t, typ.String(), func(e Event) bool { return e.Type() == typ })
}

func (l *eventLog) count(typ EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type() == typ {
			n++
		}
	}
	return n
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type().String()
	}
	return out
}

type fixture struct {
	store    *store.MemoryStore
	fns      *SessionFunctions
	ledger   *MemoryLedger
	verifier *auth.Verifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemoryStore(),
		ledger:   NewMemoryLedger(),
		verifier: auth.NewVerifier(testSecret),
		now:      time.UnixMilli(1_700_000_000_000),
	}
	f.fns = NewSessionFunctions(f.store, f.verifier, f.ledger, 0)
	f.fns.now = f.clock(0)
	return f
}

func (f *fixture) clock(offset time.Duration) func() time.Time {
	at := f.now.Add(offset)
	return func() time.Time { return at }
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.verifier.Issue(userID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (f *fixture) host(t *testing.T, opts ...Option) *HostSession {
	t.Helper()
	opts = append([]Option{WithClock(f.clock(0))}, opts...)
	h := NewHostSession(f.store, f.fns, staticToken(f.token(t, "host-1")), opts...)
	t.Cleanup(h.Close)
	return h
}

func (f *fixture) client(t *testing.T, userID string, opts ...Option) *ClientSession {
	t.Helper()
	opts = append([]Option{WithClock(f.clock(0))}, opts...)
	c := NewClientSession(f.store, f.fns, staticUser(userID), opts...)
	t.Cleanup(c.Close)
	return c
}

func (f *fixture) createSession(t *testing.T, h *HostSession) string {
	t.Helper()
	code, err := h.CreateSession(context.Background(), "lobby", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return code
}

// faultyStore fails the Nth Get.
type faultyStore struct {
	store.SessionStore
	mu        sync.Mutex
	gets      int
	failGetAt int
}

func (s *faultyStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	s.mu.Lock()
	s.gets++
	fail := s.gets == s.failGetAt
	s.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return s.SessionStore.Get(ctx, path)
}

// removingStore deletes a player once every session feed but the last is
// open, so the removal is delivered while the join is still pending. The last
// Subscribe returns only after the roster feed has handed that delivery on.
type removingStore struct {
	store.SessionStore
	code, playerID string

	once    sync.Once
	removed chan struct{}
}

func newRemovingStore(st store.SessionStore, code, playerID string) *removingStore {
	return &removingStore{SessionStore: st, code: code, playerID: playerID, removed: make(chan struct{})}
}

func (s *removingStore) Subscribe(ctx context.Context, path string, h store.Handler) (store.Subscription, error) {
	switch path {
	case session.PlayersPath(s.code):
		return s.SessionStore.Subscribe(ctx, path, func(snap store.Snapshot) {
			h(snap)
			if roster, err := session.DecodeRoster(snap.Value); err == nil && !roster.Has(s.playerID) {
				s.once.Do(func() { close(s.removed) })
			}
		})
	case session.GameStatusPath(s.code):
		sub, err := s.SessionStore.Subscribe(ctx, path, h)
		if err != nil {
			return nil, err
		}
		if err := s.SessionStore.Delete(ctx, session.PlayerPath(s.code, s.playerID)); err != nil {
			sub.Unsubscribe()
			return nil, err
		}
		select {
		case <-s.removed:
		case <-time.After(3 * time.Second):
			sub.Unsubscribe()
			return nil, errors.New("removal was never delivered")
		}
		return sub, nil
	}
	return s.SessionStore.Subscribe(ctx, path, h)
}

// failingRPC fails leaveSession.
type failingRPC struct {
	functions.Client
}

func (failingRPC) LeaveSession(context.Context, functions.LeaveSessionRequest) (functions.Ack, error) {
	return functions.Ack{}, errors.New("dial tcp: connection refused")
}
