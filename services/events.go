package services

import (
	"fmt"
	"sort"
	"sync"

	"gamesession/models"
	"gamesession/session"
)

type EventType int

const (
	EventSessionJoined EventType = iota + 1
	EventSessionCreated
	EventRecordChanged
	EventRosterChanged
	EventStatusChanged
	EventGameStatusChanged
	EventKicked
	EventLeft
	EventSessionEnded
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventSessionJoined:
		return "session_joined"
	case EventSessionCreated:
		return "session_created"
	case EventRecordChanged:
		return "record_changed"
	case EventRosterChanged:
		return "roster_changed"
	case EventStatusChanged:
		return "status_changed"
	case EventGameStatusChanged:
		return "game_status_changed"
	case EventKicked:
		return "kicked"
	case EventLeft:
		return "left"
	case EventSessionEnded:
		return "session_ended"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is implemented by every payload a controller emits.
type Event interface {
	Type() EventType
}

type SessionJoined struct {
	Code     string
	PlayerID string
	Record   models.SessionRecord
	// Rejoined is set when the player entry already existed and no write was
	// made.
	Rejoined bool
}

type SessionCreated struct {
	Code   string
	Record models.SessionRecord
}

type RecordChanged struct {
	Code   string
	Record models.SessionRecord
}

type RosterChanged struct {
	Code string
	session.Diff
}

type StatusChanged struct {
	Code     string
	Previous models.SessionStatus
	Status   models.SessionStatus
}

type GameStatusChanged struct {
	Code       string
	GameStatus string
}

type Kicked struct {
	Code     string
	PlayerID string
}

type Left struct {
	Code     string
	PlayerID string
}

type EndReason string

const (
	EndFinished EndReason = "finished"
	EndRemoved  EndReason = "removed"
	EndExpired  EndReason = "expired"
)

type SessionEnded struct {
	Code   string
	Reason EndReason
}

// ErrorEvent reports a failure. Op names what failed, for example "join" or
// the feed path whose payload could not be parsed.
type ErrorEvent struct {
	Code string
	Op   string
	Err  error
}

// Reason is the user-facing message for the error.
func (e ErrorEvent) Reason() string { return session.Reason(e.Err) }

func (SessionJoined) Type() EventType     { return EventSessionJoined }
func (SessionCreated) Type() EventType    { return EventSessionCreated }
func (RecordChanged) Type() EventType     { return EventRecordChanged }
func (RosterChanged) Type() EventType     { return EventRosterChanged }
func (StatusChanged) Type() EventType     { return EventStatusChanged }
func (GameStatusChanged) Type() EventType { return EventGameStatusChanged }
func (Kicked) Type() EventType            { return EventKicked }
func (Left) Type() EventType              { return EventLeft }
func (SessionEnded) Type() EventType      { return EventSessionEnded }
func (ErrorEvent) Type() EventType        { return EventError }

type Listener func(Event)

// Registry fans events out to listeners in registration order. Listeners are
// called on the emitting controller's event goroutine and must not block on
// that controller's own operations.
type Registry struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]registration
}

type registration struct {
	typ EventType // zero matches every type
	fn  Listener
}

func NewRegistry() *Registry {
	return &Registry{listeners: make(map[int]registration)}
}

// On registers fn for events of type t. The returned func removes it.
func (r *Registry) On(t EventType, fn Listener) (cancel func()) {
	return r.add(registration{typ: t, fn: fn})
}

// OnAny registers fn for every event.
func (r *Registry) OnAny(fn Listener) (cancel func()) {
	return r.add(registration{fn: fn})
}

func (r *Registry) add(reg registration) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[id] = reg
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Registry) emit(e Event) {
	r.mu.Lock()
	ids := make([]int, 0, len(r.listeners))
	for id, reg := range r.listeners {
		if reg.typ == 0 || reg.typ == e.Type() {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	fns := make([]Listener, len(ids))
	for i, id := range ids {
		fns[i] = r.listeners[id].fn
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
