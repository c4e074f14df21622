package models

import "time"

type SessionStatus string

const (
	StatusWaiting  SessionStatus = "waiting"
	StatusPlaying  SessionStatus = "playing"
	StatusFinished SessionStatus = "finished"
)

// SessionLifetime is how long a session stays joinable after creation.
const SessionLifetime = 3 * time.Hour

func (s SessionStatus) Known() bool {
	return s.rank() > 0
}

// CanTransitionTo reports whether next is reachable from s. Status only moves
// forward: waiting -> playing -> finished.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	return s.Known() && next.Known() && next.rank() > s.rank()
}

func (s SessionStatus) rank() int {
	switch s {
	case StatusWaiting:
		return 1
	case StatusPlaying:
		return 2
	case StatusFinished:
		return 3
	}
	return 0
}

// SessionRecord is the stored shape of sessionCodes/{code}.
type SessionRecord struct {
	HostID        string        `json:"hostId"`
	CreatedAt     int64         `json:"createdAt"`
	ExpiresAt     int64         `json:"expiresAt"`
	GameSetting   GameSetting   `json:"gameSetting"`
	Players       Roster        `json:"players,omitempty"`
	SessionStatus SessionStatus `json:"sessionStatus"`
	GameStatus    string        `json:"gameStatus"`
}

// NewSessionRecord builds a waiting session with an empty roster that expires
// SessionLifetime after now.
func NewSessionRecord(hostID, gameStatus string, setting GameSetting, now time.Time) SessionRecord {
	created := now.UnixMilli()
	return SessionRecord{
		HostID:        hostID,
		CreatedAt:     created,
		ExpiresAt:     created + SessionLifetime.Milliseconds(),
		GameSetting:   setting,
		Players:       Roster{},
		SessionStatus: StatusWaiting,
		GameStatus:    gameStatus,
	}
}

// ExpiredAt reports whether the session is past its expiry at nowMillis.
func (r SessionRecord) ExpiredAt(nowMillis int64) bool {
	return nowMillis > r.ExpiresAt
}

func (r SessionRecord) ExpiresTime() time.Time {
	return time.UnixMilli(r.ExpiresAt)
}

// Clone returns a deep copy so a controller can replace its snapshot without
// sharing the roster map with the previous value.
func (r SessionRecord) Clone() SessionRecord {
	out := r
	out.Players = r.Players.Clone()
	return out
}
