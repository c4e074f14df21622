package models

import (
	"time"

	"gorm.io/gorm"
)

// SessionEntry is the durable ledger row written when a session code is
// allocated. A code is unique among live rows only; the reaper frees codes for
// reuse.
type SessionEntry struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	Code       string         `json:"code" gorm:"not null;index:idx_session_entries_live_code,unique,where:ended_at IS NULL"`
	HostID     string         `json:"host_id" gorm:"not null"`
	GameMode   string         `json:"game_mode" gorm:"not null"`
	TimeLimit  int            `json:"time_limit" gorm:"not null;default:0"`
	ScoreLimit int            `json:"score_limit" gorm:"not null;default:0"`
	ExpiresAt  time.Time      `json:"expires_at" gorm:"index;not null"`
	EndedAt    *time.Time     `json:"ended_at" gorm:"index"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Departures []Departure `json:"departures,omitempty" gorm:"foreignKey:SessionID"`
}

// Departure records a player leaving through the leaveSession function.
type Departure struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	SessionID uint           `json:"session_id" gorm:"not null;index"`
	PlayerID  string         `json:"player_id" gorm:"not null"`
	LeftAt    time.Time      `json:"left_at"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}
