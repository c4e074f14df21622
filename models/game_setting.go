package models

import "fmt"

type GameMode string

const (
	GameModeTime  GameMode = "time"
	GameModeScore GameMode = "score"
)

// GameSetting is the host-chosen end condition for a session. Only the limit
// matching GameMode is meaningful.
type GameSetting struct {
	GameMode   GameMode `json:"gameMode"`
	TimeLimit  int      `json:"timeLimit"`
	ScoreLimit int      `json:"scoreLimit"`
}

// DefaultGameSetting is used when a host creates a session without settings.
func DefaultGameSetting() GameSetting {
	return GameSetting{GameMode: GameModeTime, TimeLimit: 10}
}

// Limit returns the bound for the selected mode.
func (g GameSetting) Limit() int {
	if g.GameMode == GameModeScore {
		return g.ScoreLimit
	}
	return g.TimeLimit
}

func (g GameSetting) Validate() error {
	switch g.GameMode {
	case GameModeTime, GameModeScore:
	default:
		return fmt.Errorf("unknown game mode %q", g.GameMode)
	}
	if g.Limit() <= 0 {
		return fmt.Errorf("%s limit must be positive, got %d", g.GameMode, g.Limit())
	}
	return nil
}
