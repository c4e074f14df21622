// Package functions holds the wire types and client for the session
// server's callable functions.
package functions

import (
	"context"
	"encoding/json"

	"gamesession/models"
)

// Client calls the server-side session functions. Implementations must honor
// ctx cancellation; a cancelled call may still have completed server-side.
type Client interface {
	CreateSessionCode(ctx context.Context, req CreateSessionRequest) (CreateSessionResponse, error)
	LeaveSession(ctx context.Context, req LeaveSessionRequest) (Ack, error)
}

type CreateSessionRequest struct {
	GameStatus string `json:"gameStatus"`
	IDToken    string `json:"idToken"`
	// GameSetting is the settings object serialized as a JSON string. Empty
	// selects the server default.
	GameSetting string `json:"gameSetting,omitempty"`
}

// NewCreateSessionRequest serializes setting into the request. A nil setting
// leaves the choice to the server.
func NewCreateSessionRequest(gameStatus, idToken string, setting *models.GameSetting) (CreateSessionRequest, error) {
	req := CreateSessionRequest{GameStatus: gameStatus, IDToken: idToken}
	if setting != nil {
		raw, err := json.Marshal(setting)
		if err != nil {
			return req, err
		}
		req.GameSetting = string(raw)
	}
	return req, nil
}

type CreateSessionResponse struct {
	Success     bool            `json:"success"`
	SessionCode string          `json:"sessionCode"`
	SessionData json.RawMessage `json:"sessionData"`
	Error       string          `json:"error,omitempty"`
}

type LeaveSessionRequest struct {
	SessionCode string `json:"sessionCode"`
	PlayerID    string `json:"playerId"`
}

type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
