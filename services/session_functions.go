package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gamesession/functions"
	"gamesession/models"
	"gamesession/session"
	"gamesession/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxCodeAttempts = 8

var ErrCodeSpaceExhausted = errors.New("could not allocate a unique session code")

// TokenVerifier resolves an id token to the user id it was issued to.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// SessionStorage is a store that can allocate root documents atomically.
type SessionStorage interface {
	store.SessionStore
	store.Creator
}

// SessionFunctions is the server-side authority behind createSessionCode and
// leaveSession.
type SessionFunctions struct {
	store    SessionStorage
	verifier TokenVerifier
	ledger   Ledger
	lifetime time.Duration
	now      func() time.Time
	newCode  func() string
	log      zerolog.Logger
}

func NewSessionFunctions(st SessionStorage, verifier TokenVerifier, ledger Ledger, lifetime time.Duration) *SessionFunctions {
	if lifetime <= 0 {
		lifetime = models.SessionLifetime
	}
	return &SessionFunctions{
		store:    st,
		verifier: verifier,
		ledger:   ledger,
		lifetime: lifetime,
		now:      time.Now,
		newCode:  generateCode,
		log:      log.Logger,
	}
}

// generateCode returns six lowercase hex characters.
func generateCode() string {
	b := make([]byte, 3)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func parseGameSetting(raw string) (models.GameSetting, error) {
	if strings.TrimSpace(raw) == "" {
		return models.DefaultGameSetting(), nil
	}
	var setting models.GameSetting
	if err := json.Unmarshal([]byte(raw), &setting); err != nil {
		return setting, fmt.Errorf("%w: gameSetting: %v", session.ErrInvalidInput, err)
	}
	if err := setting.Validate(); err != nil {
		return setting, fmt.Errorf("%w: gameSetting: %v", session.ErrInvalidInput, err)
	}
	return setting, nil
}

func (f *SessionFunctions) CreateSessionCode(ctx context.Context, req functions.CreateSessionRequest) (functions.CreateSessionResponse, error) {
	hostID, err := f.verifier.Verify(req.IDToken)
	if err != nil {
		return functions.CreateSessionResponse{}, fmt.Errorf("%w: %v", session.ErrUnauthenticated, err)
	}
	setting, err := parseGameSetting(req.GameSetting)
	if err != nil {
		return functions.CreateSessionResponse{}, err
	}

	now := f.now()
	rec := models.NewSessionRecord(hostID, req.GameStatus, setting, now)
	rec.ExpiresAt = rec.CreatedAt + f.lifetime.Milliseconds()
	data, err := json.Marshal(rec)
	if err != nil {
		return functions.CreateSessionResponse{}, err
	}

	var code string
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		candidate := f.newCode()
		created, err := f.store.CreateIfAbsent(ctx, session.Path(candidate), data)
		if err != nil {
			return functions.CreateSessionResponse{}, fmt.Errorf("%w: %v", session.ErrTransportFailure, err)
		}
		if created {
			code = candidate
			break
		}
		f.log.Debug().Str("code", candidate).Msg("session code collision")
	}
	if code == "" {
		return functions.CreateSessionResponse{}, ErrCodeSpaceExhausted
	}

	if err := f.ledger.RecordCreated(ctx, code, rec); err != nil {
		f.log.Error().Err(err).Str("code", code).Msg("failed to record session")
	}
	f.log.Info().Str("code", code).Str("host", hostID).Str("mode", string(setting.GameMode)).Msg("session created")

	return functions.CreateSessionResponse{
		Success:     true,
		SessionCode: code,
		SessionData: data,
	}, nil
}

func (f *SessionFunctions) LeaveSession(ctx context.Context, req functions.LeaveSessionRequest) (functions.Ack, error) {
	code := strings.ToLower(strings.TrimSpace(req.SessionCode))
	if code == "" || req.PlayerID == "" || strings.Contains(code+req.PlayerID, "/") {
		return functions.Ack{}, fmt.Errorf("%w: sessionCode and playerId are required", session.ErrInvalidInput)
	}
	if err := f.store.Delete(ctx, session.PlayerPath(code, req.PlayerID)); err != nil {
		return functions.Ack{}, fmt.Errorf("%w: %v", session.ErrTransportFailure, err)
	}
	if err := f.ledger.RecordDeparture(ctx, code, req.PlayerID, f.now()); err != nil {
		f.log.Error().Err(err).Str("code", code).Str("player", req.PlayerID).Msg("failed to record departure")
	}
	f.log.Info().Str("code", code).Str("player", req.PlayerID).Msg("player left session")
	return functions.Ack{Success: true}, nil
}
