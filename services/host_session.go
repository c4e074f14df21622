package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gamesession/functions"
	"gamesession/models"
	"gamesession/session"
	"gamesession/store"
)

type HostState int

const (
	HostIdle HostState = iota
	HostCreating
	HostFailed
	HostActive
	HostEnded
)

func (s HostState) String() string {
	switch s {
	case HostIdle:
		return "idle"
	case HostCreating:
		return "creating"
	case HostFailed:
		return "failed"
	case HostActive:
		return "active"
	case HostEnded:
		return "ended"
	}
	return fmt.Sprintf("host_state(%d)", int(s))
}

// CredentialSource supplies the privileged token a host acts with.
// *identity.Session implements it.
type CredentialSource interface {
	IDToken() string
}

// HostSession creates a session and observes it the way a player would.
type HostSession struct {
	*core
	creds CredentialSource

	state   HostState
	token   string
	lastErr error
}

func NewHostSession(st store.SessionStore, rpc functions.Client, creds CredentialSource, opts ...Option) *HostSession {
	o := buildOptions(opts)
	h := &HostSession{
		core:  newCore(st, rpc, o),
		creds: creds,
	}
	h.onEnd = h.end
	// A host is never a roster entry, so it cannot be kicked.
	h.onKicked = func() {}
	return h
}

func (h *HostSession) State() HostState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *HostSession) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

func (h *HostSession) setState(s HostState, err error) {
	h.mu.Lock()
	h.state = s
	h.lastErr = err
	h.mu.Unlock()
}

// CreateSession asks the server for a new session code and starts observing
// it. A nil setting lets the server pick its default. Creating while another
// session is active tears the old one down first.
func (h *HostSession) CreateSession(ctx context.Context, gameStatus string, setting *models.GameSetting) (string, error) {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	var gen uint64
	if err := h.loop.exec(ctx, func() {
		if h.state == HostActive {
			h.teardown()
		}
		gen = h.beginAttempt()
		h.setState(HostCreating, nil)
	}); err != nil {
		return "", err
	}

	token := h.creds.IDToken()
	if token == "" {
		return "", h.failCreate(gen, fmt.Errorf("create session: %w", session.ErrUnauthenticated))
	}
	if setting != nil {
		if err := setting.Validate(); err != nil {
			return "", h.failCreate(gen, fmt.Errorf("%w: %v", session.ErrInvalidInput, err))
		}
	}

	req, err := functions.NewCreateSessionRequest(gameStatus, token, setting)
	if err != nil {
		return "", h.failCreate(gen, fmt.Errorf("%w: %v", session.ErrInvalidInput, err))
	}
	resp, err := h.rpc.CreateSessionCode(ctx, req)
	if err != nil {
		return "", h.failCreate(gen, rpcFailure("create session", err))
	}
	if !resp.Success {
		return "", h.failCreate(gen, fmt.Errorf("create session: %w: %s", session.ErrTransportFailure, resp.Error))
	}
	code, err := normalizeCode(resp.SessionCode)
	if err != nil {
		return "", h.failCreate(gen, fmt.Errorf("%w: session code %q", session.ErrParseFailure, resp.SessionCode))
	}
	rec, err := session.DecodeRecord(resp.SessionData)
	if err == nil && rec == nil {
		err = fmt.Errorf("%w: response carries no session data", session.ErrParseFailure)
	}
	if err != nil {
		return "", h.failCreate(gen, err)
	}

	subs, err := h.subscribeAll(ctx, code, gen)
	if err != nil {
		return "", h.failCreate(gen, err)
	}

	var superseded bool
	if err := h.loop.exec(context.Background(), func() {
		if h.pendingGen != gen {
			superseded = true
			return
		}
		h.mu.Lock()
		h.token = token
		h.mu.Unlock()
		h.commit(gen, code, rec, subs)
		h.setState(HostActive, nil)
		h.emit(SessionCreated{Code: code, Record: rec.Clone()})
		h.replay(gen)
	}); err != nil {
		for _, s := range subs {
			s.Unsubscribe()
		}
		return "", err
	}
	if superseded {
		for _, s := range subs {
			s.Unsubscribe()
		}
		return "", fmt.Errorf("%w: create superseded by a newer attempt", session.ErrInvalidState)
	}

	h.log.Info().Str("code", code).Uint64("gen", gen).Msg("session created")
	return code, nil
}

func (h *HostSession) failCreate(gen uint64, err error) error {
	_ = h.loop.exec(context.Background(), func() {
		if !h.abandon(gen) {
			return
		}
		h.setState(HostFailed, err)
		h.emitError("", "create", err)
	})
	return err
}

// active returns the session code and token while Active.
func (h *HostSession) active() (code, token string, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state != HostActive {
		return "", "", fmt.Errorf("%w: no active session (%s)", session.ErrInvalidState, h.state)
	}
	if h.token == "" {
		return "", "", session.ErrUnauthenticated
	}
	return h.code, h.token, nil
}

// KickPlayer removes a player's roster entry. Kicking an absent player
// succeeds. Kicks do not pass through the event loop, so concurrent kicks of
// different players proceed independently.
func (h *HostSession) KickPlayer(ctx context.Context, playerID string) error {
	code, token, err := h.active()
	if err != nil {
		return err
	}
	if strings.TrimSpace(playerID) == "" || strings.Contains(playerID, "/") {
		return fmt.Errorf("%w: player id %q", session.ErrInvalidInput, playerID)
	}
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	ctx = store.WithCredential(ctx, token)
	if err := h.store.Delete(ctx, session.PlayerPath(code, playerID)); err != nil {
		return transport("kick "+playerID, err)
	}
	h.log.Info().Str("code", code).Str("player", playerID).Msg("kicked player")
	return nil
}

// SetSessionStatus moves the session status forward.
func (h *HostSession) SetSessionStatus(ctx context.Context, status models.SessionStatus) error {
	code, token, err := h.active()
	if err != nil {
		return err
	}
	if !status.Known() {
		return fmt.Errorf("%w: unknown status %q", session.ErrInvalidInput, status)
	}
	if cur := h.SessionStatus(); !cur.CanTransitionTo(status) {
		return fmt.Errorf("%w: cannot move from %s to %s", session.ErrInvalidState, cur, status)
	}
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	value, _ := json.Marshal(status)
	ctx = store.WithCredential(ctx, token)
	return transport("set status", h.store.Set(ctx, session.StatusPath(code), value))
}

// SetGameStatus writes the game layer's status. The value is opaque here.
func (h *HostSession) SetGameStatus(ctx context.Context, gameStatus string) error {
	code, token, err := h.active()
	if err != nil {
		return err
	}
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	value, _ := json.Marshal(gameStatus)
	ctx = store.WithCredential(ctx, token)
	return transport("set game status", h.store.Set(ctx, session.GameStatusPath(code), value))
}

// EndSession marks the session finished and stops observing it.
func (h *HostSession) EndSession(ctx context.Context) error {
	code, _, err := h.active()
	if err != nil {
		return err
	}
	if err := h.SetSessionStatus(ctx, models.StatusFinished); err != nil {
		return err
	}
	return h.loop.exec(context.Background(), func() {
		if h.state == HostActive && h.code == code {
			h.end(EndFinished)
		}
	})
}

func (h *HostSession) Close() {
	h.close()
}

func (h *HostSession) end(reason EndReason) {
	code := h.code
	h.teardown()
	h.setState(HostEnded, nil)
	h.log.Info().Str("code", code).Str("reason", string(reason)).Msg("session ended")
	h.emit(SessionEnded{Code: code, Reason: reason})
}
