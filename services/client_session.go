package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gamesession/functions"
	"gamesession/identity"
	"gamesession/models"
	"gamesession/session"
	"gamesession/store"
)

type ClientState int

const (
	ClientUnbound ClientState = iota
	ClientChecking
	ClientRejected
	ClientJoining
	ClientJoined
	ClientKicked
	ClientLeftVoluntarily
	ClientSessionEnded
)

func (s ClientState) String() string {
	switch s {
	case ClientUnbound:
		return "unbound"
	case ClientChecking:
		return "checking"
	case ClientRejected:
		return "rejected"
	case ClientJoining:
		return "joining"
	case ClientJoined:
		return "joined"
	case ClientKicked:
		return "kicked"
	case ClientLeftVoluntarily:
		return "left"
	case ClientSessionEnded:
		return "session_ended"
	}
	return fmt.Sprintf("client_state(%d)", int(s))
}

// UserSource resolves the signed-in user. *identity.Session implements it.
type UserSource interface {
	UserID() string
}

// ClientSession is a player's view of one session at a time.
type ClientSession struct {
	*core
	users UserSource

	state   ClientState
	lastErr error
	leaving bool
}

func NewClientSession(st store.SessionStore, rpc functions.Client, users UserSource, opts ...Option) *ClientSession {
	o := buildOptions(opts)
	c := &ClientSession{
		core:  newCore(st, rpc, o),
		users: users,
	}
	c.onEnd = c.end
	c.onKicked = c.kicked
	return c
}

func (c *ClientSession) State() ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the reason the last check or join was rejected.
func (c *ClientSession) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *ClientSession) PlayerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selfIDLocked()
}

func (c *ClientSession) selfIDLocked() string {
	if c.state != ClientJoined {
		return ""
	}
	return c.selfID
}

func (c *ClientSession) setState(s ClientState, err error) {
	c.mu.Lock()
	c.state = s
	c.lastErr = err
	c.mu.Unlock()
}

func normalizeCode(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" || strings.ContainsAny(code, "/.#$[]") {
		return "", fmt.Errorf("%w: session code %q", session.ErrInvalidInput, code)
	}
	return code, nil
}

func (c *ClientSession) readRecord(ctx context.Context, code string) (*models.SessionRecord, error) {
	raw, err := c.store.Get(ctx, session.Path(code))
	if err != nil {
		return nil, transport("read session "+code, err)
	}
	return session.DecodeRecord(raw)
}

// CheckSessionExistsAndActive reads the session and applies the existence
// rule: waiting and playing sessions pass. On success the controller returns
// to Unbound; on failure it is Rejected and an error event is emitted.
func (c *ClientSession) CheckSessionExistsAndActive(ctx context.Context, code string) (models.SessionRecord, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return models.SessionRecord{}, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var busy error
	if err := c.loop.exec(ctx, func() {
		switch c.state {
		case ClientJoining, ClientJoined:
			busy = fmt.Errorf("%w: cannot check while %s", session.ErrInvalidState, c.state)
			return
		}
		c.setState(ClientChecking, nil)
	}); err != nil {
		return models.SessionRecord{}, err
	}
	if busy != nil {
		return models.SessionRecord{}, busy
	}

	rec, err := c.readRecord(ctx, code)
	if err == nil {
		err = session.CheckExists(rec, c.nowMillis()).Err()
	}

	if execErr := c.loop.exec(context.Background(), func() {
		if c.state != ClientChecking {
			return
		}
		if err != nil {
			c.setState(ClientRejected, err)
			c.emitError(code, "check", err)
			return
		}
		c.setState(ClientUnbound, nil)
	}); execErr != nil {
		return models.SessionRecord{}, execErr
	}
	if err != nil {
		return models.SessionRecord{}, err
	}
	return rec.Clone(), nil
}

// Join adds the signed-in user to session code under displayName and starts
// following the session. Joining again with the same identity is safe: an
// existing roster entry is reused without a write.
func (c *ClientSession) Join(ctx context.Context, code, displayName string) error {
	code, err := normalizeCode(code)
	if err != nil {
		return err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return fmt.Errorf("%w: display name is empty", session.ErrInvalidInput)
	}
	rawID := c.users.UserID()
	if strings.TrimSpace(rawID) == "" {
		return fmt.Errorf("join %s: %w", code, session.ErrUnauthenticated)
	}
	playerID := identity.Normalize(rawID)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		gen     uint64
		already bool
		busy    error
	)
	if err := c.loop.exec(ctx, func() {
		if c.state == ClientJoined {
			if c.code == code && c.selfID == playerID {
				already = true
				return
			}
			busy = fmt.Errorf("%w: already joined %s", session.ErrInvalidState, c.code)
			return
		}
		gen = c.beginAttempt()
		c.setState(ClientJoining, nil)
	}); err != nil {
		return err
	}
	if already || busy != nil {
		return busy
	}

	l := c.log.With().Str("code", code).Str("player", playerID).Uint64("gen", gen).Logger()

	rec, err := c.readRecord(ctx, code)
	if err != nil {
		return c.failJoin(gen, code, err)
	}
	if res := session.Check(rec, c.nowMillis()); !res.OK() {
		return c.failJoin(gen, code, res.Err())
	}

	rejoined := rec.Players.Has(playerID)
	if !rejoined {
		player, err := json.Marshal(models.NewPlayerRecord(playerID, displayName))
		if err != nil {
			return c.failJoin(gen, code, err)
		}
		if err := c.store.Set(ctx, session.PlayerPath(code, playerID), player); err != nil {
			return c.failJoin(gen, code, transport("write player", err))
		}
		// Re-read to pick up fields changed since the first read.
		rec, err = c.readRecord(ctx, code)
		if err != nil {
			return c.failJoin(gen, code, err)
		}
		if rec == nil || !rec.Players.Has(playerID) {
			return c.failJoin(gen, code, fmt.Errorf("%w: player entry missing after join", session.ErrNotFound))
		}
	}

	subs, err := c.subscribeAll(ctx, code, gen)
	if err != nil {
		return c.failJoin(gen, code, err)
	}

	var superseded bool
	if err := c.loop.exec(context.Background(), func() {
		if c.pendingGen != gen {
			superseded = true
			return
		}
		c.mu.Lock()
		c.selfID = playerID
		c.mu.Unlock()
		c.commit(gen, code, rec, subs)
		c.setState(ClientJoined, nil)
		c.emit(SessionJoined{Code: code, PlayerID: playerID, Record: rec.Clone(), Rejoined: rejoined})
		c.replay(gen)
	}); err != nil {
		for _, s := range subs {
			s.Unsubscribe()
		}
		return err
	}
	if superseded {
		for _, s := range subs {
			s.Unsubscribe()
		}
		return fmt.Errorf("%w: join superseded by a newer attempt", session.ErrInvalidState)
	}

	l.Info().Bool("rejoined", rejoined).Msg("joined session")
	return nil
}

func (c *ClientSession) failJoin(gen uint64, code string, err error) error {
	_ = c.loop.exec(context.Background(), func() {
		if !c.abandon(gen) {
			return
		}
		c.setState(ClientRejected, err)
		c.emitError(code, "join", err)
	})
	return fmt.Errorf("join %s: %w", code, err)
}

// joined returns the code and player id while Joined.
func (c *ClientSession) joined() (code, playerID string, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != ClientJoined {
		return "", "", fmt.Errorf("%w: not joined (%s)", session.ErrInvalidState, c.state)
	}
	return c.code, c.selfID, nil
}

// Leave asks the server to remove the player and then stops following the
// session. If the call fails nothing changes locally and the caller may
// retry.
func (c *ClientSession) Leave(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		code, playerID string
		notJoined      error
	)
	if err := c.loop.exec(ctx, func() {
		if c.state != ClientJoined {
			notJoined = fmt.Errorf("%w: not joined (%s)", session.ErrInvalidState, c.state)
			return
		}
		code, playerID = c.code, c.selfID
		// The server's delete of our own entry is a departure, not a kick.
		c.leaving = true
	}); err != nil {
		return err
	}
	if notJoined != nil {
		return notJoined
	}

	ack, err := c.rpc.LeaveSession(ctx, functions.LeaveSessionRequest{SessionCode: code, PlayerID: playerID})
	if err == nil && !ack.Success {
		err = fmt.Errorf("%w: %s", session.ErrTransportFailure, ack.Error)
	}
	if err != nil {
		_ = c.loop.exec(context.Background(), func() { c.leaving = false })
		return rpcFailure("leave "+code, err)
	}

	return c.loop.exec(context.Background(), func() {
		if c.state == ClientJoined && c.code == code {
			c.left()
		}
	})
}

// SetReady writes the player's ready flag.
func (c *ClientSession) SetReady(ctx context.Context, ready bool) error {
	code, playerID, err := c.joined()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	value, _ := json.Marshal(ready)
	return transport("set ready", c.store.Set(ctx, session.ReadyPath(code, playerID), value))
}

// Close stops following the session and releases the event goroutine.
func (c *ClientSession) Close() {
	c.close()
}

func (c *ClientSession) end(reason EndReason) {
	code := c.code
	c.teardown()
	c.setState(ClientSessionEnded, nil)
	c.log.Info().Str("code", code).Str("reason", string(reason)).Msg("session ended")
	c.emit(SessionEnded{Code: code, Reason: reason})
}

func (c *ClientSession) left() {
	code, playerID := c.code, c.selfID
	c.teardown()
	c.leaving = false
	c.setState(ClientLeftVoluntarily, nil)
	c.log.Info().Str("code", code).Str("player", playerID).Msg("left session")
	c.emit(Left{Code: code, PlayerID: playerID})
}

func (c *ClientSession) kicked() {
	if c.leaving {
		c.left()
		return
	}
	code, playerID := c.code, c.selfID
	c.teardown()
	c.setState(ClientKicked, nil)
	c.log.Info().Str("code", code).Str("player", playerID).Msg("kicked from session")
	c.emit(Kicked{Code: code, PlayerID: playerID})
}
