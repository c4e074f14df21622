package services

import (
	"context"
	"reflect"

	"gamesession/models"
	"gamesession/session"
	"gamesession/store"
)

type feedKind int

const (
	feedRecord feedKind = iota
	feedRoster
	feedStatus
	feedGameStatus
)

func (k feedKind) path(code string) string {
	switch k {
	case feedRoster:
		return session.PlayersPath(code)
	case feedStatus:
		return session.StatusPath(code)
	case feedGameStatus:
		return session.GameStatusPath(code)
	}
	return session.Path(code)
}

var feedKinds = []feedKind{feedRecord, feedRoster, feedStatus, feedGameStatus}

type feedUpdate struct {
	kind feedKind
	snap store.Snapshot
}

// subscribeAll opens the four session feeds for generation gen. On failure
// the feeds opened so far are closed again.
func (c *core) subscribeAll(ctx context.Context, code string, gen uint64) ([]store.Subscription, error) {
	subs := make([]store.Subscription, 0, len(feedKinds))
	for _, kind := range feedKinds {
		kind := kind
		sub, err := c.store.Subscribe(ctx, kind.path(code), func(s store.Snapshot) {
			c.loop.post(func() { c.route(gen, kind, s) })
		})
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return nil, transport("subscribe "+kind.path(code), err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// route fences a delivery by generation: live updates are handled, updates
// for the attempt in flight are buffered and anything else is dropped.
func (c *core) route(gen uint64, kind feedKind, s store.Snapshot) {
	switch {
	case gen == c.activeGen:
		c.handleFeed(kind, s)
	case gen == c.pendingGen:
		c.pending = append(c.pending, feedUpdate{kind: kind, snap: s})
	default:
		c.log.Debug().Uint64("gen", gen).Str("path", s.Path).Msg("dropping stale feed update")
	}
}

func (c *core) handleFeed(kind feedKind, s store.Snapshot) {
	code := c.code
	if s.Err != nil {
		c.emitError(code, s.Path, transport("feed "+s.Path, s.Err))
		return
	}
	switch kind {
	case feedRecord:
		c.applyRecord(code, s)
	case feedRoster:
		c.applyRoster(code, s)
	case feedStatus:
		c.applyStatus(code, s)
	case feedGameStatus:
		c.applyGameStatus(code, s)
	}
}

func (c *core) applyRecord(code string, s store.Snapshot) {
	rec, err := session.DecodeRecord(s.Value)
	if err != nil {
		c.emitError(code, s.Path, err)
		return
	}
	if rec == nil {
		c.onEnd(EndRemoved)
		return
	}
	if rec.ExpiredAt(c.nowMillis()) {
		c.onEnd(EndExpired)
		return
	}

	c.mu.Lock()
	prevExpiry := c.record.ExpiresAt
	c.record = rec
	c.mu.Unlock()

	if rec.ExpiresAt != prevExpiry {
		c.armExpiry(c.activeGen, rec.ExpiresTime())
	}
	c.emit(RecordChanged{Code: code, Record: rec.Clone()})
	if rec.SessionStatus == models.StatusFinished {
		c.onEnd(EndFinished)
	}
}

func (c *core) applyRoster(code string, s store.Snapshot) {
	// Deleting the last player leaves {}; the subtree itself only vanishes
	// when players or the whole session is deleted. The record tells the two
	// apart.
	if c.selfID != "" && !s.Exists() {
		c.resolveVanishedRoster(c.activeGen, code)
		return
	}
	raw, err := session.DecodeRoster(s.Value)
	if err != nil {
		c.emitError(code, s.Path, err)
		return
	}

	prev := c.roster
	diff := session.Reconcile(prev, raw, c.selfID, c.selfID != "")
	if diff.SelfWasKicked {
		c.onKicked()
		return
	}
	if reflect.DeepEqual(prev, diff.Roster) {
		return
	}

	c.mu.Lock()
	c.roster = diff.Roster
	c.mu.Unlock()
	c.emit(RosterChanged{Code: code, Diff: diff})
}

// resolveVanishedRoster reads the session record off the loop and then ends
// the session if it is gone, or treats the player as kicked otherwise.
func (c *core) resolveVanishedRoster(gen uint64, code string) {
	go func() {
		ctx, cancel := c.withTimeout(context.Background())
		defer cancel()
		raw, err := c.store.Get(ctx, session.Path(code))
		c.loop.post(func() {
			if c.activeGen != gen {
				return
			}
			if err == nil && raw == nil {
				c.onEnd(EndRemoved)
				return
			}
			if err != nil {
				c.log.Warn().Err(err).Str("code", code).Msg("could not read session after roster vanished")
			}
			c.onKicked()
		})
	}()
}

func (c *core) applyStatus(code string, s store.Snapshot) {
	status, ok, err := session.DecodeStatus(s.Value)
	if err != nil {
		c.emitError(code, s.Path, err)
		return
	}
	if !ok {
		return
	}
	prev := c.status
	if status != prev {
		c.mu.Lock()
		c.status = status
		c.mu.Unlock()
		c.emit(StatusChanged{Code: code, Previous: prev, Status: status})
	}
	if status == models.StatusFinished {
		c.onEnd(EndFinished)
	}
}

func (c *core) applyGameStatus(code string, s store.Snapshot) {
	value, _, err := session.DecodeString(s.Value)
	if err != nil {
		c.emitError(code, s.Path, err)
		return
	}
	if value == c.gameStatus {
		return
	}
	c.mu.Lock()
	c.gameStatus = value
	c.mu.Unlock()
	c.emit(GameStatusChanged{Code: code, GameStatus: value})
}
