package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gamesession/functions"
	"gamesession/models"
	"gamesession/session"
	"gamesession/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by operations on a closed controller.
var ErrClosed = fmt.Errorf("%w: controller closed", session.ErrInvalidState)

const (
	defaultOpTimeout = 10 * time.Second
	expiryRecheck    = time.Second
)

type options struct {
	log     zerolog.Logger
	now     func() time.Time
	timeout time.Duration
	events  *Registry
}

type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTimeout bounds every store read/write and RPC a public operation makes.
// Zero leaves the caller's context alone.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRegistry shares an event registry between controllers.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.events = r }
}

func buildOptions(opts []Option) options {
	o := options{
		log:     log.Logger,
		now:     time.Now,
		timeout: defaultOpTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.events == nil {
		o.events = NewRegistry()
	}
	return o
}

// loop runs tasks one at a time on a single goroutine. Every change to a
// controller's session state happens inside a task.
type loop struct {
	tasks chan func()
	quit  chan struct{}
	once  sync.Once
}

func newLoop() *loop {
	l := &loop{
		tasks: make(chan func(), 64),
		quit:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *loop) run() {
	for {
		select {
		case <-l.quit:
			return
		case task := <-l.tasks:
			task()
		}
	}
}

// post queues task. It reports false once the loop is stopped.
func (l *loop) post(task func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- task:
		return true
	case <-l.quit:
		return false
	}
}

// exec runs task on the loop and waits for it. It must not be called from
// the loop itself.
func (l *loop) exec(ctx context.Context, task func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		task()
	}
	select {
	case <-l.quit:
		return ErrClosed
	default:
	}
	select {
	case l.tasks <- wrapped:
	case <-l.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-l.quit:
		return ErrClosed
	}
}

func (l *loop) stop() {
	l.once.Do(func() { close(l.quit) })
}

// core is the state and feed handling shared by the client and host
// controllers. Fields under mu are read by getters from any goroutine and
// written only on the loop. The rest is owned by the loop.
type core struct {
	loop   *loop
	events *Registry
	store  store.SessionStore
	rpc    functions.Client
	log    zerolog.Logger
	now    func() time.Time
	opTTL  time.Duration

	mu         sync.RWMutex
	code       string
	record     *models.SessionRecord
	roster     models.Roster
	status     models.SessionStatus
	gameStatus string

	selfID     string
	subs       []store.Subscription
	gen        uint64
	activeGen  uint64
	pendingGen uint64
	pending    []feedUpdate
	expiry     *time.Timer

	// Role hooks, called on the loop.
	onEnd    func(EndReason)
	onKicked func()
}

func newCore(st store.SessionStore, rpc functions.Client, o options) *core {
	return &core{
		loop:   newLoop(),
		events: o.events,
		store:  st,
		rpc:    rpc,
		log:    o.log,
		now:    o.now,
		opTTL:  o.timeout,
		roster: models.Roster{},
	}
}

func (c *core) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTTL <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opTTL)
}

func (c *core) nowMillis() int64 { return c.now().UnixMilli() }

// Events returns the registry events are emitted on.
func (c *core) Events() *Registry { return c.events }

func (c *core) Code() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.code
}

// Record returns a copy of the local session snapshot.
func (c *core) Record() (models.SessionRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.record == nil {
		return models.SessionRecord{}, false
	}
	return c.record.Clone(), true
}

// Roster returns the local roster snapshot. The map is never mutated after it
// is published, so callers must not mutate it either.
func (c *core) Roster() models.Roster {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roster
}

func (c *core) SessionStatus() models.SessionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *core) GameStatus() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gameStatus
}

func (c *core) emit(e Event) { c.events.emit(e) }

func (c *core) emitError(code, op string, err error) {
	c.log.Warn().Err(err).Str("code", code).Str("op", op).Msg("session error")
	c.emit(ErrorEvent{Code: code, Op: op, Err: err})
}

// beginAttempt opens a new generation for a join or create attempt. Feed
// updates for it are buffered until commit. Runs on the loop.
func (c *core) beginAttempt() uint64 {
	c.gen++
	c.pendingGen = c.gen
	c.pending = nil
	return c.gen
}

// abandon closes a failed attempt. It reports whether gen was still the
// pending attempt. Runs on the loop.
func (c *core) abandon(gen uint64) bool {
	if c.pendingGen != gen {
		return false
	}
	c.pendingGen = 0
	c.pending = nil
	return true
}

// commit makes gen the live generation with rec as the local snapshot.
// Runs on the loop; the caller emits its own event and then calls replay.
func (c *core) commit(gen uint64, code string, rec *models.SessionRecord, subs []store.Subscription) {
	c.pendingGen = 0
	c.activeGen = gen
	c.subs = subs

	c.mu.Lock()
	c.code = code
	c.record = rec
	c.roster = rec.Players.Clone()
	c.status = rec.SessionStatus
	c.gameStatus = rec.GameStatus
	c.mu.Unlock()

	c.armExpiry(gen, rec.ExpiresTime())
}

// replay feeds the updates buffered while gen was pending. Runs on the loop.
func (c *core) replay(gen uint64) {
	buffered := c.pending
	c.pending = nil
	for _, u := range buffered {
		if c.activeGen != gen {
			return
		}
		c.handleFeed(u.kind, u.snap)
	}
}

// teardown unsubscribes every listener and fences out their late deliveries.
// Runs on the loop.
func (c *core) teardown() {
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil
	c.activeGen = 0
	c.pending = nil
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
}

func (c *core) armExpiry(gen uint64, at time.Time) {
	if c.expiry != nil {
		c.expiry.Stop()
	}
	d := at.Sub(c.now()) + time.Millisecond
	if d < 0 {
		d = 0
	}
	c.expiry = time.AfterFunc(d, func() {
		c.loop.post(func() { c.checkExpiry(gen) })
	})
}

func (c *core) checkExpiry(gen uint64) {
	if c.activeGen != gen {
		return
	}
	c.mu.RLock()
	rec := c.record
	c.mu.RUnlock()
	if rec == nil {
		return
	}
	if rec.ExpiredAt(c.nowMillis()) {
		c.onEnd(EndExpired)
		return
	}
	// The clock disagrees with the timer; look again later.
	c.armExpiry(gen, c.now().Add(expiryRecheck))
}

// close tears down and stops the loop. Safe to call more than once.
func (c *core) close() {
	_ = c.loop.exec(context.Background(), func() {
		c.teardown()
		c.pendingGen = 0
	})
	c.loop.stop()
}

// transport wraps a store or RPC failure in the taxonomy.
func transport(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, store.ErrForbidden):
		return fmt.Errorf("%s: %w: %v", op, session.ErrUnauthenticated, err)
	case errors.Is(err, store.ErrInvalidPath):
		return fmt.Errorf("%s: %w: %v", op, session.ErrInvalidInput, err)
	}
	return fmt.Errorf("%s: %w: %w", op, session.ErrTransportFailure, err)
}

// rpcFailure maps a session function error onto the taxonomy. Errors that
// already carry a taxonomy entry pass through.
func rpcFailure(op string, err error) error {
	for _, known := range []error{
		session.ErrUnauthenticated,
		session.ErrInvalidInput,
		session.ErrNotFound,
		session.ErrInvalidState,
		session.ErrParseFailure,
		session.ErrTransportFailure,
	} {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	var se *functions.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == 401 || se.Code == 403:
			return fmt.Errorf("%s: %w: %v", op, session.ErrUnauthenticated, err)
		case se.Code == 400:
			return fmt.Errorf("%s: %w: %v", op, session.ErrInvalidInput, err)
		case se.Code == 404:
			return fmt.Errorf("%s: %w: %v", op, session.ErrNotFound, err)
		}
	}
	return transport(op, err)
}
