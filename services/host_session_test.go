package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"gamesession/functions"
	"gamesession/models"
	"gamesession/session"
)

func TestCreateSession(t *testing.T) {
	f := newFixture(t)
	h := f.host(t)
	events := recordEvents(h.Events())

	setting := models.GameSetting{GameMode: models.GameModeScore, ScoreLimit: 7}
	code, err := h.CreateSession(context.Background(), "lobby", &setting)
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != 6 || h.State() != HostActive || h.Code() != code {
		t.Fatalf("code = %q, state = %s", code, h.State())
	}

	created := events.waitType(t, EventSessionCreated).(SessionCreated)
	if created.Record.HostID != "host-1" || created.Record.GameSetting != setting {
		t.Fatalf("record = %+v", created.Record)
	}
	if created.Record.SessionStatus != models.StatusWaiting || created.Record.GameStatus != "lobby" {
		t.Fatalf("record = %+v", created.Record)
	}
	if got := created.Record.ExpiresAt - created.Record.CreatedAt; got != models.SessionLifetime.Milliseconds() {
		t.Fatalf("lifetime = %dms", got)
	}
}

func TestCreateSessionFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("no credential", func(t *testing.T) {
		h := NewHostSession(f.store, f.fns, staticToken(""))
		t.Cleanup(h.Close)
		events := recordEvents(h.Events())
		if _, err := h.CreateSession(ctx, "", nil); !errors.Is(err, session.ErrUnauthenticated) {
			t.Fatalf("err = %v", err)
		}
		if h.State() != HostFailed {
			t.Fatalf("state = %s", h.State())
		}
		events.waitType(t, EventError)
	})

	t.Run("forged credential", func(t *testing.T) {
		h := NewHostSession(f.store, f.fns, staticToken("not-a-token"))
		t.Cleanup(h.Close)
		if _, err := h.CreateSession(ctx, "", nil); !errors.Is(err, session.ErrUnauthenticated) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("bad settings", func(t *testing.T) {
		h := f.host(t)
		bad := models.GameSetting{GameMode: "sudden-death", TimeLimit: 3}
		if _, err := h.CreateSession(ctx, "", &bad); !errors.Is(err, session.ErrInvalidInput) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("malformed response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>gateway</html>`))
		}))
		t.Cleanup(srv.Close)

		h := NewHostSession(f.store, functions.NewHTTPClient(srv.URL, nil), staticToken(f.token(t, "host-1")))
		t.Cleanup(h.Close)
		_, err := h.CreateSession(ctx, "", nil)
		if !errors.Is(err, session.ErrParseFailure) || errors.Is(err, session.ErrTransportFailure) {
			t.Fatalf("err = %v, want parse failure only", err)
		}
		if h.State() != HostFailed {
			t.Fatalf("state = %s", h.State())
		}
	})
}

func TestHostOperationsRequireActive(t *testing.T) {
	f := newFixture(t)
	h := f.host(t)
	ctx := context.Background()

	if err := h.KickPlayer(ctx, "p1"); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("kick: %v", err)
	}
	if err := h.SetSessionStatus(ctx, models.StatusPlaying); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("status: %v", err)
	}
	if err := h.EndSession(ctx); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("end: %v", err)
	}
}

func TestSessionStatusOnlyMovesForward(t *testing.T) {
	f := newFixture(t)
	h := f.host(t)
	events := recordEvents(h.Events())
	f.createSession(t, h)
	ctx := context.Background()

	if err := h.SetSessionStatus(ctx, models.StatusPlaying); err != nil {
		t.Fatal(err)
	}
	events.waitFor(t, "playing", func(e Event) bool {
		sc, ok := e.(StatusChanged)
		return ok && sc.Status == models.StatusPlaying
	})
	if err := h.SetSessionStatus(ctx, models.StatusWaiting); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("backwards: %v", err)
	}
	if err := h.SetSessionStatus(ctx, "paused"); !errors.Is(err, session.ErrInvalidInput) {
		t.Fatalf("unknown: %v", err)
	}
}

func TestConcurrentKicks(t *testing.T) {
	f := newFixture(t)
	h := f.host(t)
	events := recordEvents(h.Events())
	code := f.createSession(t, h)
	ctx := context.Background()

	const n = 6
	for i := 0; i < n; i++ {
		c := f.client(t, fmt.Sprintf("p%d", i))
		if err := c.Join(ctx, code, "P"); err != nil {
			t.Fatal(err)
		}
	}
	events.waitFor(t, "full roster", func(e Event) bool {
		rc, ok := e.(RosterChanged)
		return ok && len(rc.Roster) == n
	})

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			errs <- h.KickPlayer(ctx, id)
		}(fmt.Sprintf("p%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("kick: %v", err)
		}
	}

	events.waitFor(t, "empty roster", func(e Event) bool {
		rc, ok := e.(RosterChanged)
		return ok && len(rc.Roster) == 0 && len(rc.RemovedIDs) > 0
	})
	if h.State() != HostActive {
		t.Fatalf("host state = %s", h.State())
	}
}

func TestCreateWhileActiveReplacesSession(t *testing.T) {
	f := newFixture(t)
	h := f.host(t)
	events := recordEvents(h.Events())
	ctx := context.Background()

	first := f.createSession(t, h)
	second := f.createSession(t, h)
	if first == second || h.Code() != second {
		t.Fatalf("codes %s then %s, current %s", first, second, h.Code())
	}

	// Changes to the abandoned session no longer reach the host.
	before := events.count(EventGameStatusChanged)
	if err := f.store.Set(ctx, session.GameStatusPath(first), []byte(`"stale"`)); err != nil {
		t.Fatal(err)
	}
	if err := h.SetGameStatus(ctx, "fresh"); err != nil {
		t.Fatal(err)
	}
	ev := events.waitType(t, EventGameStatusChanged).(GameStatusChanged)
	if ev.Code != second || ev.GameStatus != "fresh" || events.count(EventGameStatusChanged) != before+1 {
		t.Fatalf("event = %+v, count = %d", ev, events.count(EventGameStatusChanged))
	}
}

func TestHostSeesReapedSession(t *testing.T) {
	f := newFixture(t)
	h := f.host(t)
	events := recordEvents(h.Events())
	code := f.createSession(t, h)

	c := f.client(t, "p1")
	clientEvents := recordEvents(c.Events())
	if err := c.Join(context.Background(), code, "P"); err != nil {
		t.Fatal(err)
	}

	r := NewReaper(f.store, f.ledger, 0)
	r.now = f.clock(models.SessionLifetime + 1)
	n, err := r.ReapOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("reaped %d, %v", n, err)
	}

	for _, l := range []*eventLog{events, clientEvents} {
		ended := l.waitType(t, EventSessionEnded).(SessionEnded)
		if ended.Reason != EndRemoved {
			t.Fatalf("reason = %s", ended.Reason)
		}
	}
	if clientEvents.count(EventKicked) != 0 {
		t.Fatal("removal of the whole session is not a kick")
	}
	if n, _ := r.ReapOnce(context.Background()); n != 0 {
		t.Fatalf("second pass reaped %d", n)
	}
}
