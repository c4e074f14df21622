package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// recorder collects snapshots from a subscription.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
	ch    chan Snapshot
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Snapshot, 64)}
}

func (r *recorder) handle(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
	r.ch <- s
}

func (r *recorder) next(t *testing.T) Snapshot {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case s := <-r.ch:
		t.Fatalf("unexpected snapshot %s = %s", s.Path, s.Value)
	case <-time.After(wait):
	}
}

// storeContract runs the behaviour every SessionStore must share.
func storeContract(t *testing.T, s SessionStore) {
	ctx := context.Background()

	t.Run("get absent", func(t *testing.T) {
		v, err := s.Get(ctx, "sessionCodes/none")
		if err != nil || v != nil {
			t.Fatalf("got %s, %v", v, err)
		}
	})

	t.Run("invalid path", func(t *testing.T) {
		if _, err := s.Get(ctx, "sessionCodes"); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("err = %v", err)
		}
		if err := s.Set(ctx, "sessionCodes//x", json.RawMessage(`1`)); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("sub-path writes", func(t *testing.T) {
		root := "sessionCodes/c1"
		if err := s.Set(ctx, root, json.RawMessage(`{"hostId":"h","sessionStatus":"waiting"}`)); err != nil {
			t.Fatal(err)
		}
		if err := s.Set(ctx, root+"/players/p1", json.RawMessage(`{"id":"p1","name":"a"}`)); err != nil {
			t.Fatal(err)
		}
		if err := s.Set(ctx, root+"/players/123", json.RawMessage(`{"id":"123"}`)); err != nil {
			t.Fatal(err)
		}

		players, err := s.Get(ctx, root+"/players")
		if err != nil {
			t.Fatal(err)
		}
		var m map[string]map[string]any
		if err := json.Unmarshal(players, &m); err != nil {
			t.Fatalf("players should be an object keyed by id: %s (%v)", players, err)
		}
		if len(m) != 2 || m["123"] == nil || m["p1"]["name"] != "a" {
			t.Fatalf("players = %s", players)
		}

		status, _ := s.Get(ctx, root+"/sessionStatus")
		if string(status) != `"waiting"` {
			t.Fatalf("status = %s", status)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		p := "sessionCodes/c2/players/p1"
		if err := s.Set(ctx, p, json.RawMessage(`{"id":"p1"}`)); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 2; i++ {
			if err := s.Delete(ctx, p); err != nil {
				t.Fatalf("delete %d: %v", i, err)
			}
		}
		if err := s.Delete(ctx, "sessionCodes/never/players/x"); err != nil {
			t.Fatalf("delete on missing root: %v", err)
		}
		if v, _ := s.Get(ctx, p); v != nil {
			t.Fatalf("still present: %s", v)
		}
	})

	t.Run("subscribe delivers initial and changes in order", func(t *testing.T) {
		root := "sessionCodes/c3"
		rec := newRecorder()
		sub, err := s.Subscribe(ctx, root+"/sessionStatus", rec.handle)
		if err != nil {
			t.Fatal(err)
		}
		defer sub.Unsubscribe()

		if first := rec.next(t); first.Exists() {
			t.Fatalf("initial value should be absent, got %s", first.Value)
		}

		for _, status := range []string{"waiting", "playing", "finished"} {
			if err := s.Set(ctx, root+"/sessionStatus", json.RawMessage(`"`+status+`"`)); err != nil {
				t.Fatal(err)
			}
		}
		for _, want := range []string{`"waiting"`, `"playing"`, `"finished"`} {
			if got := rec.next(t); string(got.Value) != want {
				t.Fatalf("got %s, want %s", got.Value, want)
			}
		}

		// A write elsewhere in the document does not re-deliver an unchanged value.
		if err := s.Set(ctx, root+"/gameStatus", json.RawMessage(`"x"`)); err != nil {
			t.Fatal(err)
		}
		rec.none(t, 100*time.Millisecond)
	})

	t.Run("unsubscribe stops deliveries", func(t *testing.T) {
		root := "sessionCodes/c4"
		rec := newRecorder()
		sub, err := s.Subscribe(ctx, root+"/players", rec.handle)
		if err != nil {
			t.Fatal(err)
		}
		rec.next(t)
		sub.Unsubscribe()
		sub.Unsubscribe()

		if err := s.Set(ctx, root+"/players/p1", json.RawMessage(`{"id":"p1"}`)); err != nil {
			t.Fatal(err)
		}
		rec.none(t, 150*time.Millisecond)
	})

	t.Run("root delete is seen by sub-path subscribers", func(t *testing.T) {
		root := "sessionCodes/c5"
		if err := s.Set(ctx, root, json.RawMessage(`{"players":{"p1":{"id":"p1"}}}`)); err != nil {
			t.Fatal(err)
		}
		rec := newRecorder()
		sub, err := s.Subscribe(ctx, root+"/players", rec.handle)
		if err != nil {
			t.Fatal(err)
		}
		defer sub.Unsubscribe()
		if first := rec.next(t); !first.Exists() {
			t.Fatal("expected initial players")
		}
		if err := s.Delete(ctx, root); err != nil {
			t.Fatal(err)
		}
		if got := rec.next(t); got.Exists() {
			t.Fatalf("expected absent after root delete, got %s", got.Value)
		}
	})

	t.Run("create if absent", func(t *testing.T) {
		c, ok := s.(Creator)
		if !ok {
			t.Skip("store does not implement Creator")
		}
		created, err := c.CreateIfAbsent(ctx, "sessionCodes/c6", json.RawMessage(`{"hostId":"a"}`))
		if err != nil || !created {
			t.Fatalf("first create: %v %v", created, err)
		}
		created, err = c.CreateIfAbsent(ctx, "sessionCodes/c6", json.RawMessage(`{"hostId":"b"}`))
		if err != nil || created {
			t.Fatalf("second create: %v %v", created, err)
		}
		v, _ := s.Get(ctx, "sessionCodes/c6/hostId")
		if string(v) != `"a"` {
			t.Fatalf("hostId = %s", v)
		}
		if _, err := c.CreateIfAbsent(ctx, "sessionCodes/c6/players", json.RawMessage(`{}`)); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("sub-path create: %v", err)
		}
	})
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStoreUnsubscribeInsideHandler(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var sub Subscription
	var mu sync.Mutex
	calls := 0
	ready := make(chan struct{})
	done := make(chan struct{}, 4)
	sub, err := s.Subscribe(ctx, "sessionCodes/x/players", func(Snapshot) {
		<-ready
		mu.Lock()
		calls++
		mu.Unlock()
		sub.Unsubscribe()
		done <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}
	close(ready)
	<-done

	_ = s.Set(ctx, "sessionCodes/x/players/a", json.RawMessage(`{"id":"a"}`))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("handler called %d times", calls)
	}
}

func TestMemoryStorePrunesDeletedRoots(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, "sessionCodes/gone", json.RawMessage(`{"a":1}`))
	_ = s.Delete(ctx, "sessionCodes/gone")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs["sessionCodes/gone"]; ok {
		t.Fatal("deleted root with no watchers should be pruned")
	}
}

func TestDeletingLastChildKeepsEmptyParent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Set(ctx, "sessionCodes/abc/players/p1", json.RawMessage(`{"id":"p1"}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "sessionCodes/abc/players/p1"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "sessionCodes/abc/players")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "{}" {
		t.Fatalf("players = %s, want {}", got)
	}
}

func TestPathHelpers(t *testing.T) {
	loc, err := parsePath("/sessionCodes/abc/players/a.b/42/")
	if err != nil {
		t.Fatal(err)
	}
	if loc.root != "sessionCodes/abc" {
		t.Fatalf("root = %q", loc.root)
	}
	if got := loc.gjsonPath(); got != `players.a\.b.42` {
		t.Fatalf("gjson path = %q", got)
	}
	if got := loc.sjsonPath(); got != `players.a\.b.:42` {
		t.Fatalf("sjson path = %q", got)
	}
}

func TestCredentialContext(t *testing.T) {
	ctx := WithCredential(context.Background(), "tok")
	if CredentialFrom(ctx) != "tok" || CredentialFrom(context.Background()) != "" {
		t.Fatal("credential round trip failed")
	}
}
