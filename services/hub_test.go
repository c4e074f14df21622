package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gamesession/store"
)

func TestHubCallsReturnAfterRunStops(t *testing.T) {
	h := NewHub(store.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.UnregisterClient(&Client{hub: h})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("UnregisterClient blocked on a stopped hub")
	}

	if _, err := h.RegisterClient(context.Background(), nil, "sessionCodes/abc123/sessionStatus"); !errors.Is(err, ErrHubStopped) {
		t.Fatalf("register after stop: %v", err)
	}
	if n := h.ClientCount("sessionCodes/abc123/sessionStatus"); n != 0 {
		t.Fatalf("client count = %d", n)
	}
}
