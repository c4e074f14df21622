package services

import (
	"context"
	"reflect"
	"testing"
	"time"

	"gamesession/models"
)

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	base := time.UnixMilli(1_700_000_000_000)

	for i, code := range []string{"ccc", "aaa", "bbb"} {
		rec := models.NewSessionRecord("host", "lobby", models.DefaultGameSetting(), base.Add(time.Duration(i)*time.Minute))
		if err := l.RecordCreated(ctx, code, rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.RecordCreated(ctx, "aaa", models.SessionRecord{}); err == nil {
		t.Fatal("duplicate code accepted")
	}

	later := base.Add(models.SessionLifetime + time.Hour)
	codes, err := l.ExpiredSessions(ctx, later, 2)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"ccc", "aaa"}; !reflect.DeepEqual(codes, want) {
		t.Fatalf("expired = %v, want %v", codes, want)
	}

	if err := l.MarkEnded(ctx, "ccc", later); err != nil {
		t.Fatal(err)
	}
	codes, _ = l.ExpiredSessions(ctx, later, 0)
	if want := []string{"aaa", "bbb"}; !reflect.DeepEqual(codes, want) {
		t.Fatalf("after MarkEnded = %v, want %v", codes, want)
	}
	if codes, _ := l.ExpiredSessions(ctx, base, 0); len(codes) != 0 {
		t.Fatalf("nothing has expired yet, got %v", codes)
	}

	if err := l.RecordDeparture(ctx, "aaa", "p1", later); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordDeparture(ctx, "unknown", "p1", later); err != nil {
		t.Fatal(err)
	}
	deps := l.Departures("aaa")
	if len(deps) != 1 || deps[0].PlayerID != "p1" {
		t.Fatalf("departures = %+v", deps)
	}
}

func TestMemoryLedgerReusesEndedCode(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	base := time.UnixMilli(1_700_000_000_000)

	first := models.NewSessionRecord("host", "lobby", models.DefaultGameSetting(), base)
	if err := l.RecordCreated(ctx, "abc123", first); err != nil {
		t.Fatal(err)
	}
	if err := l.MarkEnded(ctx, "abc123", base.Add(models.SessionLifetime+time.Minute)); err != nil {
		t.Fatal(err)
	}

	reopened := base.Add(4 * time.Hour)
	second := models.NewSessionRecord("host-2", "lobby", models.DefaultGameSetting(), reopened)
	if err := l.RecordCreated(ctx, "abc123", second); err != nil {
		t.Fatalf("reuse of an ended code: %v", err)
	}
	if codes, _ := l.ExpiredSessions(ctx, reopened.Add(time.Hour), 0); len(codes) != 0 {
		t.Fatalf("fresh session listed as expired: %v", codes)
	}
	codes, _ := l.ExpiredSessions(ctx, reopened.Add(models.SessionLifetime+time.Minute), 0)
	if !reflect.DeepEqual(codes, []string{"abc123"}) {
		t.Fatalf("expired = %v", codes)
	}

	if err := l.RecordDeparture(ctx, "abc123", "p1", reopened); err != nil {
		t.Fatal(err)
	}
	if deps := l.Departures("abc123"); len(deps) != 1 {
		t.Fatalf("departures = %+v", deps)
	}
}
