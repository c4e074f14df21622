package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SessionLifetime != 3*time.Hour {
		t.Fatalf("SessionLifetime = %s", cfg.SessionLifetime)
	}
	if cfg.RequestTimeout != 10*time.Second || cfg.ReapInterval != time.Minute {
		t.Fatalf("timeouts = %s / %s", cfg.RequestTimeout, cfg.ReapInterval)
	}
	if cfg.Addr() != "localhost:8080" {
		t.Fatalf("Addr = %q", cfg.Addr())
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "etcd")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "STORE_BACKEND") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("SESSION_LIFETIME", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("err = %v", err)
	}
}
