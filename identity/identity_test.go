package identity

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain uid", "AbC123xyz", "AbC123xyz"},
		{"illegal characters", "a.b#c$d[e]f", "a_b_c_d_e_f"},
		{"signed up prefix", "Success: signed up for u1", "u1"},
		{"signed in prefix", "Success: signed in for u2", "u2"},
		{"prefix with extra spaces", "Success:   signed  in   for   u3", "u3"},
		{"null object marker", "[object Object]", "anonymous"},
		{"internal spaces", "john doe smith", "john_doe_smith"},
		{"surrounding whitespace", "  \tuid-9\n", "uid-9"},
		{"email", "someone@example.com", "someone@example_com"},
		{"path separator", "google/uid-1", "google_uid-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.raw); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeEmptyFallsBackToAnonymous(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n"} {
		got := Normalize(raw)
		if !strings.HasPrefix(got, "anonymous_") {
			t.Fatalf("Normalize(%q) = %q, want anonymous_ prefix", raw, got)
		}
		if len(got) == len("anonymous_") {
			t.Fatalf("Normalize(%q) returned no suffix", raw)
		}
	}

	a, b := Normalize(""), Normalize("")
	if a == b {
		t.Fatalf("two empty ids normalized to the same key %q", a)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"", "x", "a.b", "[object Object]", "Success: signed up for a b",
		"\nSuccess:\tsigned\tup\tfor\tX", "  spaced  out  ", "Success: signed in for Success: signed in for y",
		"$$$", "a/b/c", "tab\tinside", "ünïcödé name", " nbsp ",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if once == "" {
			t.Fatalf("Normalize(%q) returned empty", in)
		}
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestParseUser(t *testing.T) {
	res := ParseUser([]byte(`{"uid":"u1","displayName":"Host","stsTokenManager":{"accessToken":"tok"}}`))
	u, ok := res.Parsed()
	if !ok {
		_, err := res.Unparsed()
		t.Fatalf("expected parsed user, got error %v", err)
	}
	if u.UID != "u1" || u.TokenManager.AccessToken != "tok" {
		t.Fatalf("unexpected user %+v", u)
	}

	for _, payload := range []string{"plain-id", `{"uid":""}`, `{broken`, ""} {
		res := ParseUser([]byte(payload))
		if _, ok := res.Parsed(); ok {
			t.Fatalf("payload %q should not parse", payload)
		}
		raw, err := res.Unparsed()
		if raw != payload || err == nil {
			t.Fatalf("payload %q: raw=%q err=%v", payload, raw, err)
		}
	}
}

func TestSessionSignIn(t *testing.T) {
	var s Session
	if err := s.SignIn([]byte(`{"uid":"host-1","stsTokenManager":{"accessToken":"abc"}}`)); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if s.UserID() != "host-1" || s.IDToken() != "abc" {
		t.Fatalf("got id=%q token=%q", s.UserID(), s.IDToken())
	}

	if err := s.SignIn([]byte("anon-uid")); err != nil {
		t.Fatalf("SignIn opaque: %v", err)
	}
	if s.UserID() != "anon-uid" || s.IDToken() != "anon-uid" {
		t.Fatalf("got id=%q token=%q", s.UserID(), s.IDToken())
	}

	if err := s.SignIn([]byte(`{"displayName":"nobody"}`)); err == nil {
		t.Fatal("expected error for object without uid")
	}
	if s.UserID() != "" || s.IDToken() != "" {
		t.Fatalf("rejected sign-in should leave session signed out, got id=%q", s.UserID())
	}
}
