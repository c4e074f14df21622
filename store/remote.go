package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Frame types exchanged with the change-feed relay.
const (
	FrameValue = "value"
	FrameError = "error"
	FramePing  = "ping"
	FramePong  = "pong"
)

// FeedValue is the payload of a FrameValue or FrameError frame.
type FeedValue struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
	Error string          `json:"error,omitempty"`
}

// RemoteStore talks to the session server: point operations go over REST at
// /db/<path> and subscriptions over a websocket at /ws/feed.
type RemoteStore struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
	log     zerolog.Logger
}

func NewRemoteStore(baseURL string, httpClient *http.Client) (*RemoteStore, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RemoteStore{
		baseURL: u,
		http:    httpClient,
		dialer:  websocket.DefaultDialer,
		log:     log.Logger,
	}, nil
}

func (r *RemoteStore) dbURL(path string) (string, error) {
	loc, err := parsePath(path)
	if err != nil {
		return "", err
	}
	segments := strings.Split(loc.path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return r.baseURL.String() + "/db/" + strings.Join(segments, "/"), nil
}

func (r *RemoteStore) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	target, err := r.dbURL(path)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := CredentialFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrForbidden)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

func (r *RemoteStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := r.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if isNull(data) {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

func (r *RemoteStore) Set(ctx context.Context, path string, value json.RawMessage) error {
	if !json.Valid(value) {
		return ErrInvalidValue
	}
	_, err := r.do(ctx, http.MethodPut, path, value)
	return err
}

func (r *RemoteStore) Delete(ctx context.Context, path string) error {
	_, err := r.do(ctx, http.MethodDelete, path, nil)
	return err
}

func (r *RemoteStore) Subscribe(ctx context.Context, path string, h Handler) (Subscription, error) {
	loc, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	wsURL := *r.baseURL
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/ws/feed"
	wsURL.RawQuery = url.Values{"path": {loc.path}}.Encode()

	conn, _, err := r.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed %s: %w", loc.path, err)
	}

	sub := &remoteSubscription{conn: conn}
	go sub.readLoop(loc.path, h, r.log)
	return sub, nil
}

type remoteSubscription struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (s *remoteSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *remoteSubscription) readLoop(path string, h Handler, l zerolog.Logger) {
	defer s.conn.Close()
	for {
		var frame struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := s.conn.ReadJSON(&frame); err != nil {
			if !s.isClosed() {
				h(Snapshot{Path: path, Err: fmt.Errorf("feed %s: %w", path, err)})
			}
			return
		}
		if s.isClosed() {
			return
		}

		switch frame.Type {
		case FrameValue, FrameError:
			var v FeedValue
			if err := json.Unmarshal(frame.Payload, &v); err != nil {
				l.Warn().Err(err).Str("path", path).Msg("dropping malformed feed frame")
				continue
			}
			if frame.Type == FrameError {
				h(Snapshot{Path: path, Err: errors.New(v.Error)})
				return
			}
			snap := Snapshot{Path: path}
			if !isNull(v.Value) {
				snap.Value = v.Value
			}
			h(snap)
		case FramePong:
		default:
			l.Debug().Str("type", frame.Type).Str("path", path).Msg("ignoring feed frame")
		}
	}
}

func (s *remoteSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.conn.Close()
}
