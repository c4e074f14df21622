package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxTxRetries = 16

// RedisStore keeps each root document as one JSON string. Mutations are
// WATCH/MULTI read-modify-write transactions that bump a per-root version and
// PUBLISH the new document in the same transaction, so a committed write is
// always announced.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key and channel.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTTL sets the expiry refreshed on every write. Zero disables expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

func WithRedisLogger(l zerolog.Logger) RedisOption {
	return func(s *RedisStore) { s.log = l }
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "rtdb:",
		log:    log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) docKey(root string) string  { return s.prefix + "doc:" + root }
func (s *RedisStore) verKey(root string) string  { return s.prefix + "ver:" + root }
func (s *RedisStore) channel(root string) string { return s.prefix + "feed:" + root }

// feedMessage is the payload published on a root's channel.
type feedMessage struct {
	V   uint64          `json:"v"`
	Doc json.RawMessage `json:"doc"`
}

type multiGetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func (s *RedisStore) load(ctx context.Context, c multiGetter, root string) ([]byte, uint64, error) {
	vals, err := c.MGet(ctx, s.docKey(root), s.verKey(root)).Result()
	if err != nil {
		return nil, 0, err
	}
	var doc []byte
	if str, ok := vals[0].(string); ok {
		doc = []byte(str)
	}
	var ver uint64
	if str, ok := vals[1].(string); ok {
		ver, err = strconv.ParseUint(str, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("corrupt version for %s: %w", root, err)
		}
	}
	return doc, ver, nil
}

func (s *RedisStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	loc, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	doc, err := s.client.Get(ctx, s.docKey(loc.root)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", loc.root, err)
	}
	return readAt(doc, loc), nil
}

// mutate runs fn against the current root document inside an optimistic
// transaction. fn returns the next document (nil removes it) and whether it
// changed anything.
func (s *RedisStore) mutate(ctx context.Context, root string, fn func(doc []byte) ([]byte, bool, error)) error {
	dk, vk := s.docKey(root), s.verKey(root)

	txf := func(tx *redis.Tx) error {
		doc, ver, err := s.load(ctx, tx, root)
		if err != nil {
			return err
		}
		next, changed, err := fn(doc)
		if err != nil || !changed {
			return err
		}

		msg, err := json.Marshal(feedMessage{V: ver + 1, Doc: next})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, dk)
			} else {
				pipe.Set(ctx, dk, next, s.ttl)
			}
			pipe.Set(ctx, vk, ver+1, s.ttl)
			pipe.Publish(ctx, s.channel(root), msg)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, dk, vk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis write %s: %w", root, err)
		}
		return nil
	}
	return fmt.Errorf("redis write %s: too much contention", root)
}

func (s *RedisStore) Set(ctx context.Context, path string, value json.RawMessage) error {
	loc, err := parsePath(path)
	if err != nil {
		return err
	}
	if isNull(value) {
		return s.Delete(ctx, path)
	}
	value, err = compact(value)
	if err != nil {
		return err
	}
	return s.mutate(ctx, loc.root, func(doc []byte) ([]byte, bool, error) {
		next, err := writeAt(doc, loc, value)
		if err != nil {
			return nil, false, err
		}
		return next, string(next) != string(doc), nil
	})
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	loc, err := parsePath(path)
	if err != nil {
		return err
	}
	return s.mutate(ctx, loc.root, func(doc []byte) ([]byte, bool, error) {
		return deleteAt(doc, loc)
	})
}

func (s *RedisStore) CreateIfAbsent(ctx context.Context, path string, value json.RawMessage) (bool, error) {
	loc, err := parsePath(path)
	if err != nil {
		return false, err
	}
	if !loc.isRoot() {
		return false, ErrInvalidPath
	}
	value, err = compact(value)
	if err != nil {
		return false, err
	}
	created := false
	err = s.mutate(ctx, loc.root, func(doc []byte) ([]byte, bool, error) {
		created = doc == nil
		if !created {
			return nil, false, nil
		}
		return value, true, nil
	})
	return created, err
}

// Subscribe listens on the root's channel before loading the current
// document, so no version published after the load can be missed. Versions at
// or below the loaded one are dropped by the watcher.
func (s *RedisStore) Subscribe(ctx context.Context, path string, h Handler) (Subscription, error) {
	loc, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	ps := s.client.Subscribe(ctx, s.channel(loc.root))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", loc.root, err)
	}
	doc, ver, err := s.load(ctx, s.client, loc.root)
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", loc.root, err)
	}

	sub := &redisSubscription{ps: ps}
	w := newWatcher(loc, h)
	ch := ps.Channel()
	go func() {
		w.offer(ver, doc)
		for msg := range ch {
			var m feedMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				s.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed feed message")
				continue
			}
			if sub.isClosed() {
				return
			}
			w.offer(m.V, m.Doc)
		}
	}()
	return sub, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	mu     sync.Mutex
	closed bool
}

func (r *redisSubscription) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *redisSubscription) Unsubscribe() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	// PubSub.Close closes the message channel, which ends the delivery loop.
	go r.ps.Close()
}
