package store

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

// MemoryStore is an in-process SessionStore. It backs tests and the
// STORE_BACKEND=memory server mode. State is lost when the process exits.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*memDoc // keyed by root
}

type memDoc struct {
	data     []byte
	ver      uint64
	watchers map[*memWatcher]struct{}
}

type docVersion struct {
	ver  uint64
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*memDoc)}
}

func (m *MemoryStore) doc(root string) *memDoc {
	d, ok := m.docs[root]
	if !ok {
		d = &memDoc{watchers: make(map[*memWatcher]struct{})}
		m.docs[root] = d
	}
	return d
}

// prune drops a root entry once it holds no data and nobody watches it.
// Caller holds m.mu.
func (m *MemoryStore) prune(root string, d *memDoc) {
	if d.data == nil && len(d.watchers) == 0 {
		delete(m.docs, root)
	}
}

func (m *MemoryStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[loc.root]
	if !ok {
		return nil, nil
	}
	return readAt(d.data, loc), nil
}

func (m *MemoryStore) Set(ctx context.Context, path string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := parsePath(path)
	if err != nil {
		return err
	}
	if isNull(value) {
		return m.Delete(ctx, path)
	}
	value, err = compact(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.doc(loc.root)
	next, err := writeAt(d.data, loc, value)
	if err != nil {
		m.prune(loc.root, d)
		return err
	}
	m.commit(d, next)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := parsePath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[loc.root]
	if !ok {
		return nil
	}
	next, changed, err := deleteAt(d.data, loc)
	if err != nil || !changed {
		return err
	}
	m.commit(d, next)
	m.prune(loc.root, d)
	return nil
}

// CreateIfAbsent stores value at a root path only when the root is empty.
func (m *MemoryStore) CreateIfAbsent(ctx context.Context, path string, value json.RawMessage) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
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

	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.doc(loc.root)
	if d.data != nil {
		return false, nil
	}
	m.commit(d, value)
	return true, nil
}

// commit publishes a new root version to every watcher. Caller holds m.mu,
// which keeps per-root delivery order equal to commit order.
func (m *MemoryStore) commit(d *memDoc, next []byte) {
	d.data = next
	d.ver++
	v := docVersion{ver: d.ver, data: next}
	for w := range d.watchers {
		w.push(v)
	}
}

func (m *MemoryStore) Subscribe(ctx context.Context, path string, h Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	w := &memWatcher{
		watcher: newWatcher(loc, h),
		store:   m,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}

	m.mu.Lock()
	d := m.doc(loc.root)
	d.watchers[w] = struct{}{}
	w.push(docVersion{ver: d.ver, data: d.data})
	m.mu.Unlock()

	go w.run()
	return w, nil
}

// memWatcher queues root versions without blocking writers and delivers them
// from its own goroutine.
type memWatcher struct {
	*watcher
	store *MemoryStore

	mu    sync.Mutex
	queue []docVersion

	wake   chan struct{}
	stop   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

func (w *memWatcher) push(v docVersion) {
	w.mu.Lock()
	w.queue = append(w.queue, v)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *memWatcher) run() {
	for {
		select {
		case <-w.stop:
			return
		case <-w.wake:
		}
		for {
			w.mu.Lock()
			batch := w.queue
			w.queue = nil
			w.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, v := range batch {
				if w.closed.Load() {
					return
				}
				w.offer(v.ver, v.data)
			}
		}
	}
}

func (w *memWatcher) Unsubscribe() {
	w.once.Do(func() {
		w.closed.Store(true)
		close(w.stop)

		m := w.store
		m.mu.Lock()
		if d, ok := m.docs[w.loc.root]; ok {
			delete(d.watchers, w)
			m.prune(w.loc.root, d)
		}
		m.mu.Unlock()
	})
}
