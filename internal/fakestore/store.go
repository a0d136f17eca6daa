// Package fakestore is an in-memory coord.Store for tests. It keeps
// the whole tree under one mutex and exposes hooks to drive session
// events: MarkConnected, Disconnect and ExpireSession stand in for the
// backend deciding those things.
package fakestore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/fjordlabs/berth/coord"
)

type node struct {
	data      []byte
	version   int32
	ephemeral bool
	session   uint64
}

// Store implements coord.Store in memory.
type Store struct {
	mu      sync.Mutex
	nodes   map[string]*node
	session uint64
	closed  bool
	events  chan coord.SessionEvent
}

var _ coord.Store = (*Store)(nil)

// New returns an empty store with a live first session. No Connected
// event is emitted until MarkConnected is called.
func New() *Store {
	return &Store{
		nodes:   map[string]*node{"/": {}},
		session: 1,
		events:  make(chan coord.SessionEvent, 16),
	}
}

// MarkConnected emits a Connected session event. Call it twice to
// exercise duplicate-event handling.
func (s *Store) MarkConnected() {
	s.emit(coord.SessionEvent{State: coord.StateConnected})
}

// Disconnect emits a Disconnected event. Nodes are untouched.
func (s *Store) Disconnect(err error) {
	s.emit(coord.SessionEvent{State: coord.StateDisconnected, Err: err})
}

// ExpireSession drops every ephemeral node of the current session,
// starts a new session, and emits an Expired event. Operations keep
// working on the new session, which lets a test carry on observing the
// tree after an expiry.
func (s *Store) ExpireSession() {
	s.mu.Lock()
	for path, n := range s.nodes {
		if n.ephemeral && n.session == s.session {
			delete(s.nodes, path)
		}
	}
	s.session++
	s.mu.Unlock()
	s.emit(coord.SessionEvent{State: coord.StateExpired})
}

// Snapshot copies the current tree, path to data. Tests use it to
// assert a whole tree did not change.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.nodes))
	for path, n := range s.nodes {
		out[path] = string(n.data)
	}
	return out
}

func (s *Store) emit(ev coord.SessionEvent) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.events <- ev
}

func (s *Store) CreatePersistent(ctx context.Context, path string, data []byte) error {
	return s.create(ctx, path, data, false)
}

func (s *Store) CreateEphemeral(ctx context.Context, path string, data []byte) error {
	return s.create(ctx, path, data, true)
}

func (s *Store) create(ctx context.Context, path string, data []byte, ephemeral bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return coord.ErrClosed
	}
	if _, ok := s.nodes[parentOf(path)]; !ok {
		return coord.ErrNodeMissing
	}
	if _, ok := s.nodes[path]; ok {
		return coord.ErrNodeExists
	}
	s.nodes[path] = &node{
		data:      append([]byte(nil), data...),
		ephemeral: ephemeral,
		session:   s.session,
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, coord.ErrClosed
	}
	_, ok := s.nodes[path]
	return ok, nil
}

func (s *Store) Children(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, coord.ErrClosed
	}
	if _, ok := s.nodes[path]; !ok {
		return nil, coord.ErrNodeMissing
	}
	prefix := path + "/"
	if path == "/" {
		prefix = "/"
	}
	var kids []string
	for p := range s.nodes {
		if !strings.HasPrefix(p, prefix) || p == path {
			continue
		}
		rest := p[len(prefix):]
		if !strings.Contains(rest, "/") {
			kids = append(kids, rest)
		}
	}
	sort.Strings(kids)
	return kids, nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, int32, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, coord.ErrClosed
	}
	n, ok := s.nodes[path]
	if !ok {
		return nil, 0, coord.ErrNodeMissing
	}
	return append([]byte(nil), n.data...), n.version, nil
}

func (s *Store) Set(ctx context.Context, path string, data []byte, version int32) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, coord.ErrClosed
	}
	n, ok := s.nodes[path]
	if !ok {
		return 0, coord.ErrNodeMissing
	}
	if version != coord.AnyVersion && version != n.version {
		return 0, coord.ErrVersionMismatch
	}
	n.data = append([]byte(nil), data...)
	n.version++
	return n.version, nil
}

func (s *Store) Delete(ctx context.Context, path string, version int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return coord.ErrClosed
	}
	n, ok := s.nodes[path]
	if !ok {
		return coord.ErrNodeMissing
	}
	prefix := path + "/"
	for p := range s.nodes {
		if strings.HasPrefix(p, prefix) {
			return coord.ErrNotEmpty
		}
	}
	if version != coord.AnyVersion && version != n.version {
		return coord.ErrVersionMismatch
	}
	delete(s.nodes, path)
	return nil
}

func (s *Store) Events() <-chan coord.SessionEvent {
	return s.events
}

// Close drops the current session's ephemeral nodes, emits a Closed
// event, and closes the event channel.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for path, n := range s.nodes {
		if n.ephemeral && n.session == s.session {
			delete(s.nodes, path)
		}
	}
	s.mu.Unlock()
	s.events <- coord.SessionEvent{State: coord.StateClosed}
	close(s.events)
	return nil
}

func parentOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}
