// Package zk implements coord.Store on a ZooKeeper ensemble.
//
// ZooKeeper's model maps directly: ephemeral nodes ride on the
// ZooKeeper session, versions are znode data versions, and the session
// events are ZooKeeper's own session events.
package zk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	gozk "github.com/go-zookeeper/zk"

	"github.com/fjordlabs/berth/coord"
)

const defaultSessionTimeout = 5 * time.Second

// Options configures the driver.
type Options struct {
	// Servers is the ensemble, host:port each.
	Servers []string
	// SessionTimeout is the ZooKeeper session timeout. Ephemeral
	// nodes of a partitioned client linger up to this long. Default
	// 5s.
	SessionTimeout time.Duration
	// ACL applies to every node this store creates. Default is
	// world-anyone with all permissions.
	ACL []gozk.ACL
}

// Validate checks the options.
func (o Options) Validate() error {
	if len(o.Servers) == 0 {
		return errors.New("zk: no servers")
	}
	if o.SessionTimeout < 0 {
		return errors.New("zk: negative session timeout")
	}
	return nil
}

// Store is a coord.Store on ZooKeeper.
type Store struct {
	conn   *gozk.Conn
	acl    []gozk.ACL
	events chan coord.SessionEvent
	done   chan struct{}
	once   sync.Once
}

var _ coord.Store = (*Store)(nil)

// New dials the ensemble and starts relaying session events. The
// connection is established in the background; wait for it through
// berth.ConnectWithTimeout or by watching Events.
func New(opts Options) (*Store, error) {
	if opts.SessionTimeout == 0 {
		opts.SessionTimeout = defaultSessionTimeout
	}
	if opts.ACL == nil {
		opts.ACL = gozk.WorldACL(gozk.PermAll)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	conn, raw, err := gozk.Connect(opts.Servers, opts.SessionTimeout, gozk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	s := &Store{
		conn:   conn,
		acl:    opts.ACL,
		events: make(chan coord.SessionEvent, 8),
		done:   make(chan struct{}),
	}
	go s.relay(raw)
	return s, nil
}

// relay translates ZooKeeper session events into coord events.
// HasSession is the event that means the session is actually live;
// the earlier Connected state is only the TCP connection coming up.
func (s *Store) relay(raw <-chan gozk.Event) {
	defer close(s.events)
	for {
		select {
		case ev, ok := <-raw:
			if !ok {
				return
			}
			if ev.Type != gozk.EventSession {
				continue
			}
			var out coord.SessionEvent
			switch ev.State {
			case gozk.StateConnecting, gozk.StateConnected:
				out = coord.SessionEvent{State: coord.StateConnecting}
			case gozk.StateHasSession:
				out = coord.SessionEvent{State: coord.StateConnected}
			case gozk.StateDisconnected:
				out = coord.SessionEvent{State: coord.StateDisconnected, Err: ev.Err}
			case gozk.StateExpired:
				out = coord.SessionEvent{State: coord.StateExpired}
			case gozk.StateAuthFailed:
				out = coord.SessionEvent{State: coord.StateDisconnected, Err: errors.New("zk: auth failed")}
			default:
				continue
			}
			select {
			case s.events <- out:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Store) CreatePersistent(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.conn.Create(path, data, 0, s.acl)
	return mapErr(err)
}

func (s *Store) CreateEphemeral(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.conn.Create(path, data, gozk.FlagEphemeral, s.acl)
	return mapErr(err)
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, _, err := s.conn.Exists(path)
	if err != nil {
		return false, mapErr(err)
	}
	return ok, nil
}

func (s *Store) Children(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kids, _, err := s.conn.Children(path)
	if err != nil {
		return nil, mapErr(err)
	}
	// ZooKeeper returns children in no particular order.
	sort.Strings(kids)
	return kids, nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, int32, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	data, stat, err := s.conn.Get(path)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	return data, stat.Version, nil
}

func (s *Store) Set(ctx context.Context, path string, data []byte, version int32) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	stat, err := s.conn.Set(path, data, version)
	if err != nil {
		return 0, mapErr(err)
	}
	return stat.Version, nil
}

func (s *Store) Delete(ctx context.Context, path string, version int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(s.conn.Delete(path, version))
}

func (s *Store) Events() <-chan coord.SessionEvent {
	return s.events
}

// Close tears the session down. Ephemeral nodes created through this
// store disappear as the server notices the session ending.
func (s *Store) Close() error {
	s.once.Do(func() {
		s.conn.Close()
		close(s.done)
	})
	return nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gozk.ErrNodeExists):
		return coord.ErrNodeExists
	case errors.Is(err, gozk.ErrNoNode):
		return coord.ErrNodeMissing
	case errors.Is(err, gozk.ErrNotEmpty):
		return coord.ErrNotEmpty
	case errors.Is(err, gozk.ErrBadVersion):
		return coord.ErrVersionMismatch
	case errors.Is(err, gozk.ErrSessionExpired):
		return coord.ErrSessionExpired
	case errors.Is(err, gozk.ErrConnectionClosed), errors.Is(err, gozk.ErrClosing):
		return coord.ErrClosed
	default:
		return fmt.Errorf("zk: %w", err)
	}
}
