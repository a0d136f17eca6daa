// Package berth is a client library for coordinating services through
// a shared coordination store. Services are named by Coordinates,
// claim exclusive ownership of them for the lifetime of a backend
// session, publish status and endpoints under the claim, and are found
// again through the Resolver.
//
// The backend is pluggable through coord.Store; coord/zk and
// coord/redis provide the ZooKeeper and Redis drivers.
package berth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjordlabs/berth/coord"
)

// effectivelyForever is the wait used by Connect, which blocks until
// the session comes up or the store is closed under it.
const effectivelyForever = 100 * 365 * 24 * time.Hour

// Client is a handle to the coordination store with a live session. It
// is safe for concurrent use. Close releases the session, and with it
// every claim made through the client.
type Client struct {
	st      coord.Store
	status  *statusStore
	log     Logger
	metrics Metrics

	// connected is closed exactly once, on the first Connected event.
	connected   chan struct{}
	connectOnce sync.Once

	// watchDone is closed when the event loop drains out.
	watchDone chan struct{}

	claimsHeld atomic.Int64

	mu     sync.Mutex
	state  coord.SessionState
	closed bool
}

// Connect waits indefinitely for the store's session to come up and
// returns a ready Client. logger and metrics may be nil.
//
// The Client takes ownership of the store; Close closes it.
func Connect(st coord.Store, logger Logger, metrics Metrics) (*Client, error) {
	return ConnectWithTimeout(st, logger, metrics, effectivelyForever)
}

// ConnectWithTimeout is Connect with a bound on the wait. A timeout
// that is zero or negative does not wait at all: it succeeds only if
// the session is already up, and otherwise fails with
// ErrConnectTimeout.
func ConnectWithTimeout(st coord.Store, logger Logger, metrics Metrics, timeout time.Duration) (*Client, error) {
	if logger == nil {
		logger = NopLogger()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	c := &Client{
		st:        st,
		status:    newStatusStore(st),
		log:       logger,
		metrics:   metrics,
		connected: make(chan struct{}),
		watchDone: make(chan struct{}),
		state:     coord.StateConnecting,
	}
	go c.watchSession()

	if err := c.awaitConnected(timeout); err != nil {
		c.log.Error("connection wait failed", Field{"timeout", timeout}, Field{"err", err})
		_ = c.Close()
		return nil, err
	}
	c.log.Info("connected to coordination store")
	return c, nil
}

func (c *Client) awaitConnected(timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case <-c.connected:
			return nil
		default:
			return ErrConnectTimeout
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.connected:
		return nil
	case <-timer.C:
		return ErrConnectTimeout
	}
}

// watchSession follows the store's session events until the store
// closes its channel. The first Connected event opens the gate that
// ConnectWithTimeout waits on; later Connected events only update
// state.
func (c *Client) watchSession() {
	defer close(c.watchDone)
	for ev := range c.st.Events() {
		switch ev.State {
		case coord.StateConnected:
			opened := false
			c.connectOnce.Do(func() {
				close(c.connected)
				opened = true
			})
			if !opened {
				c.log.Info("session reconnected")
			}
		case coord.StateDisconnected:
			c.log.Warn("session disconnected", Field{"err", ev.Err})
		case coord.StateExpired:
			c.log.Error("session expired; all claims through this client are gone")
		}
		c.setState(ev.State)
	}
}

func (c *Client) setState(s coord.SessionState) {
	c.mu.Lock()
	prev := c.state
	if !c.closed {
		c.state = s
	}
	c.mu.Unlock()
	if prev != s {
		c.log.Debug("session state changed", Field{"from", prev}, Field{"to", s})
	}
}

// State reports the last observed session state.
func (c *Client) State() coord.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitConnected blocks until the first Connected event or ctx is done.
// It is mainly useful after constructing the store out-of-band.
func (c *Client) WaitConnected(ctx context.Context) error {
	select {
	case <-c.connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) ensureOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Close shuts down the session. Every ephemeral claim made through
// this client disappears from the store. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = coord.StateClosed
	c.mu.Unlock()

	err := c.st.Close()
	<-c.watchDone
	c.log.Info("client closed")
	return err
}

func (c *Client) claimGauge(delta int64) {
	held := c.claimsHeld.Add(delta)
	c.metrics.SetGauge("berth_claims_held", float64(held))
}
