// Package reconnect wraps a stateful network client so that an unexpected
// disconnect is followed by a reconnect and a replay of every subscription.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
)

// Transport is one live connection of the underlying client.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, qos byte) error
	Unsubscribe(ctx context.Context, topics ...string) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
}

// Dialer builds a new, not yet connected Transport. onLost must be invoked by
// the transport when the connection drops without Disconnect being called.
type Dialer func(onLost func(error)) (Transport, error)

// Status is the connection state of a Client.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

var errSuperseded = errors.New("reconnect superseded")

// Client tracks subscriptions and reconnects a Transport according to a
// RetryPolicy. All methods are safe for concurrent use.
type Client struct {
	logger      logger.Logger
	onReconnect func()
	onGiveUp    func(error)

	mu         sync.Mutex
	transport  Transport
	dial       Dialer
	policy     RetryPolicy
	status     Status
	gen        uint64 // bumped on every connect/disconnect; stale lost events compare against it
	subs       map[string]byte
	reconnects int

	rcMu     sync.Mutex
	rcCancel context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// OnReconnect registers a callback run (on its own goroutine) after every
// successful automatic reconnect and subscription replay.
func OnReconnect(fn func()) Option {
	return func(c *Client) {
		c.onReconnect = fn
	}
}

// OnGiveUp registers a callback run once a lost connection will not be
// restored: the policy is nil or ran out of attempts. err wraps
// domain.ErrNotConnected and the last failure.
func OnGiveUp(fn func(error)) Option {
	return func(c *Client) {
		c.onGiveUp = fn
	}
}

// New creates a disconnected client.
func New(opts ...Option) *Client {
	c := &Client{
		logger: logger.Nop(),
		subs:   make(map[string]byte),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect tears down any previous connection, then dials and connects a new
// one. A failure is returned as is; the initial attempt is never retried.
// policy governs reconnection after later unexpected disconnects.
func (c *Client) Connect(ctx context.Context, dial Dialer, policy RetryPolicy) error {
	if dial == nil {
		return fmt.Errorf("%w: nil dialer", domain.ErrInvalidConfig)
	}
	c.cancelReconnect()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if err := c.teardownLocked(ctx); err != nil {
		c.logger.Warn("previous connection did not close cleanly", logger.Error(err))
		c.transport = nil
		c.status = StatusDisconnected
		c.subs = make(map[string]byte)
	}

	c.dial = dial
	c.policy = policy
	return c.connectLocked(ctx)
}

// Disconnect stops pending reconnects, unsubscribes every tracked topic and
// closes the connection. Bookkeeping is cleared once the disconnect succeeds,
// even when unsubscribing failed.
func (c *Client) Disconnect(ctx context.Context) error {
	c.cancelReconnect()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	return c.teardownLocked(ctx)
}

// Subscribe subscribes to each topic and records every success. It stops at
// the first failure.
func (c *Client) Subscribe(ctx context.Context, qos byte, topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport == nil || c.status != StatusConnected {
		return domain.ErrNotConnected
	}
	for _, topic := range topics {
		if topic == "" {
			return fmt.Errorf("%w: empty topic", domain.ErrInvalidConfig)
		}
		if err := c.transport.Subscribe(ctx, topic, qos); err != nil {
			return fmt.Errorf("subscribe %q: %w", topic, err)
		}
		c.subs[topic] = qos
	}
	return nil
}

// Unsubscribe removes topics. While disconnected only the bookkeeping changes,
// so the topics are not replayed on the next reconnect.
func (c *Client) Unsubscribe(ctx context.Context, topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport != nil && c.status == StatusConnected {
		if err := c.transport.Unsubscribe(ctx, topics...); err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
	}
	for _, topic := range topics {
		delete(c.subs, topic)
	}
	return nil
}

// Publish passes straight through to the live transport.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	c.mu.Lock()
	t := c.transport
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if t == nil || !connected {
		return domain.ErrNotConnected
	}
	if err := t.Publish(ctx, topic, payload, qos, retain); err != nil {
		return fmt.Errorf("publish %q: %w", topic, err)
	}
	return nil
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Subscriptions returns the tracked topics, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Reconnects returns how many automatic reconnects succeeded.
func (c *Client) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

func (c *Client) connectLocked(ctx context.Context) error {
	c.gen++
	gen := c.gen
	c.status = StatusConnecting

	t, err := c.dial(c.lostHandler(gen))
	if err != nil {
		c.status = StatusDisconnected
		return fmt.Errorf("dial: %w", err)
	}
	if err := t.Connect(ctx); err != nil {
		c.status = StatusDisconnected
		return fmt.Errorf("connect: %w", err)
	}

	c.transport = t
	c.status = StatusConnected
	return nil
}

func (c *Client) teardownLocked(ctx context.Context) error {
	t := c.transport
	if t == nil || c.status != StatusConnected {
		c.transport = nil
		c.status = StatusDisconnected
		c.subs = make(map[string]byte)
		return nil
	}

	if len(c.subs) > 0 {
		topics := make([]string, 0, len(c.subs))
		for topic := range c.subs {
			topics = append(topics, topic)
		}
		if err := t.Unsubscribe(ctx, topics...); err != nil {
			c.logger.Warn("unsubscribe before disconnect failed",
				logger.Strings("topics", topics),
				logger.Error(err))
		}
	}

	if err := t.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}

	c.transport = nil
	c.status = StatusDisconnected
	c.subs = make(map[string]byte)
	return nil
}

func (c *Client) lostHandler(gen uint64) func(error) {
	return func(cause error) {
		go c.handleLost(gen, cause)
	}
}

func (c *Client) handleLost(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.status != StatusConnected {
		c.mu.Unlock()
		return
	}
	c.status = StatusDisconnected
	c.transport = nil
	policy := c.policy
	c.mu.Unlock()

	if policy == nil {
		c.logger.Warn("connection lost, automatic reconnect disabled", logger.Error(cause))
		c.giveUp(gen, fmt.Errorf("%w: connection lost: %w", domain.ErrNotConnected, cause))
		return
	}
	c.logger.Warn("connection lost, scheduling reconnect", logger.Error(cause))

	ctx := c.beginReconnect()
	last := cause
	for attempt := 1; ; attempt++ {
		wait, ok := policy.Next(attempt)
		if !ok {
			c.logger.Error("giving up reconnecting",
				logger.Int("attempts", attempt-1))
			c.giveUp(gen, fmt.Errorf("%w: gave up after %d attempt(s): %w",
				domain.ErrNotConnected, attempt-1, last))
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		next, err := c.reconnect(ctx, gen)
		switch {
		case err == nil:
			return
		case errors.Is(err, errSuperseded):
			return
		default:
			c.logger.Error("reconnect attempt failed",
				logger.Int("attempt", attempt),
				logger.Error(err))
			gen = next
			last = err
		}
	}
}

// reconnect dials again and replays subscriptions. It returns the generation the
// next attempt must match.
func (c *Client) reconnect(ctx context.Context, gen uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil || gen != c.gen || c.status != StatusDisconnected || c.dial == nil {
		return c.gen, errSuperseded
	}
	if err := c.connectLocked(ctx); err != nil {
		return c.gen, err
	}

	for topic, qos := range c.subs {
		if err := c.transport.Subscribe(ctx, topic, qos); err != nil {
			c.logger.Error("failed to replay subscription",
				logger.String("topic", topic),
				logger.Error(err))
		}
	}
	c.reconnects++
	c.logger.Info("reconnected", logger.Int("subscriptions", len(c.subs)))

	if c.onReconnect != nil {
		go c.onReconnect()
	}
	return c.gen, nil
}

// giveUp reports a final loss unless a newer Connect or Disconnect already
// took over.
func (c *Client) giveUp(gen uint64, err error) {
	c.mu.Lock()
	current := gen == c.gen && c.status == StatusDisconnected
	c.mu.Unlock()

	if current && c.onGiveUp != nil {
		c.onGiveUp(err)
	}
}

func (c *Client) beginReconnect() context.Context {
	c.rcMu.Lock()
	defer c.rcMu.Unlock()

	if c.rcCancel != nil {
		c.rcCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.rcCancel = cancel
	return ctx
}

func (c *Client) cancelReconnect() {
	c.rcMu.Lock()
	defer c.rcMu.Unlock()

	if c.rcCancel != nil {
		c.rcCancel()
		c.rcCancel = nil
	}
}
