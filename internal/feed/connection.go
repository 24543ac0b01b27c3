// Package feed keeps a depth stream connected and hands every frame to a
// handler.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

// State is the connection state of the feed.
type State int32

const (
	StateReconnecting State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "reconnecting"
}

// Stream is one live connection delivering raw frames.
type Stream interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// DialFunc opens a new Stream.
type DialFunc func(ctx context.Context) (Stream, error)

// Handler processes one raw frame. Returning an error wrapping
// domain.ErrMalformedMessage drops the frame; domain.ErrSequenceGap forces a
// reconnect. Other errors are logged.
type Handler func(ctx context.Context, raw []byte) error

// ConnectHook runs after every successful dial and before the first frame is
// read. A failure closes the stream and schedules a reconnect.
type ConnectHook func(ctx context.Context) error

// Option configures a Connection.
type Option func(*Connection)

// WithDelayPolicy overrides the fixed two second reconnect delay.
func WithDelayPolicy(p DelayPolicy) Option {
	return func(c *Connection) { c.delay = p }
}

// WithOnConnect installs the hook run after each dial.
func WithOnConnect(h ConnectHook) Option {
	return func(c *Connection) { c.onConnect = h }
}

// WithStateObserver is called on every state transition.
func WithStateObserver(fn func(State)) Option {
	return func(c *Connection) { c.observe = fn }
}

// WithDialTimeout bounds a single dial attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Connection) { c.dialTimeout = d }
}

// Connection is the Connected/Reconnecting state machine around a depth
// stream.
type Connection struct {
	dial        DialFunc
	handle      Handler
	onConnect   ConnectHook
	delay       DelayPolicy
	dialTimeout time.Duration
	observe     func(State)
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger

	state      atomic.Int32
	reconnects atomic.Int64
	dropped    atomic.Int64
}

// NewConnection creates a Connection. It starts in StateReconnecting.
func NewConnection(dial DialFunc, handle Handler, logger *slog.Logger, opts ...Option) *Connection {
	c := &Connection{
		dial:        dial,
		handle:      handle,
		delay:       FixedDelay(DefaultReconnectDelay),
		dialTimeout: 15 * time.Second,
		sleep:       sleepCtx,
		logger:      logger.With(slog.String("component", "feed_connection")),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current connection state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Reconnects returns how many times the stream was re-established after a
// failure.
func (c *Connection) Reconnects() int64 { return c.reconnects.Load() }

// Dropped returns how many malformed frames were discarded.
func (c *Connection) Dropped() int64 { return c.dropped.Load() }

// Run keeps the stream connected until ctx is cancelled.
func (c *Connection) Run(ctx context.Context) error {
	c.logger.Info("feed connection started")
	defer c.logger.Info("feed connection stopped")

	failures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx, &failures)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.setState(StateReconnecting)
		failures++

		wait := c.delay.Delay(failures)
		c.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Int("attempt", failures),
			slog.Duration("delay", wait),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		c.reconnects.Add(1)
	}
}

// runOnce dials, runs the connect hook and reads until the stream fails.
// failures is reset once the stream is up.
func (c *Connection) runOnce(ctx context.Context, failures *int) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	stream, err := c.dial(dialCtx)
	cancel()
	if err != nil {
		return err
	}

	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-connDone:
		}
		stream.Close()
	}()

	if c.onConnect != nil {
		if err := c.onConnect(ctx); err != nil {
			return err
		}
	}

	c.setState(StateConnected)
	*failures = 0
	c.logger.Info("feed connected")

	for {
		raw, err := stream.ReadMessage()
		if err != nil {
			return err
		}
		if err := c.handle(ctx, raw); err != nil {
			switch {
			case errors.Is(err, domain.ErrMalformedMessage):
				c.dropped.Add(1)
				c.logger.Warn("dropping malformed frame",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(raw)),
				)
			case errors.Is(err, domain.ErrSequenceGap):
				return err
			default:
				c.logger.Error("handle frame failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Connection) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	if c.observe != nil {
		c.observe(s)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return "stream closed"
	}
	return err.Error()
}
