// Package wsclient is a reconnecting subscriber for the relay websocket.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/liverelay/internal/relay"
)

// State is the subscriber's connection state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateBackoff    State = "backoff"
	StateExhausted  State = "exhausted"
)

const writeWait = 10 * time.Second

var (
	// ErrExhausted is returned by Run when the reconnect attempts are used up.
	ErrExhausted = errors.New("max reconnection attempts reached")
	// ErrNotOpen is returned by Send while no connection is open.
	ErrNotOpen = errors.New("websocket is not connected")
)

// Policy bounds reconnects. The n-th consecutive attempt waits Interval × n.
// The attempt counter resets once a connection opens.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultPolicy allows 5 attempts, 1s apart times the attempt number.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Interval: time.Second}
}

// Delay returns the wait before the given attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.Interval * time.Duration(attempt)
}

// Handler receives every envelope read from the relay. It runs on the read goroutine.
type Handler func(eventType string, data json.RawMessage)

// Options tunes a Client. Zero values use the defaults.
type Options struct {
	Policy  Policy
	Header  http.Header
	OnState func(State)
	Logger  *zap.Logger
}

// Client subscribes to a relay websocket and reconnects on loss.
type Client struct {
	url     string
	handler Handler
	policy  Policy
	header  http.Header
	onState func(State)
	dialer  *websocket.Dialer
	logger  *zap.Logger

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// New creates a subscriber for url. Call Run to connect.
func New(url string, handler Handler, opts Options) *Client {
	if opts.Policy.MaxAttempts <= 0 && opts.Policy.Interval <= 0 {
		opts.Policy = DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		url:     url,
		handler: handler,
		policy:  opts.Policy,
		header:  opts.Header,
		onState: opts.OnState,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
		logger: opts.Logger,
		state:  StateIdle,
	}
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects and keeps the subscription alive until ctx is done (returns nil)
// or the reconnect attempts are exhausted (returns ErrExhausted).
func (c *Client) Run(ctx context.Context) error {
	attempts := 0
	for {
		c.setState(StateConnecting, nil)
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err == nil {
			attempts = 0
			c.setState(StateOpen, conn)
			c.logger.Info("websocket connected", zap.String("url", c.url))
			err = c.readLoop(ctx, conn)
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
		}
		if ctx.Err() != nil {
			c.setState(StateIdle, nil)
			return nil
		}

		if attempts >= c.policy.MaxAttempts {
			c.setState(StateExhausted, nil)
			c.logger.Error("max reconnection attempts reached", zap.Int("attempts", attempts), zap.Error(err))
			return fmt.Errorf("%w: %w", ErrExhausted, err)
		}
		attempts++
		delay := c.policy.Delay(attempts)
		c.logger.Warn("websocket disconnected, reconnecting",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", c.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		c.setState(StateBackoff, nil)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			c.setState(StateIdle, nil)
			return nil
		case <-t.C:
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env relay.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.logger.Warn("failed to parse websocket message", zap.Error(err))
			continue
		}
		if c.handler != nil {
			c.handler(env.Type, env.Data)
		}
	}
}

// Send writes one envelope on the open connection.
func (c *Client) Send(eventType string, payload interface{}) error {
	frame, err := relay.Encode(eventType, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) setState(s State, conn *websocket.Conn) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.conn = conn
	c.mu.Unlock()
	if changed && c.onState != nil {
		c.onState(s)
	}
}
