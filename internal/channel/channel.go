// Package channel implements the Realtime Channel: one websocket per session with an
// idempotent connect, a delayed and cancellable reconnect, and a terminal rejected state.
//
// All transitions happen under the channel's lock, but [Handler] callbacks always run with
// the lock released so a handler may call back into the channel (for example to [Channel.Close]).
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ridex/internal/protocol"
	"github.com/desertthunder/ridex/internal/shared"
	"github.com/gorilla/websocket"
)

// DefaultReconnectDelay applies when no delay is configured.
const DefaultReconnectDelay = 3 * time.Second

// ErrRejected means the server refused the session. It is never retried.
var ErrRejected = fmt.Errorf("%w: session rejected", shared.ErrChannel)

// State of a [Channel].
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is the subset of [websocket.Conn] the channel uses.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a [Conn]. Errors wrapping [ErrRejected] move the channel to [StateRejected].
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules reconnects.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock is backed by [time.AfterFunc].
var RealClock Clock = realClock{}

// Handler receives channel events. Calls are serialized per connection.
type Handler interface {
	Connected()
	Message(msg protocol.Inbound)
	Rejected(reason string)
	Disconnected(err error)
}

// Options configures a [Channel]. URL, Dialer, and Handler are required.
type Options struct {
	URL            string
	Dialer         Dialer
	Handler        Handler
	Clock          Clock
	ReconnectDelay time.Duration
	// Active is checked when a scheduled reconnect fires; false abandons the attempt.
	Active func() bool
	Logger *log.Logger
}

// Channel is the realtime connection for one session.
type Channel struct {
	url     string
	dialer  Dialer
	handler Handler
	clock   Clock
	delay   time.Duration
	active  func() bool
	logger  *log.Logger

	mu    sync.Mutex
	state State
	conn  Conn
	gen   uint64 // bumped by every Connect and Close; stale loops and timers compare against it
	timer Timer

	writeMu sync.Mutex
}

// New creates a closed channel.
func New(opts Options) *Channel {
	c := &Channel{
		url:     opts.URL,
		dialer:  opts.Dialer,
		handler: opts.Handler,
		clock:   opts.Clock,
		delay:   opts.ReconnectDelay,
		active:  opts.Active,
		logger:  opts.Logger,
	}
	if c.clock == nil {
		c.clock = RealClock
	}
	if c.delay <= 0 {
		c.delay = DefaultReconnectDelay
	}
	if c.active == nil {
		c.active = func() bool { return true }
	}
	if c.logger == nil {
		c.logger = log.New(discard{})
	}
	return c
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the server. It is a no-op while connecting, open, or rejected.
//
// A failed dial leaves the channel closed with a reconnect scheduled, and returns the dial error.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.stopTimerLocked()
	c.mu.Unlock()

	c.logger.Debug("connecting", "url", c.url)
	conn, err := c.dialer.Dial(ctx, c.url)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return shared.ErrChannelClosed
	}

	if err != nil {
		if errors.Is(err, ErrRejected) {
			c.state = StateRejected
			c.mu.Unlock()
			c.logger.Warn("session rejected during handshake", "err", err)
			c.handler.Rejected(err.Error())
			return err
		}
		c.state = StateClosed
		c.scheduleLocked(gen)
		c.mu.Unlock()
		c.logger.Warn("connect failed", "err", err, "retry", c.delay)
		c.handler.Disconnected(err)
		return err
	}

	c.state = StateOpen
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("connected", "url", c.url)
	c.handler.Connected()
	go c.readLoop(gen, conn)
	return nil
}

// Send writes a location report. It fails with [shared.ErrChannelClosed] unless the channel is open.
func (c *Channel) Send(r protocol.LocationReport) error {
	data, err := protocol.EncodeReport(r)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return shared.ErrChannelClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrChannel, err)
	}
	return nil
}

// Close tears down the connection and cancels any pending reconnect. Safe to call repeatedly.
// A rejected channel stays rejected.
func (c *Channel) Close() {
	c.mu.Lock()
	c.gen++
	c.stopTimerLocked()
	conn := c.conn
	c.conn = nil
	if c.state != StateRejected {
		c.state = StateClosed
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}
	c.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"))
	c.writeMu.Unlock()
	conn.Close()
	c.logger.Debug("channel closed")
}

func (c *Channel) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.lost(gen, conn, err)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "err", err)
			continue
		}
		if !c.current(gen) {
			return
		}
		c.handler.Message(msg)
	}
}

// lost handles the end of a connection's read loop.
func (c *Channel) lost(gen uint64, conn Conn, err error) {
	conn.Close()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
		c.state = StateRejected
		c.mu.Unlock()
		c.logger.Warn("session rejected by server", "reason", closeErr.Text)
		c.handler.Rejected(closeErr.Text)
		return
	}

	c.state = StateClosed
	c.scheduleLocked(gen)
	c.mu.Unlock()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Warn("connection lost", "err", err, "retry", c.delay)
	} else {
		c.logger.Info("connection closed", "err", err, "retry", c.delay)
	}
	c.handler.Disconnected(err)
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Channel) scheduleLocked(gen uint64) {
	c.stopTimerLocked()
	c.timer = c.clock.AfterFunc(c.delay, func() { c.fire(gen) })
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// fire runs a scheduled reconnect. The session guard is checked now, not when scheduled.
func (c *Channel) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	if !c.active() {
		c.logger.Debug("session ended; skipping reconnect")
		return
	}
	c.logger.Info("reconnecting")
	c.Connect(context.Background())
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
