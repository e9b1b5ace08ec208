// Package auxchannel implements the sender's auxiliary data channels: the
// heartbeat on "latency" and stream announcements on "metadata".
package auxchannel

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

var (
	ErrChannelClosed  = errors.New("auxchannel: channel closed")
	ErrChannelNotOpen = errors.New("auxchannel: channel not open")
)

// Transport is the subset of *webrtc.DataChannel used by auxiliary channels.
type Transport interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	Send(data []byte) error
	SendText(s string) error
	Close() error
}

var _ Transport = (*webrtc.DataChannel)(nil)

type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Hooks are invoked from the transport's callback goroutines. OnOpen and
// OnClose run at most once each.
type Hooks struct {
	OnOpen    func()
	OnMessage func(msg webrtc.DataChannelMessage)
	OnClose   func()
}

// Channel tracks the connecting -> open -> closed lifecycle of one data
// channel. Closed is terminal.
type Channel struct {
	tr    Transport
	hooks Hooks
	log   *slog.Logger

	mu     sync.Mutex
	state  State
	opened chan struct{}
	closed chan struct{}
}

func New(tr Transport, hooks Hooks, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Channel{
		tr:     tr,
		hooks:  hooks,
		log:    logger.With("label", tr.Label()),
		opened: make(chan struct{}),
		closed: make(chan struct{}),
	}

	tr.OnOpen(c.markOpen)
	tr.OnClose(func() { c.markClosed() })
	tr.OnMessage(func(msg webrtc.DataChannelMessage) {
		switch c.State() {
		case StateClosed:
			return
		case StateConnecting:
			// pion may deliver a message before the open callback runs.
			c.markOpen()
		}
		if c.hooks.OnMessage != nil {
			c.hooks.OnMessage(msg)
		}
	})

	switch tr.ReadyState() {
	case webrtc.DataChannelStateOpen:
		c.markOpen()
	case webrtc.DataChannelStateClosing, webrtc.DataChannelStateClosed:
		c.markClosed()
	}
	return c
}

func (c *Channel) Label() string {
	return c.tr.Label()
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitUntilOpen returns nil once the channel is open and ErrChannelClosed if
// it closes first. Both outcomes are returned immediately when already
// reached.
func (c *Channel) WaitUntilOpen(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case StateOpen:
		return nil
	case StateClosed:
		return ErrChannelClosed
	}

	select {
	case <-c.opened:
		return nil
	case <-c.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed is closed once the channel reaches StateClosed.
func (c *Channel) Closed() <-chan struct{} {
	return c.closed
}

func (c *Channel) SendText(s string) error {
	if c.State() != StateOpen {
		return ErrChannelNotOpen
	}
	return c.tr.SendText(s)
}

func (c *Channel) Send(data []byte) error {
	if c.State() != StateOpen {
		return ErrChannelNotOpen
	}
	return c.tr.Send(data)
}

// Close forces the channel closed. Safe to call repeatedly.
func (c *Channel) Close() error {
	if !c.markClosed() {
		return nil
	}
	return c.tr.Close()
}

func (c *Channel) markOpen() {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	close(c.opened)
	c.mu.Unlock()

	c.log.Debug("data channel open")
	if c.hooks.OnOpen != nil {
		c.hooks.OnOpen()
	}
}

// markClosed reports whether this call performed the transition.
func (c *Channel) markClosed() bool {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = StateClosed
	close(c.closed)
	c.mu.Unlock()

	c.log.Debug("data channel closed")
	if c.hooks.OnClose != nil {
		c.hooks.OnClose()
	}
	return true
}
