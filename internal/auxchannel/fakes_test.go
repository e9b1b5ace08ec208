package auxchannel

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

type sentMessage struct {
	data   string
	isText bool
}

type fakeTransport struct {
	label string

	mu         sync.Mutex
	state      webrtc.DataChannelState
	onOpen     func()
	onClose    func()
	onMessage  func(webrtc.DataChannelMessage)
	sent       []sentMessage
	closeCalls int
	sendErr    error
}

func newFakeTransport(label string) *fakeTransport {
	return &fakeTransport{label: label, state: webrtc.DataChannelStateConnecting}
}

func (f *fakeTransport) Label() string { return f.label }

func (f *fakeTransport) ReadyState() webrtc.DataChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) OnOpen(fn func()) {
	f.mu.Lock()
	f.onOpen = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnClose(fn func()) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnMessage(fn func(webrtc.DataChannelMessage)) {
	f.mu.Lock()
	f.onMessage = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Send(data []byte) error {
	return f.record(sentMessage{data: string(data)})
}

func (f *fakeTransport) SendText(s string) error {
	return f.record(sentMessage{data: s, isText: true})
}

func (f *fakeTransport) record(m sentMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.state != webrtc.DataChannelStateOpen {
		return errors.New("fake transport not open")
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closeCalls++
	already := f.state == webrtc.DataChannelStateClosed
	f.state = webrtc.DataChannelStateClosed
	onClose := f.onClose
	f.mu.Unlock()
	if !already && onClose != nil {
		onClose()
	}
	return nil
}

// open simulates the remote side accepting the channel.
func (f *fakeTransport) open() {
	f.mu.Lock()
	f.state = webrtc.DataChannelStateOpen
	onOpen := f.onOpen
	f.mu.Unlock()
	if onOpen != nil {
		onOpen()
	}
}

// remoteClose simulates the channel being closed by the peer.
func (f *fakeTransport) remoteClose() {
	f.mu.Lock()
	f.state = webrtc.DataChannelStateClosed
	onClose := f.onClose
	f.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

func (f *fakeTransport) deliverText(s string) {
	f.deliver(webrtc.DataChannelMessage{IsString: true, Data: []byte(s)})
}

func (f *fakeTransport) deliver(msg webrtc.DataChannelMessage) {
	f.mu.Lock()
	onMessage := f.onMessage
	f.mu.Unlock()
	if onMessage != nil {
		onMessage(msg)
	}
}

func (f *fakeTransport) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// pending counts armed timers.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
