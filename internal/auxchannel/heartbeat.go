package auxchannel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/link00000000/mimic/internal/metrics"
)

// HeartbeatStart is sent once the channel opens; it tells the receiver to
// start its timestamp polling loop.
const HeartbeatStart = "-1"

const DefaultHeartbeatTimeout = 5 * time.Second

type HeartbeatConfig struct {
	// Timeout is the silence window after the last inbound message before the
	// connection is declared lost.
	Timeout time.Duration
	Clock   Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Heartbeat echoes every inbound message back to the receiver and declares
// the connection lost after Timeout passes without one. No timeout is armed
// until the first message arrives.
type Heartbeat struct {
	ch      *Channel
	tr      Transport
	timeout time.Duration
	clock   Clock
	metrics *metrics.Metrics
	log     *slog.Logger
	onLost  func()

	mu         sync.Mutex
	timer      Timer
	generation uint64
	stopped    bool
	lastEcho   time.Time

	lostOnce sync.Once
}

// NewHeartbeat attaches the monitor to tr. onConnectionLost runs at most once,
// before the channel is force-closed.
func NewHeartbeat(tr Transport, cfg HeartbeatConfig, onConnectionLost func()) *Heartbeat {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHeartbeatTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Heartbeat{
		tr:      tr,
		timeout: cfg.Timeout,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		log:     cfg.Logger.With("label", tr.Label()),
		onLost:  onConnectionLost,
	}
	h.ch = New(tr, Hooks{
		OnOpen:    h.handleOpen,
		OnMessage: h.handleMessage,
		OnClose:   h.handleClose,
	}, cfg.Logger)
	return h
}

func (h *Heartbeat) Channel() *Channel {
	return h.ch
}

// LastEchoSentAt is the zero time until the first echo.
func (h *Heartbeat) LastEchoSentAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastEcho
}

// Close stops the monitor and closes the channel without reporting a lost
// connection.
func (h *Heartbeat) Close() error {
	return h.ch.Close()
}

func (h *Heartbeat) handleOpen() {
	if err := h.tr.SendText(HeartbeatStart); err != nil {
		h.log.Warn("failed to send heartbeat start", "err", err)
	}
}

func (h *Heartbeat) handleMessage(msg webrtc.DataChannelMessage) {
	var err error
	if msg.IsString {
		err = h.tr.SendText(string(msg.Data))
	} else {
		// Copy because pion reuses internal buffers.
		err = h.tr.Send(append([]byte(nil), msg.Data...))
	}
	if err != nil {
		h.log.Warn("failed to echo heartbeat", "err", err)
	} else {
		h.metrics.Inc(metrics.HeartbeatEcho)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		h.lastEcho = h.clock.Now()
	}
	h.rearmLocked()
}

func (h *Heartbeat) rearmLocked() {
	if h.stopped {
		return
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.generation++
	gen := h.generation
	h.timer = h.clock.AfterFunc(h.timeout, func() { h.expire(gen) })
}

func (h *Heartbeat) expire(gen uint64) {
	h.mu.Lock()
	// A timer stopped too late to prevent its callback still fires; the
	// generation tells it apart from the live one.
	if h.stopped || gen != h.generation {
		h.mu.Unlock()
		return
	}
	h.timer = nil
	h.mu.Unlock()

	h.lostOnce.Do(func() {
		h.metrics.Inc(metrics.ConnectionLost)
		h.log.Warn("heartbeat timed out; connection lost", "timeout", h.timeout)
		if h.onLost != nil {
			h.onLost()
		}
	})
	_ = h.ch.Close()
}

func (h *Heartbeat) handleClose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	h.generation++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
