// Package coordinator owns one sender session from negotiation through
// in-place media adaptation to teardown.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/link00000000/mimic/internal/auxchannel"
	"github.com/link00000000/mimic/internal/media"
	"github.com/link00000000/mimic/internal/metrics"
	"github.com/link00000000/mimic/internal/signaling"
	"github.com/link00000000/mimic/internal/webrtcpeer"
)

var (
	ErrConnectionLost = errors.New("coordinator: connection lost")
	ErrSessionEnded   = errors.New("coordinator: session ended by peer")
	ErrNotStarted     = errors.New("coordinator: session not started")
	ErrStarted        = errors.New("coordinator: already started")
	ErrClosed         = errors.New("coordinator: closed")
)

type Config struct {
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Exchanger  signaling.Exchanger

	Acquirer       media.Acquirer
	Constraints    media.Constraints
	Preview        media.Preview
	PreviewSurface string

	ICEGatheringTimeout time.Duration
	// ConnectTimeout bounds the wait for the metadata channel to open after
	// the answer is applied.
	ConnectTimeout   time.Duration
	HeartbeatTimeout time.Duration
	Clock            auxchannel.Clock

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Coordinator wires a Session, its auxiliary channels and the camera source
// together. Start runs once; a failed or lost session needs a new
// Coordinator.
type Coordinator struct {
	cfg        Config
	log        *slog.Logger
	negotiator *webrtcpeer.Negotiator
	replacer   *media.Replacer

	mu        sync.Mutex
	started   bool
	closed    bool
	session   *webrtcpeer.Session
	heartbeat *auxchannel.Heartbeat
	metadata  *auxchannel.MetadataChannel
	sender    *webrtc.RTPSender
	handle    *media.SourceHandle
	track     media.Track

	lost     chan struct{}
	lostOnce sync.Once
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.API == nil {
		return nil, errors.New("coordinator: API is required")
	}
	if cfg.Exchanger == nil {
		return nil, errors.New("coordinator: exchanger is required")
	}
	if cfg.Acquirer == nil {
		return nil, errors.New("coordinator: media acquirer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Preview == nil {
		cfg.Preview = media.LogPreview{Logger: cfg.Logger}
	}

	return &Coordinator{
		cfg: cfg,
		log: cfg.Logger,
		negotiator: &webrtcpeer.Negotiator{
			Exchanger:     cfg.Exchanger,
			GatherTimeout: cfg.ICEGatheringTimeout,
			Metrics:       cfg.Metrics,
		},
		replacer: &media.Replacer{
			Acquirer:    cfg.Acquirer,
			Constraints: cfg.Constraints,
			Metrics:     cfg.Metrics,
		},
		lost: make(chan struct{}),
	}, nil
}

// Start builds the session, negotiates it and announces the initial stream.
// On failure everything acquired so far is released.
func (c *Coordinator) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.started:
		c.mu.Unlock()
		return ErrStarted
	}
	c.started = true
	c.mu.Unlock()

	s, err := webrtcpeer.NewSession(c.cfg.API, webrtcpeer.SessionConfig{
		ICEServers: c.cfg.ICEServers,
		Logger:     c.log,
	})
	if err != nil {
		return err
	}
	logger := s.Logger()

	var (
		hb     *auxchannel.Heartbeat
		handle *media.SourceHandle
	)
	defer func() {
		if err == nil {
			return
		}
		if hb != nil {
			_ = hb.Close()
		}
		if relErr := handle.Release(); relErr != nil {
			logger.Warn("failed to release media source", "err", relErr)
		}
		_ = s.Close()
	}()

	latencyDC, err := s.CreateDataChannel(webrtcpeer.DataChannelLabelLatency)
	if err != nil {
		return err
	}
	hb = auxchannel.NewHeartbeat(latencyDC, auxchannel.HeartbeatConfig{
		Timeout: c.cfg.HeartbeatTimeout,
		Clock:   c.cfg.Clock,
		Metrics: c.cfg.Metrics,
		Logger:  logger,
	}, c.connectionLost)

	metadataDC, err := s.CreateDataChannel(webrtcpeer.DataChannelLabelMetadata)
	if err != nil {
		return err
	}
	md := auxchannel.NewMetadataChannel(metadataDC, auxchannel.MetadataConfig{
		Metrics: c.cfg.Metrics,
		Logger:  logger,
	})

	handle, err = c.cfg.Acquirer.Acquire(ctx, c.cfg.Constraints)
	if err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}
	track, err := media.SelectTrack(handle, logger, c.cfg.Metrics)
	if err != nil {
		return err
	}
	c.cfg.Preview.Bind(c.cfg.PreviewSurface, handle)

	sender, err := s.AttachTrack(track.Local)
	if err != nil {
		return err
	}

	if err := c.negotiator.Negotiate(ctx, s); err != nil {
		return err
	}

	connectCtx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	if err := md.WaitUntilOpen(connectCtx); err != nil {
		return fmt.Errorf("wait for metadata channel: %w", err)
	}
	if err := md.Announce(track.Settings.Width, track.Settings.Height, track.Settings.FrameRate); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.replacer.Logger = logger
	c.session = s
	c.heartbeat = hb
	c.metadata = md
	c.sender = sender
	c.handle = handle
	c.track = track
	c.mu.Unlock()

	c.cfg.Metrics.Inc(metrics.SessionStarted)
	logger.Info("session started",
		"track_id", track.Local.ID(),
		"width", track.Settings.Width,
		"height", track.Settings.Height,
		"framerate", track.Settings.FrameRate,
	)
	return nil
}

// Adapt swaps in a freshly acquired source without renegotiating. A failure
// leaves the current source live and is not fatal to the session.
func (c *Coordinator) Adapt(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	s, sender, md := c.session, c.sender, c.metadata
	c.mu.Unlock()
	if s == nil {
		return ErrNotStarted
	}

	handle, track, err := c.replacer.Replace(ctx, sender, md)
	if err != nil {
		s.Logger().Warn("track replacement failed; keeping current source", "err", err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = handle.Release()
		return ErrClosed
	}
	old := c.handle
	c.handle = handle
	c.track = track
	c.mu.Unlock()

	c.cfg.Preview.Bind(c.cfg.PreviewSurface, handle)
	if err := old.Release(); err != nil {
		s.Logger().Warn("failed to release previous media source", "err", err)
	}
	return nil
}

// Run adapts the session on every trigger until ctx ends (nil), the
// heartbeat declares the connection lost (ErrConnectionLost), or the peer
// tears the session down (ErrSessionEnded).
func (c *Coordinator) Run(ctx context.Context, triggers <-chan struct{}) error {
	c.mu.Lock()
	s, hb, closed := c.session, c.heartbeat, c.closed
	c.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case s == nil:
		return ErrNotStarted
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.lost:
			return ErrConnectionLost
		case <-hb.Channel().Closed():
			return c.endedErr("latency channel closed")
		case <-s.Ended():
			return c.endedErr("peer connection ended")
		case _, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}
			// Failures are logged and counted by Adapt.
			_ = c.Adapt(ctx)
		}
	}
}

// endedErr classifies a session teardown seen by Run. The heartbeat closes
// its channel right after declaring loss, so loss takes precedence.
func (c *Coordinator) endedErr(reason string) error {
	select {
	case <-c.lost:
		return ErrConnectionLost
	default:
	}
	c.mu.Lock()
	closed, s := c.closed, c.session
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.cfg.Metrics.Inc(metrics.SessionEnded)
	if s != nil {
		s.Logger().Warn("session ended by peer", "reason", reason)
	}
	return ErrSessionEnded
}

// Done is closed when the heartbeat declares the connection lost.
func (c *Coordinator) Done() <-chan struct{} {
	return c.lost
}

func (c *Coordinator) connectionLost() {
	c.lostOnce.Do(func() { close(c.lost) })
}

// Session returns the live session, or nil before Start succeeds.
func (c *Coordinator) Session() *webrtcpeer.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Close releases media and closes the session. Safe to call repeatedly.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s, hb, handle := c.session, c.heartbeat, c.handle
	c.session, c.heartbeat, c.handle = nil, nil, nil
	c.mu.Unlock()

	var errs []error
	if hb != nil {
		if err := hb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close heartbeat: %w", err))
		}
	}
	if err := handle.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release media: %w", err))
	}
	if s != nil {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
	}
	return errors.Join(errs...)
}
