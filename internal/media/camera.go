package media

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	// Registers V4L2/AVFoundation/DirectShow camera drivers.
	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"github.com/link00000000/mimic/internal/config"
)

const frameSizeTimeout = 3 * time.Second

// Camera acquires VP8-encoded video from a local capture device.
//
// A device driver can only be opened once, so each open device is kept as a
// reference-counted live source and every acquisition gets its own track
// reading from it. Replacing a source on the same device therefore never
// reopens the driver.
type Camera struct {
	codecs *mediadevices.CodecSelector
	log    *slog.Logger

	mu   sync.Mutex
	live map[string]*liveSource
	seq  uint64
}

// liveSource is an open device driver. Its track is never sent directly.
type liveSource struct {
	deviceID string
	track    *mediadevices.VideoTrack
	width    int
	height   int
	refs     int
}

func NewCamera(cfg config.CaptureConfig, logger *slog.Logger) (*Camera, error) {
	if logger == nil {
		logger = slog.Default()
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = cfg.VideoBitRate
	vpxParams.KeyFrameInterval = cfg.KeyFrameInterval
	vpxParams.RateControlEndUsage = vpx.RateControlVBR

	return &Camera{
		codecs: mediadevices.NewCodecSelector(mediadevices.WithVideoEncoders(&vpxParams)),
		log:    logger,
		live:   make(map[string]*liveSource),
	}, nil
}

// RegisterCodecs registers the camera's encoders so offers advertise them.
func (c *Camera) RegisterCodecs(me *webrtc.MediaEngine) error {
	c.codecs.Populate(me)
	return nil
}

// Devices lists the video inputs visible to the camera drivers.
func (c *Camera) Devices() []mediadevices.MediaDeviceInfo {
	var out []mediadevices.MediaDeviceInfo
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.VideoInput {
			out = append(out, d)
		}
	}
	return out
}

// Acquire returns a track on the requested device, opening the driver only
// if no earlier acquisition still holds it. Settings report the frame size
// read from the device and the frame rate each track is throttled to.
func (c *Camera) Acquire(ctx context.Context, cons Constraints) (*SourceHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	src, reused := c.liveLocked(cons.DeviceID)
	if !reused {
		var err error
		src, err = c.openLocked(ctx, cons)
		if err != nil {
			return nil, err
		}
	}
	src.refs++

	c.seq++
	id := fmt.Sprintf("%s-%d", src.deviceID, c.seq)
	rate := frameRateFor(cons)

	var reader video.Reader = src.track.NewReader(true)
	if rate > 0 {
		reader = video.Throttle(float32(rate))(reader)
	}
	shared := &sharedSource{Reader: reader, id: id, release: func() error { return c.release(src) }}
	t := mediadevices.NewVideoTrack(shared, c.codecs)

	settings := Settings{Width: src.width, Height: src.height, FrameRate: rate}
	c.log.Info("camera acquired",
		"device_id", src.deviceID,
		"track_id", id,
		"reused", reused,
		"width", settings.Width,
		"height", settings.Height,
		"framerate", settings.FrameRate,
	)

	return NewSourceHandle([]Track{{Local: t, Settings: settings}}, t.Close), nil
}

// liveLocked finds an open device matching deviceID. An empty deviceID
// matches any open device, since the drivers would otherwise pick one that
// is already in use.
func (c *Camera) liveLocked(deviceID string) (*liveSource, bool) {
	if deviceID != "" {
		src, ok := c.live[deviceID]
		return src, ok
	}
	if len(c.live) == 0 {
		return nil, false
	}
	ids := make([]string, 0, len(c.live))
	for id := range c.live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return c.live[ids[0]], true
}

func (c *Camera) openLocked(ctx context.Context, cons Constraints) (*liveSource, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			if cons.DeviceID != "" {
				mc.DeviceID = prop.String(cons.DeviceID)
			}
			mc.FrameFormat = prop.FrameFormat(frame.FormatYUY2)
			mc.Width = prop.Int(cons.Width)
			mc.Height = prop.Int(cons.Height)
			mc.FrameRate = prop.FloatRanged{
				Ideal: float32(cons.FrameRate),
				Max:   float32(cons.FrameRateMax),
			}
			mc.DiscardFramesOlderThan = 500 * time.Millisecond
		},
		Codec: c.codecs,
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}

	var vt *mediadevices.VideoTrack
	for _, t := range stream.GetVideoTracks() {
		if v, ok := t.(*mediadevices.VideoTrack); ok && vt == nil {
			vt = v
			continue
		}
		_ = t.Close()
	}
	if vt == nil {
		return nil, ErrNoTrackAvailable
	}

	src := &liveSource{deviceID: vt.ID(), track: vt, width: cons.Width, height: cons.Height}
	w, h, err := readFrameSize(ctx, vt)
	if err != nil {
		c.log.Warn("failed to read frame size; reporting requested size", "device_id", src.deviceID, "err", err)
	} else {
		src.width, src.height = w, h
	}

	c.live[src.deviceID] = src
	c.log.Debug("camera driver opened", "device_id", src.deviceID)
	return src, nil
}

// release drops one reference and closes the driver with the last one.
func (c *Camera) release(src *liveSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	src.refs--
	if src.refs > 0 {
		return nil
	}
	delete(c.live, src.deviceID)
	c.log.Debug("camera driver closed", "device_id", src.deviceID)
	return src.track.Close()
}

// liveCount reports how many devices are open.
func (c *Camera) liveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// sharedSource is one consumer of a live device.
type sharedSource struct {
	video.Reader
	id      string
	once    sync.Once
	release func() error
	err     error
}

func (s *sharedSource) ID() string { return s.id }

func (s *sharedSource) Close() error {
	s.once.Do(func() { s.err = s.release() })
	return s.err
}

// frameRateFor is the rate announced for c and enforced on each track: the
// requested rate clamped to FrameRateMax. Drivers do not report the rate
// they settled on, so this is an upper bound rather than a measurement.
func frameRateFor(c Constraints) float64 {
	if c.FrameRateMax > 0 && c.FrameRate > c.FrameRateMax {
		return c.FrameRateMax
	}
	return c.FrameRate
}

// readFrameSize reads one raw frame to learn the size the driver settled on.
func readFrameSize(ctx context.Context, vt *mediadevices.VideoTrack) (int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, frameSizeTimeout)
	defer cancel()

	type result struct {
		w, h int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		r := vt.NewReader(false)
		img, release, err := r.Read()
		if err != nil {
			done <- result{err: err}
			return
		}
		b := img.Bounds()
		release()
		done <- result{w: b.Dx(), h: b.Dy()}
	}()

	select {
	case res := <-done:
		return res.w, res.h, res.err
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}
