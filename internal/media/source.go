// Package media acquires camera sources and swaps them into a live session
// without renegotiation.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/link00000000/mimic/internal/config"
)

var (
	ErrNoTrackAvailable  = errors.New("media: source has no video track")
	ErrReplaceInProgress = errors.New("media: track replacement already in progress")
)

// Settings are the actual parameters a capture device settled on.
type Settings struct {
	Width     int
	Height    int
	FrameRate float64
}

// Constraints are requested capture parameters. FrameRate is the ideal rate
// and FrameRateMax the upper bound.
type Constraints struct {
	DeviceID     string
	Width        int
	Height       int
	FrameRate    float64
	FrameRateMax float64
}

func ConstraintsFromConfig(c config.CaptureConfig) Constraints {
	return Constraints{
		DeviceID:     c.DeviceID,
		Width:        c.Width,
		Height:       c.Height,
		FrameRate:    c.FrameRate,
		FrameRateMax: c.FrameRateMax,
	}
}

type Track struct {
	Local    webrtc.TrackLocal
	Settings Settings
}

// SourceHandle owns the tracks of one acquisition. Tracks are in device
// order. Release stops them; it is safe to call more than once.
type SourceHandle struct {
	Tracks []Track

	release    func() error
	once       sync.Once
	releaseErr error
}

func NewSourceHandle(tracks []Track, release func() error) *SourceHandle {
	return &SourceHandle{Tracks: tracks, release: release}
}

func (h *SourceHandle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		if h.release != nil {
			h.releaseErr = h.release()
		}
	})
	return h.releaseErr
}

// Acquirer obtains a new capture source satisfying the constraints.
type Acquirer interface {
	Acquire(ctx context.Context, c Constraints) (*SourceHandle, error)
}

type AcquirerFunc func(ctx context.Context, c Constraints) (*SourceHandle, error)

func (f AcquirerFunc) Acquire(ctx context.Context, c Constraints) (*SourceHandle, error) {
	return f(ctx, c)
}
