//go:build videotest

package media

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/videotest"

	"github.com/link00000000/mimic/internal/config"
)

func newTestCamera(t *testing.T) (*Camera, string) {
	t.Helper()
	cam, err := NewCamera(config.CaptureConfig{VideoBitRate: 500_000, KeyFrameInterval: 30}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewCamera: %v", err)
	}
	for _, d := range cam.Devices() {
		if d.Label == "VideoTest" {
			return cam, d.DeviceID
		}
	}
	t.Fatalf("VideoTest device not registered; devices=%+v", cam.Devices())
	return nil, ""
}

func readFrame(t *testing.T, tr Track) {
	t.Helper()
	vt, ok := tr.Local.(*mediadevices.VideoTrack)
	if !ok {
		t.Fatalf("track %T is not a video track", tr.Local)
	}
	done := make(chan error, 1)
	go func() {
		_, release, err := vt.NewReader(false).Read()
		if err == nil {
			release()
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("read frame from %s: %v", tr.Local.ID(), err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out reading a frame from %s", tr.Local.ID())
	}
}

func TestCamera_ReacquireWhileLive(t *testing.T) {
	cam, deviceID := newTestCamera(t)
	cons := Constraints{DeviceID: deviceID, Width: 640, Height: 480, FrameRate: 10, FrameRateMax: 30}

	first, err := cam.Acquire(context.Background(), cons)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	second, err := cam.Acquire(context.Background(), cons)
	if err != nil {
		_ = first.Release()
		t.Fatalf("second Acquire while the first is live: %v", err)
	}
	t.Cleanup(func() {
		_ = first.Release()
		_ = second.Release()
	})

	if got := cam.liveCount(); got != 1 {
		t.Fatalf("open devices=%d, want 1", got)
	}
	a, b := first.Tracks[0], second.Tracks[0]
	if a.Local.ID() == b.Local.ID() {
		t.Fatalf("tracks share id %q", a.Local.ID())
	}
	want := Settings{Width: 640, Height: 480, FrameRate: 10}
	if a.Settings != want || b.Settings != want {
		t.Fatalf("settings=%+v and %+v, want %+v", a.Settings, b.Settings, want)
	}

	// Releasing the replaced source leaves the driver open for the new one.
	if err := first.Release(); err != nil {
		t.Fatalf("release first: %v", err)
	}
	if got := cam.liveCount(); got != 1 {
		t.Fatalf("open devices after first release=%d, want 1", got)
	}
	readFrame(t, b)

	if err := second.Release(); err != nil {
		t.Fatalf("release second: %v", err)
	}
	if got := cam.liveCount(); got != 0 {
		t.Fatalf("open devices after last release=%d, want 0", got)
	}

	// The driver was closed, so a fresh acquisition reopens it.
	third, err := cam.Acquire(context.Background(), cons)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	readFrame(t, third.Tracks[0])
	if err := third.Release(); err != nil {
		t.Fatalf("release third: %v", err)
	}
}

func TestCamera_EmptyDeviceIDReusesLiveDevice(t *testing.T) {
	cam, deviceID := newTestCamera(t)

	first, err := cam.Acquire(context.Background(), Constraints{DeviceID: deviceID, Width: 640, Height: 480, FrameRate: 10})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = first.Release() })

	second, err := cam.Acquire(context.Background(), Constraints{Width: 640, Height: 480, FrameRate: 10})
	if err != nil {
		t.Fatalf("Acquire without device id: %v", err)
	}
	t.Cleanup(func() { _ = second.Release() })

	if got := cam.liveCount(); got != 1 {
		t.Fatalf("open devices=%d, want 1", got)
	}
	readFrame(t, second.Tracks[0])
}

func TestCamera_AnnouncesClampedFrameRate(t *testing.T) {
	cam, deviceID := newTestCamera(t)

	h, err := cam.Acquire(context.Background(), Constraints{DeviceID: deviceID, Width: 640, Height: 480, FrameRate: 60, FrameRateMax: 30})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = h.Release() })

	if got := h.Tracks[0].Settings.FrameRate; got != 30 {
		t.Fatalf("framerate=%v, want 30", got)
	}
}
