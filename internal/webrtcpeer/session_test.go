package webrtcpeer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/link00000000/mimic/internal/config"
	"github.com/link00000000/mimic/internal/peertest"
)

// newTestAPIs returns a sender API and a receiver bound to the two ends of a
// virtual network.
func newTestAPIs(t *testing.T) (*webrtc.API, *peertest.Receiver) {
	t.Helper()

	network := peertest.NewNetwork(t)
	api, err := NewAPI(config.Config{}, APIOptions{Net: network.Sender})
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	receiverAPI, err := peertest.NewReceiverAPI(network.Receiver)
	if err != nil {
		t.Fatalf("NewReceiverAPI: %v", err)
	}
	receiver := peertest.NewReceiver(receiverAPI, nil)
	t.Cleanup(receiver.Close)
	return api, receiver
}

func newTestSession(t *testing.T, api *webrtc.API) *Session {
	t.Helper()
	s, err := NewSession(api, SessionConfig{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestTrack(t *testing.T) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "mimic")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}
	return track
}

func TestSession_ChannelLabelsAreUnique(t *testing.T) {
	api, _ := newTestAPIs(t)
	s := newTestSession(t, api)

	if _, err := s.CreateDataChannel(DataChannelLabelLatency); err != nil {
		t.Fatalf("CreateDataChannel(latency): %v", err)
	}
	dc, err := s.CreateDataChannel(DataChannelLabelMetadata)
	if err != nil {
		t.Fatalf("CreateDataChannel(metadata): %v", err)
	}
	if !dc.Ordered() || dc.MaxRetransmits() != nil || dc.MaxPacketLifeTime() != nil {
		t.Fatalf("metadata channel must be ordered and fully reliable")
	}

	if _, err := s.CreateDataChannel(DataChannelLabelLatency); !errors.Is(err, ErrDuplicateChannel) {
		t.Fatalf("err=%v, want %v", err, ErrDuplicateChannel)
	}

	got := s.ChannelLabels()
	if len(got) != 2 || got[0] != DataChannelLabelLatency || got[1] != DataChannelLabelMetadata {
		t.Fatalf("ChannelLabels=%v", got)
	}
	if got, ok := s.DataChannel(DataChannelLabelMetadata); !ok || got != dc {
		t.Fatalf("DataChannel(metadata) did not return the attached channel")
	}
}

func TestSession_SingleSender(t *testing.T) {
	api, _ := newTestAPIs(t)
	s := newTestSession(t, api)

	sender, err := s.AttachTrack(newTestTrack(t))
	if err != nil {
		t.Fatalf("AttachTrack: %v", err)
	}
	if s.Sender() != sender {
		t.Fatalf("Sender() did not return the attached sender")
	}
	if _, err := s.AttachTrack(newTestTrack(t)); !errors.Is(err, ErrSenderAttached) {
		t.Fatalf("err=%v, want %v", err, ErrSenderAttached)
	}
}

func TestSession_ClosedRejectsMutation(t *testing.T) {
	api, _ := newTestAPIs(t)
	s := newTestSession(t, api)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.CreateDataChannel(DataChannelLabelLatency); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err=%v, want %v", err, ErrSessionClosed)
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("Done not closed after Close")
	}
}

func TestWaitForICEGathering_DoesNotResolveBeforeGathering(t *testing.T) {
	api, _ := newTestAPIs(t)
	s := newTestSession(t, api)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := WaitForICEGathering(ctx, s); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want %v", err, context.DeadlineExceeded)
	}
	if got := s.gatherWaiterCount(); got != 0 {
		t.Fatalf("gather waiters=%d after return, want 0", got)
	}
}

func TestWaitForICEGathering_ResolvesOnComplete(t *testing.T) {
	api, _ := newTestAPIs(t)
	s := newTestSession(t, api)
	if _, err := s.CreateDataChannel(DataChannelLabelLatency); err != nil {
		t.Fatalf("CreateDataChannel: %v", err)
	}

	offer, err := s.PeerConnection().CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := s.PeerConnection().SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := WaitForICEGathering(ctx, s); err != nil {
		t.Fatalf("WaitForICEGathering: %v", err)
	}
	if got := s.GatheringState(); got != webrtc.ICEGatheringStateComplete {
		t.Fatalf("gathering state=%s, want complete", got)
	}
	if got := s.gatherWaiterCount(); got != 0 {
		t.Fatalf("gather waiters=%d after return, want 0", got)
	}

	// Already complete: resolves without waiting.
	fast, cancelFast := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelFast()
	if err := WaitForICEGathering(fast, s); err != nil {
		t.Fatalf("WaitForICEGathering (complete): %v", err)
	}
}

func TestWaitForICEGathering_SessionClosed(t *testing.T) {
	api, _ := newTestAPIs(t)
	s := newTestSession(t, api)

	errCh := make(chan error, 1)
	go func() { errCh <- WaitForICEGathering(context.Background(), s) }()

	time.Sleep(10 * time.Millisecond)
	_ = s.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("err=%v, want %v", err, ErrSessionClosed)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("WaitForICEGathering did not return after Close")
	}
}

func TestApplyNetworkSettings_RejectsInvertedPortRange(t *testing.T) {
	se := webrtc.SettingEngine{}
	err := ApplyNetworkSettings(&se, config.Config{
		WebRTCUDPPortRange: &config.UDPPortRange{Min: 5000, Max: 4000},
	})
	if err == nil {
		t.Fatalf("expected error for inverted port range")
	}
}

func TestLoggerFactory_RoutesToSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l := NewLoggerFactory(logger).NewLogger("ice")
	l.Warnf("candidate %d failed", 3)
	l.Tracef("hidden %s", "trace")

	out := buf.String()
	if !strings.Contains(out, "candidate 3 failed") || !strings.Contains(out, "pion_scope=ice") || !strings.Contains(out, "level=WARN") {
		t.Fatalf("log output=%q", out)
	}
	if strings.Contains(out, "hidden trace") {
		t.Fatalf("trace output leaked at debug level: %q", out)
	}
}
