package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/link00000000/mimic/internal/metrics"
)

// Sender is the outbound media slot of a session. *webrtc.RTPSender satisfies
// it.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// Announcer publishes stream settings to the receiver.
type Announcer interface {
	WaitUntilOpen(ctx context.Context) error
	Announce(width, height int, frameRate float64) error
}

// SelectTrack picks the first track in device order. Extra tracks are logged
// and counted but otherwise ignored.
func SelectTrack(h *SourceHandle, logger *slog.Logger, m *metrics.Metrics) (Track, error) {
	if h == nil || len(h.Tracks) == 0 {
		return Track{}, ErrNoTrackAvailable
	}
	if len(h.Tracks) > 1 {
		if logger == nil {
			logger = slog.Default()
		}
		m.Inc(metrics.MultipleTracks)
		logger.Warn("source has multiple video tracks; using the first",
			"tracks", len(h.Tracks),
			"track_id", h.Tracks[0].Local.ID(),
		)
	}
	return h.Tracks[0], nil
}

// Replacer swaps the session's outbound track for a freshly acquired one.
// The receiver is told the new settings before the substitution, and the
// previous source stays live if anything fails.
type Replacer struct {
	Acquirer    Acquirer
	Constraints Constraints
	Logger      *slog.Logger
	Metrics     *metrics.Metrics

	mu sync.Mutex
}

// Replace returns the new handle and the track now being sent. The caller
// owns releasing the previous handle. Concurrent calls fail with
// ErrReplaceInProgress.
func (r *Replacer) Replace(ctx context.Context, sender Sender, md Announcer) (*SourceHandle, Track, error) {
	if !r.mu.TryLock() {
		return nil, Track{}, ErrReplaceInProgress
	}
	defer r.mu.Unlock()

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h, track, err := r.replace(ctx, sender, md, logger)
	if err != nil {
		r.Metrics.Inc(metrics.TrackReplaceFailed)
		return nil, Track{}, err
	}
	r.Metrics.Inc(metrics.TrackReplaced)
	logger.Info("track replaced",
		"track_id", track.Local.ID(),
		"width", track.Settings.Width,
		"height", track.Settings.Height,
		"framerate", track.Settings.FrameRate,
	)
	return h, track, nil
}

func (r *Replacer) replace(ctx context.Context, sender Sender, md Announcer, logger *slog.Logger) (_ *SourceHandle, _ Track, err error) {
	if r.Acquirer == nil || sender == nil || md == nil {
		return nil, Track{}, errors.New("media: replacer missing acquirer, sender or metadata channel")
	}

	h, err := r.Acquirer.Acquire(ctx, r.Constraints)
	if err != nil {
		return nil, Track{}, fmt.Errorf("acquire source: %w", err)
	}
	defer func() {
		if err != nil {
			if relErr := h.Release(); relErr != nil {
				logger.Warn("failed to release new source", "err", relErr)
			}
		}
	}()

	track, err := SelectTrack(h, logger, r.Metrics)
	if err != nil {
		return nil, Track{}, err
	}

	if err := md.WaitUntilOpen(ctx); err != nil {
		return nil, Track{}, fmt.Errorf("wait for metadata channel: %w", err)
	}
	if err := md.Announce(track.Settings.Width, track.Settings.Height, track.Settings.FrameRate); err != nil {
		return nil, Track{}, err
	}
	if err := sender.ReplaceTrack(track.Local); err != nil {
		return nil, Track{}, fmt.Errorf("replace track: %w", err)
	}
	return h, track, nil
}
