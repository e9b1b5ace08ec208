package webrtcpeer

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// WaitForICEGathering blocks until s has finished gathering local candidates.
// It returns immediately when gathering is already complete. Gathering that
// never completes is bounded only by ctx.
func WaitForICEGathering(ctx context.Context, s *Session) error {
	// Subscribe before checking the current state so a transition between the
	// two cannot be missed.
	id, done := s.addGatherWaiter()
	defer s.removeGatherWaiter(id)

	if s.pc.ICEGatheringState() == webrtc.ICEGatheringStateComplete {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
