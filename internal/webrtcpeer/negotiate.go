package webrtcpeer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/link00000000/mimic/internal/metrics"
	"github.com/link00000000/mimic/internal/signaling"
)

var (
	ErrAlreadyNegotiated = errors.New("webrtcpeer: session already negotiated")
	ErrSessionFailed     = errors.New("webrtcpeer: session negotiation failed")
)

// Negotiator drives the single non-trickle offer/answer round of a Session:
// offer, full candidate gathering, one exchange with the receiver, answer.
type Negotiator struct {
	Exchanger signaling.Exchanger
	// GatherTimeout bounds candidate gathering. Zero waits for ctx alone.
	GatherTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Negotiate runs to completion at most once per session. Any failure leaves
// the session in SignalingStateFailed; a retry needs a new Session.
func (n *Negotiator) Negotiate(ctx context.Context, s *Session) error {
	if err := s.beginNegotiation(); err != nil {
		return err
	}

	logger := n.Logger
	if logger == nil {
		logger = s.log
	} else {
		logger = logger.With("session_id", s.id)
	}

	start := time.Now()
	if err := n.negotiate(ctx, s); err != nil {
		s.setState(SignalingStateFailed)
		n.Metrics.Inc(metrics.NegotiationFailed)
		switch {
		case errors.Is(err, signaling.ErrConflict):
			n.Metrics.Inc(metrics.SignalingConflict)
		case errors.Is(err, signaling.ErrUnavailable):
			n.Metrics.Inc(metrics.SignalingUnavailable)
		}
		logger.Warn("negotiation failed", "err", err)
		return err
	}

	s.setState(SignalingStateStable)
	n.Metrics.Inc(metrics.NegotiationSucceeded)
	logger.Info("negotiation complete", "duration", time.Since(start))
	return nil
}

func (n *Negotiator) negotiate(ctx context.Context, s *Session) error {
	if n.Exchanger == nil {
		return errors.New("webrtcpeer: negotiator has no exchanger")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	s.setState(SignalingStateHaveLocalOffer)

	gatherCtx := ctx
	if n.GatherTimeout > 0 {
		var cancel context.CancelFunc
		gatherCtx, cancel = context.WithTimeout(ctx, n.GatherTimeout)
		defer cancel()
	}
	if err := WaitForICEGathering(gatherCtx, s); err != nil {
		return fmt.Errorf("wait for ice gathering: %w", err)
	}

	// The local description now carries every gathered candidate.
	local := s.pc.LocalDescription()
	if local == nil {
		return errors.New("webrtcpeer: missing local description after gathering")
	}

	answer, err := n.Exchanger.Exchange(signaling.WithSessionID(ctx, s.id), signaling.FromPion(*local))
	if err != nil {
		return fmt.Errorf("exchange offer: %w", err)
	}

	remote, err := answer.ToPion()
	if err != nil {
		return fmt.Errorf("%w: %w", signaling.ErrRejected, err)
	}
	if err := s.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}
