package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/link00000000/mimic/internal/config"
	"github.com/link00000000/mimic/internal/coordinator"
	"github.com/link00000000/mimic/internal/metrics"
	"github.com/link00000000/mimic/internal/signaling"
)

var errSessionSetup = errors.New("build session")

// session is the slice of *coordinator.Coordinator the supervisor drives.
type session interface {
	Start(ctx context.Context) error
	Run(ctx context.Context, triggers <-chan struct{}) error
	Close() error

	Status() coordinator.Status
	Ready() bool
}

// supervisor rebuilds a fresh session after a fatal error. Sessions never
// retry internally; a lost or failed session is replaced wholesale.
type supervisor struct {
	newSession func() (session, error)
	// onSession is told about every live session, and nil once it ends.
	onSession func(session)
	triggers  <-chan struct{}
	restart   config.RestartConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// run returns nil once ctx ends. Any other return is a failure the restart
// policy gave up on.
func (s *supervisor) run(ctx context.Context) error {
	b := backoff.WithContext(s.newBackOff(), ctx)

	op := func() error {
		err := s.runOnce(ctx, b)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if !s.restart.Enabled || errors.Is(err, signaling.ErrConflict) || errors.Is(err, errSessionSetup) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		s.metrics.Inc(metrics.SessionRestarted)
		s.logger.Warn("session ended; rebuilding", "err", err, "retry_in", next)
	}

	err := backoff.RetryNotify(op, b, notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *supervisor) newBackOff() *backoff.ExponentialBackOff {
	ebo := backoff.NewExponentialBackOff()
	if s.restart.InitialInterval > 0 {
		ebo.InitialInterval = s.restart.InitialInterval
	}
	if s.restart.MaxInterval > 0 {
		ebo.MaxInterval = s.restart.MaxInterval
	}
	ebo.MaxElapsedTime = s.restart.MaxElapsed
	ebo.Reset()
	return ebo
}

func (s *supervisor) runOnce(ctx context.Context, b backoff.BackOff) error {
	sess, err := s.newSession()
	if err != nil {
		return fmt.Errorf("%w: %w", errSessionSetup, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			s.logger.Warn("failed to close session", "err", err)
		}
	}()

	if err := sess.Start(ctx); err != nil {
		return err
	}

	s.publish(sess)
	defer s.publish(nil)

	// A session that came up resets the restart schedule.
	b.Reset()
	return sess.Run(ctx, s.triggers)
}

func (s *supervisor) publish(sess session) {
	if s.onSession != nil {
		s.onSession(sess)
	}
}
