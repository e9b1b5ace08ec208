package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/link00000000/mimic/internal/config"
	"github.com/link00000000/mimic/internal/coordinator"
	"github.com/link00000000/mimic/internal/metrics"
	"github.com/link00000000/mimic/internal/signaling"
)

type fakeSession struct {
	startErr error
	// run, when set, replaces the default of blocking until ctx ends.
	run func(ctx context.Context) error

	mu     sync.Mutex
	closed int
}

func (f *fakeSession) Start(context.Context) error { return f.startErr }

func (f *fakeSession) Run(ctx context.Context, _ <-chan struct{}) error {
	if f.run != nil {
		return f.run(ctx)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSession) Status() coordinator.Status { return coordinator.Status{} }
func (f *fakeSession) Ready() bool                { return true }

// scriptedSessions hands out sessions in order; the last one repeats.
type scriptedSessions struct {
	mu       sync.Mutex
	sessions []*fakeSession
	built    int
}

func (s *scriptedSessions) next() (session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.built
	if i >= len(s.sessions) {
		i = len(s.sessions) - 1
	}
	s.built++
	return s.sessions[i], nil
}

func (s *scriptedSessions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.built
}

func newTestSupervisor(newSession func() (session, error), restart config.RestartConfig, m *metrics.Metrics) *supervisor {
	return &supervisor{
		newSession: newSession,
		triggers:   make(chan struct{}),
		restart:    restart,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:    m,
	}
}

var fastRestart = config.RestartConfig{
	Enabled:         true,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
}

func TestSupervisor_ConflictIsPermanent(t *testing.T) {
	conflict := fmt.Errorf("negotiate: %w", signaling.ErrConflict)
	sessions := &scriptedSessions{sessions: []*fakeSession{{startErr: conflict}}}
	m := metrics.New()
	sup := newTestSupervisor(sessions.next, fastRestart, m)

	err := sup.run(context.Background())
	if !errors.Is(err, signaling.ErrConflict) {
		t.Fatalf("err=%v, want %v", err, signaling.ErrConflict)
	}
	if got := sessions.count(); got != 1 {
		t.Fatalf("built %d sessions, want 1", got)
	}
	if got := m.Get(metrics.SessionRestarted); got != 0 {
		t.Fatalf("%s=%d, want 0", metrics.SessionRestarted, got)
	}
	if got := sessions.sessions[0].closeCount(); got != 1 {
		t.Fatalf("session closed %d times, want 1", got)
	}
}

func TestSupervisor_RebuildsAfterTransientFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unavailable := fmt.Errorf("negotiate: %w", signaling.ErrUnavailable)
	live := &fakeSession{}
	sessions := &scriptedSessions{sessions: []*fakeSession{
		{startErr: unavailable},
		{startErr: unavailable},
		live,
	}}
	m := metrics.New()
	sup := newTestSupervisor(sessions.next, fastRestart, m)

	published := make(chan session, 4)
	sup.onSession = func(s session) { published <- s }

	errCh := make(chan error, 1)
	go func() { errCh <- sup.run(ctx) }()

	select {
	case s := <-published:
		if s != session(live) {
			t.Fatalf("published %v, want the live session", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a live session")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run err=%v, want nil after cancel", err)
	}
	if s := <-published; s != nil {
		t.Fatalf("published %v on shutdown, want nil", s)
	}
	if got := m.Get(metrics.SessionRestarted); got != 2 {
		t.Fatalf("%s=%d, want 2", metrics.SessionRestarted, got)
	}
	if got := live.closeCount(); got != 1 {
		t.Fatalf("live session closed %d times, want 1", got)
	}
}

func TestSupervisor_RebuildsAfterConnectionLoss(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lost := &fakeSession{run: func(context.Context) error { return coordinator.ErrConnectionLost }}
	second := &fakeSession{run: func(context.Context) error {
		cancel()
		return nil
	}}
	sessions := &scriptedSessions{sessions: []*fakeSession{lost, second}}
	m := metrics.New()
	sup := newTestSupervisor(sessions.next, fastRestart, m)

	if err := sup.run(ctx); err != nil {
		t.Fatalf("run err=%v, want nil", err)
	}
	if got := sessions.count(); got != 2 {
		t.Fatalf("built %d sessions, want 2", got)
	}
	if got := lost.closeCount(); got != 1 {
		t.Fatalf("lost session closed %d times, want 1", got)
	}
	if got := m.Get(metrics.SessionRestarted); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.SessionRestarted, got)
	}
}

func TestSupervisor_RebuildsAfterPeerEndsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ended := &fakeSession{run: func(context.Context) error { return coordinator.ErrSessionEnded }}
	second := &fakeSession{run: func(context.Context) error {
		cancel()
		return nil
	}}
	sessions := &scriptedSessions{sessions: []*fakeSession{ended, second}}
	m := metrics.New()
	sup := newTestSupervisor(sessions.next, fastRestart, m)

	if err := sup.run(ctx); err != nil {
		t.Fatalf("run err=%v, want nil", err)
	}
	if got := sessions.count(); got != 2 {
		t.Fatalf("built %d sessions, want 2", got)
	}
	if got := ended.closeCount(); got != 1 {
		t.Fatalf("ended session closed %d times, want 1", got)
	}
	if got := m.Get(metrics.SessionRestarted); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.SessionRestarted, got)
	}
}

func TestSupervisor_RestartDisabled(t *testing.T) {
	sessions := &scriptedSessions{sessions: []*fakeSession{
		{startErr: signaling.ErrUnavailable},
		{},
	}}
	sup := newTestSupervisor(sessions.next, config.RestartConfig{Enabled: false}, nil)

	if err := sup.run(context.Background()); !errors.Is(err, signaling.ErrUnavailable) {
		t.Fatalf("err=%v, want %v", err, signaling.ErrUnavailable)
	}
	if got := sessions.count(); got != 1 {
		t.Fatalf("built %d sessions, want 1", got)
	}
}

func TestSupervisor_SetupErrorIsPermanent(t *testing.T) {
	setupErr := errors.New("coordinator: API is required")
	builds := 0
	sup := newTestSupervisor(func() (session, error) {
		builds++
		return nil, setupErr
	}, fastRestart, nil)

	if err := sup.run(context.Background()); !errors.Is(err, setupErr) {
		t.Fatalf("err=%v, want %v", err, setupErr)
	}
	if builds != 1 {
		t.Fatalf("built %d times, want 1", builds)
	}
}

func TestSupervisor_GivesUpAfterMaxElapsed(t *testing.T) {
	sessions := &scriptedSessions{sessions: []*fakeSession{{startErr: signaling.ErrUnavailable}}}
	restart := fastRestart
	restart.MaxElapsed = 50 * time.Millisecond
	sup := newTestSupervisor(sessions.next, restart, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- sup.run(context.Background()) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, signaling.ErrUnavailable) {
			t.Fatalf("err=%v, want %v", err, signaling.ErrUnavailable)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("supervisor did not give up")
	}
	if got := sessions.count(); got < 2 {
		t.Fatalf("built %d sessions, want at least 2", got)
	}
}
