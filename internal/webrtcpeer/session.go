package webrtcpeer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var (
	ErrDuplicateChannel = errors.New("webrtcpeer: data channel label already attached")
	ErrSessionSealed    = errors.New("webrtcpeer: session already negotiated; channel and track set is fixed")
	ErrSenderAttached   = errors.New("webrtcpeer: media sender already attached")
	ErrSessionClosed    = errors.New("webrtcpeer: session closed")
)

// SignalingState tracks the sender's side of the single offer/answer round.
type SignalingState int

const (
	SignalingStateStable SignalingState = iota
	SignalingStateHaveLocalOffer
	SignalingStateFailed
)

func (s SignalingState) String() string {
	switch s {
	case SignalingStateStable:
		return "stable"
	case SignalingStateHaveLocalOffer:
		return "have-local-offer"
	case SignalingStateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SignalingState(%d)", int(s))
	}
}

type SessionConfig struct {
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger
}

// Session owns the sender-side PeerConnection along with the data channels
// and media sender attached to it. Channels and the sender must be attached
// before negotiation; Negotiate seals the set.
type Session struct {
	id  string
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu         sync.Mutex
	state      SignalingState
	negotiated bool
	sealed     bool
	channels   map[string]*webrtc.DataChannel
	sender     *webrtc.RTPSender

	gatherWaiters map[uint64]chan struct{}
	nextWaiter    uint64

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	ended   chan struct{}
	endOnce sync.Once
}

func NewSession(api *webrtc.API, cfg SessionConfig) (*Session, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	id := uuid.NewString()
	s := &Session{
		id:            id,
		pc:            pc,
		log:           logger.With("session_id", id),
		channels:      make(map[string]*webrtc.DataChannel),
		gatherWaiters: make(map[uint64]chan struct{}),
		closed:        make(chan struct{}),
		ended:         make(chan struct{}),
	}

	pc.OnICEGatheringStateChange(func(state webrtc.ICEGatheringState) {
		s.log.Debug("ice gathering state changed", "state", state.String())
		if state == webrtc.ICEGatheringStateComplete {
			s.resolveGatherWaiters()
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.log.Debug("ice connection state changed", "state", state.String())
	})
	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		s.log.Debug("peer signaling state changed", "state", state.String())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Info("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.endOnce.Do(func() { close(s.ended) })
		}
	})
	// Track replacement never renegotiates; the single negotiation is driven
	// explicitly by Negotiator.
	pc.OnNegotiationNeeded(func() {
		s.log.Debug("ignoring negotiation needed event")
	})

	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) PeerConnection() *webrtc.PeerConnection {
	return s.pc
}

func (s *Session) Logger() *slog.Logger {
	return s.log
}

func (s *Session) State() SignalingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) GatheringState() webrtc.ICEGatheringState {
	return s.pc.ICEGatheringState()
}

func (s *Session) ConnectionState() webrtc.PeerConnectionState {
	return s.pc.ConnectionState()
}

// CreateDataChannel attaches an ordered, fully reliable data channel. Labels
// are unique per session.
func (s *Session) CreateDataChannel(label string) (*webrtc.DataChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutableLocked(); err != nil {
		return nil, err
	}
	if _, ok := s.channels[label]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateChannel, label)
	}

	ordered := true
	dc, err := s.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel %q: %w", label, err)
	}
	s.channels[label] = dc
	return dc, nil
}

func (s *Session) DataChannel(label string) (*webrtc.DataChannel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc, ok := s.channels[label]
	return dc, ok
}

// ChannelLabels returns the attached labels in sorted order.
func (s *Session) ChannelLabels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	labels := make([]string, 0, len(s.channels))
	for label := range s.channels {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// AttachTrack fills the session's single outbound media slot.
func (s *Session) AttachTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutableLocked(); err != nil {
		return nil, err
	}
	if s.sender != nil {
		return nil, ErrSenderAttached
	}

	sender, err := s.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	s.sender = sender
	go drainRTCP(sender)
	return sender, nil
}

// Sender returns the attached media sender, or nil.
func (s *Session) Sender() *webrtc.RTPSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender
}

func (s *Session) checkMutableLocked() error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	if s.sealed {
		return ErrSessionSealed
	}
	return nil
}

// beginNegotiation moves the session out of its initial Stable state. It
// succeeds at most once per session.
func (s *Session) beginNegotiation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	switch {
	case s.state == SignalingStateFailed:
		return ErrSessionFailed
	case s.sealed || s.negotiated || s.state == SignalingStateHaveLocalOffer:
		return ErrAlreadyNegotiated
	}
	s.sealed = true
	return nil
}

func (s *Session) setState(state SignalingState) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	if state == SignalingStateStable {
		s.negotiated = true
	}
	s.mu.Unlock()

	if prev != state {
		s.log.Debug("signaling state changed", "from", prev.String(), "to", state.String())
	}
}

// addGatherWaiter registers a one-shot gathering-complete listener. The
// returned channel is closed on the first transition to complete.
func (s *Session) addGatherWaiter() (uint64, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWaiter++
	id := s.nextWaiter
	ch := make(chan struct{})
	s.gatherWaiters[id] = ch
	return id, ch
}

func (s *Session) removeGatherWaiter(id uint64) {
	s.mu.Lock()
	delete(s.gatherWaiters, id)
	s.mu.Unlock()
}

func (s *Session) resolveGatherWaiters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.gatherWaiters {
		close(ch)
		delete(s.gatherWaiters, id)
	}
}

func (s *Session) gatherWaiterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.gatherWaiters)
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Ended is closed once the peer connection reaches failed or closed, whether
// the local side or the remote peer brought it down.
func (s *Session) Ended() <-chan struct{} {
	return s.ended
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		s.mu.Unlock()
		s.closeErr = s.pc.Close()
		s.log.Debug("session closed")
	})
	return s.closeErr
}

// drainRTCP reads incoming RTCP so interceptors (NACK, reports) keep running.
// It returns once the sender is stopped.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
