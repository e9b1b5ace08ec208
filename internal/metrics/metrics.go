package metrics

import "sync"

// Sender event names.
const (
	NegotiationSucceeded = "negotiation_succeeded"
	NegotiationFailed    = "negotiation_failed"
	SignalingConflict    = "signaling_conflict"
	SignalingUnavailable = "signaling_unavailable"

	HeartbeatEcho  = "heartbeat_echo"
	ConnectionLost = "connection_lost"

	MetadataAnnounced = "metadata_announced"
	MetadataNotOpen   = "metadata_not_open"

	TrackReplaced      = "track_replaced"
	TrackReplaceFailed = "track_replace_failed"
	MultipleTracks     = "multiple_tracks"

	SessionStarted   = "session_started"
	SessionRestarted = "session_restarted"
	SessionEnded     = "session_ended"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and discards every update, so components can take
// an optional registry without nil checks at each call site.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := map[string]uint64{}
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
