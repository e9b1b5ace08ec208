package coordinator

import (
	"time"

	"github.com/link00000000/mimic/internal/auxchannel"
)

type TrackStatus struct {
	ID        string  `json:"id"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"framerate"`
}

// Status is a point-in-time view of the coordinator for the status server.
type Status struct {
	SessionID       string       `json:"session_id,omitempty"`
	SignalingState  string       `json:"signaling_state,omitempty"`
	ConnectionState string       `json:"connection_state,omitempty"`
	Channels        []string     `json:"channels,omitempty"`
	Track           *TrackStatus `json:"track,omitempty"`
	LastEchoSentAt  *time.Time   `json:"last_echo_sent_at,omitempty"`
	ConnectionLost  bool         `json:"connection_lost"`
	SessionEnded    bool         `json:"session_ended"`
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	s, hb, track := c.session, c.heartbeat, c.track
	c.mu.Unlock()

	var st Status
	select {
	case <-c.lost:
		st.ConnectionLost = true
	default:
	}
	if s == nil {
		return st
	}

	select {
	case <-s.Ended():
		st.SessionEnded = true
	default:
	}
	if hb != nil && hb.Channel().State() == auxchannel.StateClosed {
		st.SessionEnded = true
	}

	st.SessionID = s.ID()
	st.SignalingState = s.State().String()
	st.ConnectionState = s.ConnectionState().String()
	st.Channels = s.ChannelLabels()
	if track.Local != nil {
		st.Track = &TrackStatus{
			ID:        track.Local.ID(),
			Width:     track.Settings.Width,
			Height:    track.Settings.Height,
			FrameRate: track.Settings.FrameRate,
		}
	}
	if hb != nil {
		if last := hb.LastEchoSentAt(); !last.IsZero() {
			st.LastEchoSentAt = &last
		}
	}
	return st
}

// Ready reports whether a negotiated session is live.
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	s, hb := c.session, c.heartbeat
	c.mu.Unlock()
	if s == nil {
		return false
	}
	select {
	case <-c.lost:
		return false
	case <-s.Ended():
		return false
	case <-hb.Channel().Closed():
		return false
	default:
	}
	return true
}
