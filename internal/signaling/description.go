package signaling

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

const (
	TypeOffer  = "offer"
	TypeAnswer = "answer"
)

var (
	errInvalidSDPType = errors.New("signaling: invalid session description type")
	errMissingSDP     = errors.New("signaling: missing session description sdp")
)

// SessionDescription is the JSON wire form of an SDP offer or answer:
// {"sdp": "...", "type": "offer"|"answer"}.
type SessionDescription struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

func FromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		SDP:  desc.SDP,
		Type: desc.Type.String(),
	}
}

func (d SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch d.Type {
	case TypeOffer:
		t = webrtc.SDPTypeOffer
	case TypeAnswer:
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %q", errInvalidSDPType, d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

// Validate checks that d is a non-empty description of the wanted type.
func (d SessionDescription) Validate(wantType string) error {
	if d.Type != wantType {
		return fmt.Errorf("%w: got %q, want %q", errInvalidSDPType, d.Type, wantType)
	}
	if d.SDP == "" {
		return errMissingSDP
	}
	return nil
}
