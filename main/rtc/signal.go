package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
)

// SessionDescriptor is the wire shape of an offer or answer.
type SessionDescriptor struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// CandidatePayload is the wire shape of a trickled ICE candidate.
type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// Signaler carries a session's outbound negotiation messages. A nil
// candidate marks the end of local gathering.
type Signaler interface {
	SendOffer(desc SessionDescriptor) error
	SendAnswer(desc SessionDescriptor) error
	SendCandidate(candidate *CandidatePayload) error
}

func descriptorFrom(desc webrtc.SessionDescription) SessionDescriptor {
	return SessionDescriptor{SDP: desc.SDP, Type: desc.Type.String()}
}

// ValidateSDP checks the descriptor kind and that the SDP body parses.
func ValidateSDP(desc SessionDescriptor, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	if strings.ToLower(desc.Type) != want.String() {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: expected %s, got %q", ErrInvalidSDP, want, desc.Type)
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: empty body", ErrInvalidSDP)
	}
	parsed := sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}
	return webrtc.SessionDescription{Type: want, SDP: desc.SDP}, nil
}

func payloadFrom(c *webrtc.ICECandidate) *CandidatePayload {
	candidateInit := c.ToJSON()
	return &CandidatePayload{
		Candidate:     candidateInit.Candidate,
		SDPMid:        candidateInit.SDPMid,
		SDPMLineIndex: candidateInit.SDPMLineIndex,
	}
}

func (p *CandidatePayload) toInit() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
}
