package rtc

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
)

// IceCheckResult lists the candidates gathered by a probe connection.
type IceCheckResult struct {
	Candidates []IceCandidateRecord
	Complete   bool
}

func (r IceCheckResult) count(kind string) int {
	n := 0
	for _, c := range r.Candidates {
		if c.Type == kind {
			n++
		}
	}
	return n
}

func (r IceCheckResult) Host() int  { return r.count("host") }
func (r IceCheckResult) Srflx() int { return r.count("srflx") }
func (r IceCheckResult) Relay() int { return r.count("relay") }

// CheckIce gathers candidates against the given servers and reports what
// was found. It returns once gathering completes or ctx ends.
func CheckIce(ctx context.Context, api *webrtc.API, iceServers []webrtc.ICEServer) (IceCheckResult, error) {
	result := IceCheckResult{}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return result, err
	}
	defer pc.Close()

	if _, err := pc.CreateDataChannel("probe", nil); err != nil {
		return result, err
	}

	candidates := make(chan *webrtc.ICECandidate, 32)
	done := make(chan struct{})
	defer close(done)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		select {
		case candidates <- c:
		case <-done:
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return result, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return result, err
	}

	for {
		select {
		case c := <-candidates:
			if c == nil {
				result.Complete = true
				return result, nil
			}
			record, err := ParseCandidate(c.ToJSON().Candidate)
			if err != nil {
				log.Warn().Err(err).Msg("Unparseable local candidate")
				continue
			}
			log.Info().
				Str("type", record.Type).
				Str("protocol", record.Protocol).
				Str("address", fmt.Sprintf("%s:%d", record.IP, record.Port)).
				Msg("Gathered candidate")
			result.Candidates = append(result.Candidates, record)
		case <-ctx.Done():
			return result, fmt.Errorf("%w: %d candidates so far", ErrGatheringTimeout, len(result.Candidates))
		}
	}
}
