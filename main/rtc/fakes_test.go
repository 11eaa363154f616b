package rtc

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
)

const testSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=sendrecv\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

const hostCandidate = "candidate:842163049 1 udp 2122260223 192.168.1.5 54321 typ host"

type fakeEngine struct {
	mu          sync.Mutex
	onCandidate func(*webrtc.ICECandidate)
	onState     func(webrtc.PeerConnectionState)
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	added       []webrtc.ICECandidateInit
	closed      int

	// emitted from SetLocalDescription, nil entries mark end of gathering
	gather   []*webrtc.ICECandidate
	closeFor time.Duration
}

func (f *fakeEngine) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}, nil
}

func (f *fakeEngine) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP}, nil
}

func (f *fakeEngine) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	f.local = &desc
	gather := f.gather
	cb := f.onCandidate
	f.mu.Unlock()

	for _, c := range gather {
		cb(c)
	}
	return nil
}

func (f *fakeEngine) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = &desc
	return nil
}

func (f *fakeEngine) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakeEngine) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, candidate)
	return nil
}

func (f *fakeEngine) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return nil, nil
}

func (f *fakeEngine) OnICECandidate(cb func(*webrtc.ICECandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = cb
}

func (f *fakeEngine) OnConnectionStateChange(cb func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = cb
}

func (f *fakeEngine) OnICEConnectionStateChange(func(webrtc.ICEConnectionState)) {}

func (f *fakeEngine) Close() error {
	time.Sleep(f.closeFor)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeEngine) emitState(state webrtc.PeerConnectionState) {
	f.mu.Lock()
	cb := f.onState
	f.mu.Unlock()
	cb(state)
}

func (f *fakeEngine) emitCandidate(c *webrtc.ICECandidate) {
	f.mu.Lock()
	cb := f.onCandidate
	f.mu.Unlock()
	cb(c)
}

func (f *fakeEngine) addedCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.added...)
}

func (f *fakeEngine) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type signal struct {
	kind      string
	desc      SessionDescriptor
	candidate *CandidatePayload
}

type fakeSignaler struct {
	mu      sync.Mutex
	signals []signal

	// slows every SendCandidate
	candidateDelay time.Duration
}

func (f *fakeSignaler) record(s signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, s)
	return nil
}

func (f *fakeSignaler) SendOffer(desc SessionDescriptor) error {
	return f.record(signal{kind: "offer", desc: desc})
}

func (f *fakeSignaler) SendAnswer(desc SessionDescriptor) error {
	return f.record(signal{kind: "answer", desc: desc})
}

func (f *fakeSignaler) SendCandidate(candidate *CandidatePayload) error {
	time.Sleep(f.candidateDelay)
	if candidate == nil {
		return f.record(signal{kind: "end"})
	}
	return f.record(signal{kind: "candidate", candidate: candidate})
}

func (f *fakeSignaler) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, len(f.signals))
	for i, s := range f.signals {
		kinds[i] = s.kind
	}
	return kinds
}

func localHost() *webrtc.ICECandidate {
	return &webrtc.ICECandidate{
		Foundation: "842163049",
		Priority:   2122260223,
		Address:    "192.168.1.5",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       54321,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	}
}

func strPtr(s string) *string { return &s }

func u16Ptr(v uint16) *uint16 { return &v }
