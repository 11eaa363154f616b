package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Transport string

const (
	TransportHTTP     Transport = "http"
	TransportSocketIO Transport = "socketio"
)

type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

type Role string

const (
	RoleNone     Role = ""
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// Engine is the part of *webrtc.PeerConnection a session drives.
type Engine interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))
	Close() error
}

type sessionOwner interface {
	release(session *PeerSession)
}

type SessionConfig struct {
	ID        string
	Transport Transport
	RoomID    string
	Engine    Engine
	Signaler  Signaler
	Tracks    []webrtc.TrackLocal
	OnRTT     func(rtt time.Duration)
}

// PeerSession drives one engine connection through
// New -> Negotiating -> Connected -> {Failed, Closed}.
type PeerSession struct {
	ID        string
	Transport Transport
	RoomID    string

	engine   Engine
	signaler Signaler
	onRTT    func(rtt time.Duration)
	logger   zerolog.Logger

	// serializes negotiation steps
	negotiation sync.Mutex
	// held while the outbox drains so candidates leave in gathering order
	sending sync.Mutex

	mu              sync.Mutex
	owner           sessionOwner
	state           State
	role            Role
	localSet        bool
	remoteSet       bool
	exchanged       bool
	descriptionSent bool
	gatherDone      bool
	outbox          []*CandidatePayload
	pending         []webrtc.ICECandidateInit
	gathered        chan struct{}
	done            chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

func NewPeerSession(config SessionConfig) (*PeerSession, error) {
	if config.Engine == nil {
		return nil, errors.New("session requires an engine")
	}

	logCtx := log.With().Str("sessionId", config.ID).Str("transport", string(config.Transport))
	if config.RoomID != "" {
		logCtx = logCtx.Str("room", config.RoomID)
	}

	s := &PeerSession{
		ID:        config.ID,
		Transport: config.Transport,
		RoomID:    config.RoomID,
		engine:    config.Engine,
		signaler:  config.Signaler,
		onRTT:     config.OnRTT,
		logger:    logCtx.Logger(),
		state:     StateNew,
		gathered:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	for _, track := range config.Tracks {
		sender, err := s.engine.AddTrack(track)
		if err != nil {
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		if sender != nil {
			go s.readRTCP(sender)
		}
	}

	s.engine.OnICECandidate(s.handleLocalCandidate)
	s.engine.OnConnectionStateChange(s.handleConnectionState)
	s.engine.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.logger.Info().Str("state", state.String()).Msg("ICE Connection State has changed")
	})

	return s, nil
}

func (s *PeerSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *PeerSession) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Done is closed once the session reaches a terminal state.
func (s *PeerSession) Done() <-chan struct{} {
	return s.done
}

func (s *PeerSession) setOwner(owner sessionOwner) {
	s.mu.Lock()
	s.owner = owner
	s.mu.Unlock()
}

// begin moves New to Negotiating with the given role.
func (s *PeerSession) begin(role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state.Terminal():
		return ErrSessionClosed
	case s.state == StateNegotiating:
		return ErrNegotiationInFlight
	case s.state != StateNew:
		return fmt.Errorf("%w: %s", ErrUnexpectedSignal, s.state)
	}
	s.state = StateNegotiating
	s.role = role
	s.logger.Info().Str("role", string(role)).Msg("Negotiating")
	return nil
}

// StartOffer makes this side the offerer and emits the offer.
func (s *PeerSession) StartOffer(ctx context.Context) error {
	s.negotiation.Lock()
	defer s.negotiation.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.begin(RoleOfferer); err != nil {
		return err
	}

	offer, err := s.engine.CreateOffer(nil)
	if err != nil {
		s.fail(err)
		return err
	}
	if err := s.engine.SetLocalDescription(offer); err != nil {
		s.fail(err)
		return err
	}
	s.mu.Lock()
	s.localSet = true
	s.mu.Unlock()

	if s.signaler != nil {
		if err := s.signaler.SendOffer(descriptorFrom(offer)); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to send offer")
			return err
		}
	}
	s.flushOutbox()
	return nil
}

// AcceptOffer answers a remote offer. Sessions without a signaler wait for
// ICE gathering so the answer carries every candidate; if ctx ends first the
// answer is returned with what has been gathered so far.
func (s *PeerSession) AcceptOffer(ctx context.Context, desc SessionDescriptor) (*SessionDescriptor, error) {
	remote, err := ValidateSDP(desc, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}

	s.negotiation.Lock()
	defer s.negotiation.Unlock()

	if err := s.begin(RoleAnswerer); err != nil {
		return nil, err
	}

	if err := s.engine.SetRemoteDescription(remote); err != nil {
		s.mu.Lock()
		s.state = StateNew
		s.role = RoleNone
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}
	s.markRemoteSet()

	answer, err := s.engine.CreateAnswer(nil)
	if err != nil {
		s.fail(err)
		return nil, err
	}
	if err := s.engine.SetLocalDescription(answer); err != nil {
		s.fail(err)
		return nil, err
	}
	s.mu.Lock()
	s.localSet = true
	s.maybeConnectedLocked()
	s.mu.Unlock()

	if s.signaler != nil {
		reply := descriptorFrom(answer)
		if err := s.signaler.SendAnswer(reply); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to send answer")
			return nil, err
		}
		s.flushOutbox()
		return &reply, nil
	}

	select {
	case <-s.gathered:
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		s.logger.Warn().Msg("ICE gathering incomplete, answering with partial candidates")
	}

	local := s.engine.LocalDescription()
	if local == nil {
		local = &answer
	}
	s.mu.Lock()
	s.descriptionSent = true
	s.maybeConnectedLocked()
	s.mu.Unlock()

	reply := descriptorFrom(*local)
	return &reply, nil
}

// AcceptAnswer applies the remote answer to an offer sent by StartOffer.
func (s *PeerSession) AcceptAnswer(desc SessionDescriptor) error {
	remote, err := ValidateSDP(desc, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}

	s.negotiation.Lock()
	defer s.negotiation.Unlock()

	s.mu.Lock()
	switch {
	case s.state.Terminal():
		s.mu.Unlock()
		return ErrSessionClosed
	case s.role != RoleOfferer || s.state != StateNegotiating || s.remoteSet:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: answer in state %s", ErrUnexpectedSignal, state)
	}
	s.mu.Unlock()

	if err := s.engine.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}
	s.markRemoteSet()
	return nil
}

// AddRemoteCandidate validates and applies a trickled candidate. A nil
// payload marks the end of remote gathering and is never handed to the
// engine. Candidates that arrive before the remote description are held.
func (s *PeerSession) AddRemoteCandidate(payload *CandidatePayload) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if payload == nil || payload.Candidate == "" {
		s.exchanged = true
		s.maybeConnectedLocked()
		s.mu.Unlock()
		s.logger.Info().Msg("Remote ICE gathering complete")
		return nil
	}
	s.mu.Unlock()

	record, err := ParseCandidate(payload.Candidate)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, payload.toInit())
		s.mu.Unlock()
		s.logger.Debug().Str("candidate", payload.Candidate).Msg("Holding candidate until remote description is set")
		return nil
	}
	s.mu.Unlock()

	if err := s.engine.AddICECandidate(payload.toInit()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}

	s.logger.Debug().
		Str("type", record.Type).
		Str("protocol", record.Protocol).
		Str("ip", record.IP).
		Int("port", record.Port).
		Msg("Remote ICE candidate added")

	s.mu.Lock()
	s.exchanged = true
	s.maybeConnectedLocked()
	s.mu.Unlock()
	return nil
}

// TransportLost fails a session whose signaling channel went away mid-negotiation.
func (s *PeerSession) TransportLost() {
	if s.State() != StateNegotiating {
		return
	}
	if s.terminate(StateFailed, "signaling transport lost during negotiation") {
		go s.releaseEngine()
	}
}

// Close is idempotent and returns early with ctx's error if the engine
// does not close in time.
func (s *PeerSession) Close(ctx context.Context) error {
	s.terminate(StateClosed, "session closed")

	result := make(chan error, 1)
	go func() {
		result <- s.releaseEngine()
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		s.logger.Warn().Msg("Timed out closing engine connection")
		return ctx.Err()
	}
}

func (s *PeerSession) markRemoteSet() {
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	added := false
	for _, candidate := range pending {
		if err := s.engine.AddICECandidate(candidate); err != nil {
			s.logger.Warn().Err(err).Str("candidate", candidate.Candidate).Msg("Dropping held candidate")
			continue
		}
		added = true
	}

	s.mu.Lock()
	if added {
		s.exchanged = true
	}
	s.maybeConnectedLocked()
	s.mu.Unlock()
}

// maybeConnectedLocked must be called with mu held.
func (s *PeerSession) maybeConnectedLocked() {
	if s.state != StateNegotiating || !s.localSet || !s.remoteSet || !s.exchanged {
		return
	}
	s.state = StateConnected
	s.logger.Info().Str("role", string(s.role)).Msg("Session connected")
}

func (s *PeerSession) flushOutbox() {
	s.mu.Lock()
	s.descriptionSent = true
	s.mu.Unlock()

	s.drainOutbox()
}

// drainOutbox sends queued candidates until the outbox stays empty.
func (s *PeerSession) drainOutbox() {
	s.sending.Lock()
	defer s.sending.Unlock()

	for {
		s.mu.Lock()
		outbox := s.outbox
		s.outbox = nil
		s.mu.Unlock()

		if len(outbox) == 0 {
			return
		}
		for _, candidate := range outbox {
			s.sendCandidate(candidate)
		}
	}
}

func (s *PeerSession) sendCandidate(candidate *CandidatePayload) {
	if err := s.signaler.SendCandidate(candidate); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send ICE candidate")
	}
}

func (s *PeerSession) handleLocalCandidate(c *webrtc.ICECandidate) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}

	var payload *CandidatePayload
	if c == nil {
		if s.gatherDone {
			s.mu.Unlock()
			return
		}
		s.gatherDone = true
		close(s.gathered)
		if s.signaler == nil {
			// candidates travel inside the answer
			s.exchanged = true
			s.maybeConnectedLocked()
		}
		s.logger.Info().Msg("Local ICE gathering complete")
	} else {
		payload = payloadFrom(c)
	}

	if s.signaler == nil {
		s.mu.Unlock()
		return
	}
	s.outbox = append(s.outbox, payload)
	ready := s.descriptionSent
	s.mu.Unlock()

	if ready {
		s.drainOutbox()
	}
}

func (s *PeerSession) handleConnectionState(state webrtc.PeerConnectionState) {
	s.logger.Info().Str("state", state.String()).Msg("Connection state has changed")

	switch state {
	case webrtc.PeerConnectionStateFailed:
		if s.terminate(StateFailed, "engine reported failed") {
			go s.releaseEngine()
		}
	case webrtc.PeerConnectionStateClosed:
		if s.terminate(StateClosed, "engine reported closed") {
			go s.releaseEngine()
		}
	}
}

func (s *PeerSession) fail(err error) {
	s.logger.Err(err).Msg("Negotiation failed")
	if s.terminate(StateFailed, err.Error()) {
		go s.releaseEngine()
	}
}

// terminate reports whether this call performed the transition.
func (s *PeerSession) terminate(state State, reason string) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	previous := s.state
	s.state = state
	close(s.done)
	owner := s.owner
	s.mu.Unlock()

	s.logger.Info().
		Str("from", previous.String()).
		Str("to", state.String()).
		Str("reason", reason).
		Msg("Session ended")

	if owner != nil {
		owner.release(s)
	}
	return true
}

func (s *PeerSession) releaseEngine() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.engine.Close()
	})
	return s.releaseErr
}

// Factory builds sessions wired to a fresh engine and the shared tracks.
type Factory struct {
	NewEngine EngineFactory
	Tracks    func() []webrtc.TrackLocal
	OnRTT     func(rtt time.Duration)
}

func (f *Factory) NewSession(id string, transport Transport, roomID string, signaler Signaler) (*PeerSession, error) {
	engine, err := f.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	var tracks []webrtc.TrackLocal
	if f.Tracks != nil {
		tracks = f.Tracks()
	}

	session, err := NewPeerSession(SessionConfig{
		ID:        id,
		Transport: transport,
		RoomID:    roomID,
		Engine:    engine,
		Signaler:  signaler,
		Tracks:    tracks,
		OnRTT:     f.OnRTT,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	return session, nil
}
