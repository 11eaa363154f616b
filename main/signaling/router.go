package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"rosstream/main/rtc"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnknownEvent indicates an inbound event with no handler
	ErrUnknownEvent = errors.New("unknown signaling event")

	// ErrRoomFull indicates the signaling server refused to seat us
	ErrRoomFull = errors.New("room is full")
)

type Handler func(ctx context.Context, payload json.RawMessage) error

// Emitter sends a named event over the room transport.
type Emitter interface {
	Emit(event string, args ...interface{}) error
}

// Dispatcher is what a room transport drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, payload json.RawMessage) error
	HandleConnect() error
	HandleDisconnect()
}

type SessionFactory interface {
	NewSession(id string, transport rtc.Transport, roomID string, signaler rtc.Signaler) (*rtc.PeerSession, error)
}

type RouterConfig struct {
	RoomID       string
	Factory      SessionFactory
	Registry     *rtc.Registry
	Emitter      Emitter
	CloseTimeout time.Duration
}

// Router owns the single room session and routes room events to it.
type Router struct {
	roomID       string
	factory      SessionFactory
	registry     *rtc.Registry
	emitter      Emitter
	closeTimeout time.Duration
	handlers     map[string]Handler

	mu      sync.Mutex
	current *rtc.PeerSession
}

func NewRouter(config RouterConfig) *Router {
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = rtc.DefaultCloseTimeout
	}
	r := &Router{
		roomID:       config.RoomID,
		factory:      config.Factory,
		registry:     config.Registry,
		emitter:      config.Emitter,
		closeTimeout: config.CloseTimeout,
	}
	r.handlers = map[string]Handler{
		"welcome":   r.onWelcome,
		"offer":     r.onOffer,
		"answer":    r.onAnswer,
		"ice":       r.onIce,
		"bye":       r.onBye,
		"room_full": r.onRoomFull,
	}
	return r
}

func (r *Router) Events() []string {
	events := make([]string, 0, len(r.handlers))
	for event := range r.handlers {
		events = append(events, event)
	}
	return events
}

// Dispatch runs handlers one at a time in arrival order.
func (r *Router) Dispatch(ctx context.Context, event string, payload json.RawMessage) error {
	handler, ok := r.handlers[event]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err := handler(ctx, payload)
	if err != nil && !errors.Is(err, ErrRoomFull) {
		log.Warn().Err(err).Str("event", event).Str("room", r.roomID).Msg("Dropped signaling event")
	}
	return err
}

func (r *Router) HandleConnect() error {
	log.Info().Str("room", r.roomID).Msg("Joining room")
	return r.emitter.Emit("join_room", r.roomID)
}

// HandleDisconnect fails a session that was still negotiating. Connected
// sessions keep streaming without the signaling channel.
func (r *Router) HandleDisconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return
	}
	r.current.TransportLost()
	if r.current.State().Terminal() {
		r.current = nil
	}
}

// live drops a terminal session and returns what remains. Must hold mu.
func (r *Router) live() *rtc.PeerSession {
	if r.current != nil && r.current.State().Terminal() {
		r.current = nil
	}
	return r.current
}

func (r *Router) Current() *rtc.PeerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live()
}

func (r *Router) newSession(id string) (*rtc.PeerSession, error) {
	session, err := r.factory.NewSession(id, rtc.TransportSocketIO, r.roomID, &roomSignaler{emitter: r.emitter, room: r.roomID})
	if err != nil {
		return nil, err
	}
	if err := r.registry.Register(session); err != nil {
		r.closeSession(session)
		return nil, err
	}
	r.current = session
	return session, nil
}

func (r *Router) closeSession(session *rtc.PeerSession) {
	ctx, cancel := context.WithTimeout(context.Background(), r.closeTimeout)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("Session did not close cleanly")
	}
}

func (r *Router) onWelcome(ctx context.Context, payload json.RawMessage) error {
	user := parseUser(payload)
	log.Info().Str("user", user).Str("room", r.roomID).Msg("User joined the room")

	if current := r.live(); current != nil {
		log.Warn().Str("sessionId", current.ID).Str("user", user).Msg("Session already in progress, ignoring welcome")
		return nil
	}

	id := fmt.Sprintf("room:%s:%s", r.roomID, user)
	session, err := r.newSession(id)
	if errors.Is(err, rtc.ErrSessionExists) {
		log.Warn().Str("sessionId", id).Msg("Duplicate welcome ignored")
		return nil
	}
	if err != nil {
		return err
	}

	if err := session.StartOffer(ctx); err != nil {
		r.closeSession(session)
		r.current = nil
		return err
	}
	return nil
}

func (r *Router) onOffer(ctx context.Context, payload json.RawMessage) error {
	var desc rtc.SessionDescriptor
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("%w: %v", rtc.ErrInvalidSDP, err)
	}

	session := r.live()
	created := false
	if session == nil {
		var err error
		session, err = r.newSession(fmt.Sprintf("room:%s:%s", r.roomID, uuid.NewString()))
		if err != nil {
			return err
		}
		created = true
	}

	if _, err := session.AcceptOffer(ctx, desc); err != nil {
		if created {
			r.closeSession(session)
			r.current = nil
		}
		return err
	}
	return nil
}

func (r *Router) onAnswer(ctx context.Context, payload json.RawMessage) error {
	var desc rtc.SessionDescriptor
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("%w: %v", rtc.ErrInvalidSDP, err)
	}

	session := r.live()
	if session == nil {
		return fmt.Errorf("%w: answer without session", rtc.ErrUnexpectedSignal)
	}
	return session.AcceptAnswer(desc)
}

func (r *Router) onIce(ctx context.Context, payload json.RawMessage) error {
	var candidate *rtc.CandidatePayload
	if err := json.Unmarshal(payload, &candidate); err != nil {
		return fmt.Errorf("%w: %v", rtc.ErrInvalidCandidate, err)
	}

	session := r.live()
	if session == nil {
		return fmt.Errorf("%w: candidate without session", rtc.ErrUnexpectedSignal)
	}
	return session.AddRemoteCandidate(candidate)
}

func (r *Router) onBye(ctx context.Context, payload json.RawMessage) error {
	user := parseUser(payload)
	log.Info().Str("user", user).Str("room", r.roomID).Msg("User left the room")

	session := r.live()
	if session == nil {
		return nil
	}
	r.current = nil
	r.closeSession(session)
	return nil
}

func (r *Router) onRoomFull(ctx context.Context, payload json.RawMessage) error {
	log.Warn().Str("room", r.roomID).Msg("Room is full")
	return ErrRoomFull
}

func parseUser(payload json.RawMessage) string {
	var user string
	if err := json.Unmarshal(payload, &user); err == nil {
		return user
	}
	return strings.TrimSpace(string(payload))
}

// roomSignaler addresses every outbound message to the room.
type roomSignaler struct {
	emitter Emitter
	room    string
}

func (s *roomSignaler) SendOffer(desc rtc.SessionDescriptor) error {
	return s.emitter.Emit("offer", desc, s.room)
}

func (s *roomSignaler) SendAnswer(desc rtc.SessionDescriptor) error {
	return s.emitter.Emit("answer", desc, s.room)
}

func (s *roomSignaler) SendCandidate(candidate *rtc.CandidatePayload) error {
	if candidate == nil {
		return s.emitter.Emit("ice", nil, s.room)
	}
	return s.emitter.Emit("ice", candidate, s.room)
}
