package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/olebedev/emitter"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const DefaultCloseTimeout = 5 * time.Second

// Registry tracks live sessions by id. Sessions leave it on their own when
// they reach a terminal state.
type Registry struct {
	mu           sync.Mutex
	sessions     map[string]*PeerSession
	closed       bool
	closeTimeout time.Duration
	events       *emitter.Emitter

	// lifecycle orders first/empty emits; active is the last state emitted
	lifecycle sync.Mutex
	active    bool
}

func NewRegistry(closeTimeout time.Duration) *Registry {
	if closeTimeout <= 0 {
		closeTimeout = DefaultCloseTimeout
	}
	e := &emitter.Emitter{}
	e.Use("*", emitter.Void)

	return &Registry{
		sessions:     make(map[string]*PeerSession),
		closeTimeout: closeTimeout,
		events:       e,
	}
}

func (r *Registry) Register(session *PeerSession) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if existing, ok := r.sessions[session.ID]; ok && !existing.State().Terminal() {
		r.mu.Unlock()
		return ErrSessionExists
	}
	r.sessions[session.ID] = session
	count := len(r.sessions)
	r.mu.Unlock()

	session.setOwner(r)
	// the session may have ended before it had an owner
	if session.State().Terminal() {
		r.Unregister(session.ID)
		return ErrSessionClosed
	}

	log.Info().Str("sessionId", session.ID).Int("sessions", count).Msg("Session registered")
	r.syncLifecycle()
	return nil
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	count := len(r.sessions)
	r.mu.Unlock()

	log.Info().Str("sessionId", id).Int("sessions", count).Msg("Session unregistered")
	r.syncLifecycle()
}

// syncLifecycle emits "first" or "empty" when the registry's live/empty
// state differs from the last one emitted. The count is read again under
// the lifecycle lock so a stale caller cannot emit out of order.
func (r *Registry) syncLifecycle() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	live := len(r.sessions) > 0
	r.mu.Unlock()

	if live == r.active {
		return
	}
	r.active = live
	if live {
		r.events.Emit("first")
	} else {
		r.events.Emit("empty")
	}
}

func (r *Registry) release(session *PeerSession) {
	r.mu.Lock()
	current, ok := r.sessions[session.ID]
	r.mu.Unlock()
	if ok && current == session {
		r.Unregister(session.ID)
	}
}

func (r *Registry) Get(id string) (*PeerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	return session, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) Sessions() []*PeerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*PeerSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// OnFirstSession fires when the registry goes from empty to one session.
func (r *Registry) OnFirstSession(cb func()) {
	r.events.On("first", func(e *emitter.Event) {
		cb()
	})
}

// OnAllClosed fires when the last session leaves the registry.
func (r *Registry) OnAllClosed(cb func()) {
	r.events.On("empty", func(e *emitter.Event) {
		cb()
	})
}

// CloseAll closes every session concurrently, bounding each by the close
// timeout, and rejects further registrations. Calling it again is a no-op.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := make([]*PeerSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = make(map[string]*PeerSession)
	r.mu.Unlock()

	log.Info().Int("sessions", len(sessions)).Msg("Closing all sessions")

	g := errgroup.Group{}
	for _, session := range sessions {
		session := session
		g.Go(func() error {
			closeCtx, cancel := context.WithTimeout(ctx, r.closeTimeout)
			defer cancel()
			if err := session.Close(closeCtx); err != nil {
				log.Warn().Err(err).Str("sessionId", session.ID).Msg("Session did not close cleanly")
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	r.syncLifecycle()
	return err
}
