package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registeredSession(t *testing.T, registry *Registry, id string, engine *fakeEngine) *PeerSession {
	t.Helper()
	session, err := NewPeerSession(SessionConfig{ID: id, Transport: TransportHTTP, Engine: engine})
	require.NoError(t, err)
	require.NoError(t, registry.Register(session))
	return session
}

func TestRegisterRejectsDuplicateLiveId(t *testing.T) {
	registry := NewRegistry(time.Second)
	first := registeredSession(t, registry, "a", &fakeEngine{})

	duplicate, err := NewPeerSession(SessionConfig{ID: "a", Engine: &fakeEngine{}})
	require.NoError(t, err)
	assert.ErrorIs(t, registry.Register(duplicate), ErrSessionExists)

	got, ok := registry.Get("a")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestClosedSessionLeavesRegistry(t *testing.T) {
	registry := NewRegistry(time.Second)
	session := registeredSession(t, registry, "a", &fakeEngine{})
	registeredSession(t, registry, "b", &fakeEngine{})
	require.Equal(t, 2, registry.Len())

	require.NoError(t, session.Close(context.Background()))

	_, ok := registry.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, registry.Len())
	assert.Len(t, registry.Sessions(), 1)
}

func TestCloseAllBoundedPerSession(t *testing.T) {
	registry := NewRegistry(50 * time.Millisecond)
	engines := make([]*fakeEngine, 5)
	for i := range engines {
		engines[i] = &fakeEngine{}
		registeredSession(t, registry, fmt.Sprintf("s%d", i), engines[i])
	}
	hanging := &fakeEngine{closeFor: 2 * time.Second}
	registeredSession(t, registry, "hanging", hanging)

	start := time.Now()
	err := registry.CloseAll(context.Background())
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second)
	assert.Zero(t, registry.Len())
	for _, engine := range engines {
		assert.Equal(t, 1, engine.closeCount())
	}
}

func TestCloseAllIdempotent(t *testing.T) {
	registry := NewRegistry(time.Second)
	session := registeredSession(t, registry, "a", &fakeEngine{})

	require.NoError(t, registry.CloseAll(context.Background()))
	require.NoError(t, registry.CloseAll(context.Background()))
	assert.Equal(t, StateClosed, session.State())

	late, err := NewPeerSession(SessionConfig{ID: "late", Engine: &fakeEngine{}})
	require.NoError(t, err)
	assert.ErrorIs(t, registry.Register(late), ErrRegistryClosed)
}

func TestRegistryLifecycleEvents(t *testing.T) {
	registry := NewRegistry(time.Second)
	var first, empty int32
	registry.OnFirstSession(func() { atomic.AddInt32(&first, 1) })
	registry.OnAllClosed(func() { atomic.AddInt32(&empty, 1) })

	a := registeredSession(t, registry, "a", &fakeEngine{})
	b := registeredSession(t, registry, "b", &fakeEngine{})
	require.NoError(t, a.Close(context.Background()))
	assert.Zero(t, atomic.LoadInt32(&empty))
	require.NoError(t, b.Close(context.Background()))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&first) == 1 && atomic.LoadInt32(&empty) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestLifecycleEventsAlternateUnderChurn(t *testing.T) {
	registry := NewRegistry(time.Second)

	var mu sync.Mutex
	var events []string
	record := func(event string) func() {
		return func() {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
		}
	}
	registry.OnFirstSession(record("start"))
	registry.OnAllClosed(record("stop"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, err := NewPeerSession(SessionConfig{ID: fmt.Sprintf("s%d", i), Engine: &fakeEngine{}})
			if !assert.NoError(t, err) || !assert.NoError(t, registry.Register(session)) {
				return
			}
			registry.Unregister(session.ID)
		}(i)
	}
	wg.Wait()
	registeredSession(t, registry, "keeper", &fakeEngine{})

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	for i, event := range events {
		if i%2 == 0 {
			assert.Equal(t, "start", event, "event %d", i)
		} else {
			assert.Equal(t, "stop", event, "event %d", i)
		}
	}
	// the registry holds a session, so the last event must be a start
	assert.Equal(t, "start", events[len(events)-1])
}
