package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("signaling server not connected")

const DefaultRetryInterval = 5 * time.Second

// events the server sends without arguments
var noArgEvents = map[string]bool{
	"room_full": true,
}

type socketConn struct {
	client   *socketio.Client
	lost     chan struct{}
	once     sync.Once
	dropOnce sync.Once
}

func (c *socketConn) markLost() {
	c.once.Do(func() { close(c.lost) })
}

// SocketTransport keeps a Socket.IO client connected to the signaling
// server and feeds its events to a Dispatcher.
type SocketTransport struct {
	url   string
	retry time.Duration

	dispatcher Dispatcher
	events     []string

	mu       sync.Mutex
	ctx      context.Context
	conn     *socketConn
	roomFull bool
	closed   bool
}

func NewSocketTransport(url string) *SocketTransport {
	return &SocketTransport{
		url:   url,
		retry: DefaultRetryInterval,
		ctx:   context.Background(),
	}
}

// Bind must be called before Run.
func (t *SocketTransport) Bind(dispatcher Dispatcher, events []string) {
	t.dispatcher = dispatcher
	t.events = events
}

func (t *SocketTransport) Emit(event string, args ...interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return ErrNotConnected
	}
	t.conn.client.Emit(event, args...)
	return nil
}

// Run connects and reconnects until ctx ends, Close is called, or the room
// turns us away. A server that cannot be reached leaves the HTTP server as
// the only way in.
func (t *SocketTransport) Run(ctx context.Context) error {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()

	for {
		conn, err := t.connect()
		if err != nil {
			log.Warn().Err(err).Str("url", t.url).Msg("Signaling server unreachable. Continuing with HTTP server only")
		} else {
			select {
			case <-conn.lost:
			case <-ctx.Done():
				t.disconnect()
				return ctx.Err()
			}
		}
		t.disconnect()

		t.mu.Lock()
		roomFull, closed := t.roomFull, t.closed
		t.mu.Unlock()
		if roomFull {
			log.Warn().Str("url", t.url).Msg("Leaving signaling server. Continuing with HTTP server only")
			return ErrRoomFull
		}
		if closed {
			return nil
		}

		select {
		case <-time.After(t.retry):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *SocketTransport) connect() (*socketConn, error) {
	client, err := socketio.NewClient(t.url, nil)
	if err != nil {
		return nil, err
	}
	conn := &socketConn{client: client, lost: make(chan struct{})}

	client.OnConnect(func(s socketio.Conn) error {
		log.Info().Str("url", t.url).Msg("Connected to signaling server")
		go func() {
			if err := t.dispatcher.HandleConnect(); err != nil {
				log.Warn().Err(err).Msg("Failed to join room")
			}
		}()
		return nil
	})
	client.OnDisconnect(func(s socketio.Conn, reason string) {
		t.dropped(conn, reason)
	})
	// a failed poll only surfaces here
	client.OnError(func(s socketio.Conn, err error) {
		log.Warn().Err(err).Msg("Signaling transport error")
		t.dropped(conn, err.Error())
	})

	for _, event := range t.events {
		event := event
		if noArgEvents[event] {
			client.OnEvent(event, func(s socketio.Conn) {
				t.dispatch(conn, event, nil)
			})
			continue
		}
		client.OnEvent(event, func(s socketio.Conn, msg interface{}) {
			t.dispatch(conn, event, msg)
		})
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if err := client.Connect(); err != nil {
		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		return nil, err
	}
	return conn, nil
}

// dropped tells the dispatcher once per connection, however the loss was reported.
func (t *SocketTransport) dropped(conn *socketConn, reason string) {
	conn.dropOnce.Do(func() {
		log.Info().Str("reason", reason).Msg("Disconnected from signaling server")
		t.dispatcher.HandleDisconnect()
	})
	conn.markLost()
}

func (t *SocketTransport) dispatch(conn *socketConn, event string, msg interface{}) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("Unreadable signaling payload")
		return
	}

	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()

	err = t.dispatcher.Dispatch(ctx, event, json.RawMessage(payload))
	if errors.Is(err, ErrRoomFull) {
		t.mu.Lock()
		t.roomFull = true
		t.mu.Unlock()
		conn.markLost()
	}
}

func (t *SocketTransport) disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return
	}
	t.dropped(conn, "closed")
	if err := conn.client.Close(); err != nil {
		log.Debug().Err(err).Msg("Socket close")
	}
}

// Close stops Run and drops the connection.
func (t *SocketTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.markLost()
	}
	return nil
}
