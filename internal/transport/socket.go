package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/nexus-im/chatsync/internal/protocol"
)

// Disconnect reasons carried by the disconnect event.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonConnectError     = "connect error"
)

var ErrNotConnected = errors.New("socket is not connected")

// Handler receives one inbound event.
type Handler func(env *protocol.Envelope)

// Socket is one connection instance. Handlers run on the socket's own
// goroutine, one at a time, in the order the server delivered the events.
// A Socket is not reused after it disconnects.
type Socket struct {
	ctx    context.Context
	cancel context.CancelFunc

	dialer   Dialer
	token    string
	settings *Settings

	openOnce sync.Once

	stateMutex sync.Mutex
	conn       Conn
	connected  bool
	closed     bool

	writeMutex sync.Mutex

	handlerMutex sync.Mutex
	handlers     map[string][]Handler
}

func NewSocket(ctx context.Context, dialer Dialer, token string, settings *Settings) *Socket {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Socket{
		ctx:      cancelCtx,
		cancel:   cancel,
		dialer:   dialer,
		token:    token,
		settings: settings,
		handlers: map[string][]Handler{},
	}
}

// Open starts connecting in the background. The outcome is reported through
// the connect and disconnect events.
func (s *Socket) Open() {
	s.openOnce.Do(func() {
		go s.run()
	})
}

func (s *Socket) Connected() bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	return s.connected
}

// On registers handler for every occurrence of event. Handlers of one event
// run in the order they were registered. Handlers are never removed; they go
// away with the socket.
func (s *Socket) On(event string, handler Handler) {
	s.handlerMutex.Lock()
	defer s.handlerMutex.Unlock()
	// copy on write so dispatch can iterate without the lock
	next := make([]Handler, 0, len(s.handlers[event])+1)
	next = append(next, s.handlers[event]...)
	next = append(next, handler)
	s.handlers[event] = next
}

// Emit sends an event to the server.
func (s *Socket) Emit(event string, data any) error {
	s.stateMutex.Lock()
	conn := s.conn
	connected := s.connected
	s.stateMutex.Unlock()
	if !connected {
		return ErrNotConnected
	}

	b, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	if err := s.write(conn, websocket.TextMessage, b); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	glog.V(2).Infof("[s]emit %s", event)
	return nil
}

// Close tears the connection down. A disconnect event with
// ReasonClientDisconnect follows once the read loop exits.
func (s *Socket) Close() {
	s.stateMutex.Lock()
	if s.closed {
		s.stateMutex.Unlock()
		return
	}
	s.closed = true
	s.connected = false
	conn := s.conn
	s.stateMutex.Unlock()

	s.cancel()
	if conn != nil {
		conn.Close()
	}
}

func (s *Socket) isClosed() bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	return s.closed
}

func (s *Socket) write(conn Conn, messageType int, b []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if d, ok := conn.(interface{ SetWriteDeadline(time.Time) error }); ok && 0 < s.settings.WriteTimeout {
		d.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
	}
	return conn.WriteMessage(messageType, b)
}

func (s *Socket) run() {
	defer s.cancel()

	conn, err := s.dialer.Dial(s.ctx, s.token)
	if err != nil {
		if s.isClosed() {
			s.dispatchDisconnect(ReasonClientDisconnect)
			return
		}
		glog.Infof("[s]connect error = %s", err)
		s.dispatchDisconnect(ReasonConnectError)
		return
	}

	s.stateMutex.Lock()
	if s.closed {
		s.stateMutex.Unlock()
		conn.Close()
		s.dispatchDisconnect(ReasonClientDisconnect)
		return
	}
	s.conn = conn
	s.connected = true
	s.stateMutex.Unlock()

	s.dispatch(&protocol.Envelope{Event: protocol.EventConnect})

	go s.ping(conn)

	reason := s.read(conn)

	s.stateMutex.Lock()
	s.connected = false
	s.stateMutex.Unlock()
	conn.Close()

	s.dispatchDisconnect(reason)
}

func (s *Socket) read(conn Conn) string {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return ReasonClientDisconnect
			}
			if errors.Is(err, io.EOF) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ReasonTransportClose
			}
			glog.Infof("[s]read error = %s", err)
			return ReasonTransportError
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
		default:
			continue
		}

		env, err := protocol.Decode(message)
		if err != nil {
			glog.V(1).Infof("[s]drop frame = %s", err)
			continue
		}
		switch env.Event {
		case protocol.EventConnect, protocol.EventDisconnect:
			// reserved for local lifecycle events
			continue
		}
		s.dispatch(env)
	}
}

func (s *Socket) ping(conn Conn) {
	if s.settings.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.settings.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				glog.V(1).Infof("[s]ping error = %s", err)
				return
			}
		}
	}
}

func (s *Socket) dispatchDisconnect(reason string) {
	data, _ := json.Marshal(reason)
	s.dispatch(&protocol.Envelope{Event: protocol.EventDisconnect, Data: data})
}

func (s *Socket) dispatch(env *protocol.Envelope) {
	s.handlerMutex.Lock()
	handlers := s.handlers[env.Event]
	s.handlerMutex.Unlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					glog.Errorf("[s]handler %s panic = %v", env.Event, r)
				}
			}()
			handler(env)
		}()
	}
}

// DisconnectReason extracts the reason from a disconnect event.
func DisconnectReason(env *protocol.Envelope) string {
	var reason string
	if err := json.Unmarshal(env.Data, &reason); err != nil {
		return ""
	}
	return reason
}
