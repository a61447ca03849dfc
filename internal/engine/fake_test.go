package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"github.com/nexus-im/chatsync/internal/auth"
	"github.com/nexus-im/chatsync/internal/cache"
	"github.com/nexus-im/chatsync/internal/protocol"
	"github.com/nexus-im/chatsync/internal/transport"
)

const testTimeout = 5 * time.Second

// fakeConn is an in-memory connection. Frames pushed with deliver are read by
// the socket; frames the socket writes are collected in outbound.
type fakeConn struct {
	inbound   chan []byte
	outbound  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 64),
		outbound: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.inbound:
		return websocket.TextMessage, b, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(messageType int, b []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	c.outbound <- b
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mutex  sync.Mutex
	err    error
	tokens []string
	conns  chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		conns: make(chan *fakeConn, 8),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, token string) (transport.Conn, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.tokens = append(d.tokens, token)
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.err = err
}

func (d *fakeDialer) dialCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.tokens)
}

type fakeTimer struct {
	fire    func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

type fakeTimers struct {
	mutex  sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) afterFunc(d time.Duration, fire func()) stopper {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	timer := &fakeTimer{fire: fire}
	f.timers = append(f.timers, timer)
	return timer
}

func (f *fakeTimers) last() *fakeTimer {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.timers[len(f.timers)-1]
}

type testEnv struct {
	t      *testing.T
	engine *Engine
	dialer *fakeDialer
	cache  *cache.Memory
	timers *fakeTimers
	conn   *fakeConn
	token  string

	flushCount int
}

func newTestEnv(t *testing.T) *testEnv {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	settings := DefaultSettings()
	settings.Transport.PingInterval = 0

	dialer := newFakeDialer()
	e := New(ctx, dialer, settings)
	timers := &fakeTimers{}
	e.afterFunc = timers.afterFunc

	token, err := auth.NewAuthenticator("test-secret", "test", time.Hour).GenerateToken("me", "Me")
	assert.Equal(t, err, nil)

	return &testEnv{
		t:      t,
		engine: e,
		dialer: dialer,
		cache:  cache.NewMemory(),
		timers: timers,
		token:  token,
	}
}

// connect connects the engine and waits until the connection is up.
func (env *testEnv) connect() *fakeConn {
	env.engine.Connect(env.token, env.cache)
	select {
	case env.conn = <-env.dialer.conns:
	case <-time.After(testTimeout):
		env.t.Fatal("timed out waiting for dial")
	}
	env.waitFor(func() bool {
		return env.engine.State() == StateConnected
	})
	return env.conn
}

// waitFor blocks until cond holds, re-checking on every engine change.
func (env *testEnv) waitFor(cond func() bool) {
	env.t.Helper()
	deadline := time.After(testTimeout)
	for {
		changed := env.engine.Changed()
		if cond() {
			return
		}
		select {
		case <-changed:
		case <-deadline:
			env.t.Fatal("timed out waiting for condition")
		}
	}
}

func (env *testEnv) deliver(event string, data any) {
	env.t.Helper()
	b, err := protocol.Encode(event, data)
	assert.Equal(env.t, err, nil)
	env.conn.inbound <- b
}

// flush waits until every event delivered so far has been handled.
func (env *testEnv) flush() {
	env.t.Helper()
	env.flushCount++
	barrier := fmt.Sprintf("barrier-%d", env.flushCount)
	env.deliver(protocol.EventUserOnline, &protocol.UserPresence{UserID: barrier})
	env.waitFor(func() bool {
		return env.engine.IsOnline(barrier)
	})
	env.deliver(protocol.EventUserOffline, &protocol.UserPresence{UserID: barrier})
	env.waitFor(func() bool {
		return !env.engine.IsOnline(barrier)
	})
}

// emitted returns the next frame the engine wrote.
func (env *testEnv) emitted() *protocol.Envelope {
	env.t.Helper()
	select {
	case b := <-env.conn.outbound:
		e, err := protocol.Decode(b)
		assert.Equal(env.t, err, nil)
		return e
	case <-time.After(testTimeout):
		env.t.Fatal("timed out waiting for emitted frame")
		return nil
	}
}

func (env *testEnv) assertNothingEmitted() {
	env.t.Helper()
	select {
	case b := <-env.conn.outbound:
		env.t.Fatalf("unexpected frame %s", b)
	default:
	}
}

func (env *testEnv) messages(chatId string) []protocol.Message {
	messages, _ := cache.Get[[]protocol.Message](env.cache, cache.MessagesKey(chatId))
	return messages
}

func (env *testEnv) setChats(chats ...protocol.Chat) {
	cache.Update(env.cache, cache.ChatsKey(), func(old []protocol.Chat, ok bool) ([]protocol.Chat, bool) {
		return chats, true
	})
}

func messageIds(messages []protocol.Message) []string {
	ids := []string{}
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	return ids
}

func cacheMessages(env *testEnv, chatId string) ([]protocol.Message, bool) {
	return cache.Get[[]protocol.Message](env.cache, cache.MessagesKey(chatId))
}

func getChats(env *testEnv) ([]protocol.Chat, bool) {
	return cache.Get[[]protocol.Chat](env.cache, cache.ChatsKey())
}
