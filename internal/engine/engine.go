// Package engine keeps a local view of chats, messages, presence and typing
// state in sync with the events the chat server pushes, and applies local
// sends optimistically before the server confirms them.
//
// All state lives in one Engine and changes only through its methods. Inbound
// events are handled on the connection's goroutine in delivery order; commands
// may be called from any goroutine. Cache writes happen while the engine is
// locked, so cache watchers must not call back into the engine synchronously.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/nexus-im/chatsync/internal/cache"
	"github.com/nexus-im/chatsync/internal/transport"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type Settings struct {
	// TypingTimeout clears a typing indicator that has not been refreshed or
	// stopped. Zero keeps indicators until stopped or a message arrives.
	TypingTimeout time.Duration
	Transport     *transport.Settings
}

func DefaultSettings() *Settings {
	return &Settings{
		TypingTimeout: 6 * time.Second,
		Transport:     transport.DefaultSettings(),
	}
}

type stopper interface {
	Stop() bool
}

type Engine struct {
	ctx      context.Context
	dialer   transport.Dialer
	settings *Settings

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	monitor *monitor

	mutex  sync.Mutex
	socket *transport.Socket
	state  State
	cache  cache.Cache
	selfId string

	onlineUsers  map[string]bool
	typingUsers  map[string]*typingEntry
	unreadChats  map[string]bool
	focusedChat  string
	pendingSends []*pendingSend
}

func NewWithDefaults(ctx context.Context, dialer transport.Dialer) *Engine {
	return New(ctx, dialer, DefaultSettings())
}

func New(ctx context.Context, dialer transport.Dialer, settings *Settings) *Engine {
	return &Engine{
		ctx:      ctx,
		dialer:   dialer,
		settings: settings,
		now:      time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		monitor:     newMonitor(),
		onlineUsers: map[string]bool{},
		typingUsers: map[string]*typingEntry{},
		unreadChats: map[string]bool{},
	}
}

// Changed returns a channel that is closed on the next state change.
func (e *Engine) Changed() <-chan struct{} {
	return e.monitor.notifyChannel()
}

// State is the connection state as the engine has seen it. Commands reach the
// server only while State is connected and the transport is still up.
func (e *Engine) State() State {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.state
}

func (e *Engine) Connected() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.connected()
}

// SelfId is the user id of the current session, read from the token subject.
func (e *Engine) SelfId() string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.selfId
}

func (e *Engine) OnlineUsers() []string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return sortedKeys(e.onlineUsers)
}

func (e *Engine) IsOnline(userId string) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.onlineUsers[userId]
}

// TypingUser returns who is typing in chatId, if anyone.
func (e *Engine) TypingUser(chatId string) (string, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	entry, ok := e.typingUsers[chatId]
	if !ok {
		return "", false
	}
	return entry.userId, true
}

func (e *Engine) UnreadChats() []string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return sortedKeys(e.unreadChats)
}

func (e *Engine) IsUnread(chatId string) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.unreadChats[chatId]
}

func (e *Engine) FocusedChat() (string, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.focusedChat, e.focusedChat != ""
}

// PendingSends returns the correlation ids of sends awaiting confirmation.
func (e *Engine) PendingSends() []string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	ids := make([]string, 0, len(e.pendingSends))
	for _, pending := range e.pendingSends {
		ids = append(ids, pending.clientId)
	}
	return ids
}

// Snapshot is a consistent copy of the engine state.
type Snapshot struct {
	State       State
	OnlineUsers []string
	// chat id -> typing user id
	Typing      map[string]string
	UnreadChats []string
	FocusedChat string
}

func (e *Engine) Snapshot() *Snapshot {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	typing := make(map[string]string, len(e.typingUsers))
	for chatId, entry := range e.typingUsers {
		typing[chatId] = entry.userId
	}
	return &Snapshot{
		State:       e.state,
		OnlineUsers: sortedKeys(e.onlineUsers),
		Typing:      typing,
		UnreadChats: sortedKeys(e.unreadChats),
		FocusedChat: e.focusedChat,
	}
}

// connected reports whether commands may be sent. The connect event must have
// been handled and the transport must not have dropped since.
func (e *Engine) connected() bool {
	return e.state == StateConnected && e.transportUp()
}

func (e *Engine) transportUp() bool {
	return e.socket != nil && e.socket.Connected()
}

func (e *Engine) changed() {
	e.monitor.notifyAll()
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
