package engine

import (
	"github.com/golang/glog"

	"github.com/nexus-im/chatsync/internal/auth"
	"github.com/nexus-im/chatsync/internal/cache"
	"github.com/nexus-im/chatsync/internal/protocol"
	"github.com/nexus-im/chatsync/internal/transport"
)

// Connect opens the session connection with token as its credential and binds
// c as the cache that inbound events are written into. It returns
// immediately; the outcome is visible through State and Changed. Connect is a
// no-op while a connection is up. A connection that is not up is torn down
// and replaced. There is no automatic retry.
func (e *Engine) Connect(token string, c cache.Cache) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.transportUp() {
		return
	}
	if e.socket != nil {
		glog.V(1).Infof("[e]replace stale connection")
		e.socket.Close()
		e.socket = nil
		// listeners of the old connection are gone with it
		e.pendingSends = nil
	}

	if claims, err := auth.ParseUnverified(token); err == nil {
		e.selfId = claims.UserID
	} else {
		glog.V(1).Infof("[e]token has no readable subject = %s", err)
		e.selfId = ""
	}

	socket := transport.NewSocket(e.ctx, e.dialer, token, e.settings.Transport)
	e.register(socket)
	e.socket = socket
	e.cache = c
	e.setState(StateConnecting)
	socket.Open()
}

// Disconnect tears down the connection and resets presence, typing, unread
// and focus state. Provisional messages still in the cache stay there.
func (e *Engine) Disconnect() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.socket != nil {
		e.socket.Close()
		e.socket = nil
	}
	glog.Infof("[e]disconnect")

	for _, entry := range e.typingUsers {
		entry.stop()
	}
	e.cache = nil
	e.selfId = ""
	e.onlineUsers = map[string]bool{}
	e.typingUsers = map[string]*typingEntry{}
	e.unreadChats = map[string]bool{}
	e.focusedChat = ""
	e.pendingSends = nil
	e.state = StateDisconnected
	e.changed()
}

// register installs the inbound handlers for one connection. Each handler
// runs with the engine locked and ignores events from a replaced connection.
func (e *Engine) register(socket *transport.Socket) {
	handlers := map[string]func(env *protocol.Envelope){
		protocol.EventConnect:     e.handleConnect,
		protocol.EventDisconnect:  e.handleDisconnect,
		protocol.EventOnlineUsers: e.handleOnlineUsers,
		protocol.EventUserOnline:  e.handleUserOnline,
		protocol.EventUserOffline: e.handleUserOffline,
		protocol.EventSocketError: e.handleSocketError,
		protocol.EventNewMessage:  e.handleNewMessage,
		protocol.EventTyping:      e.handleTyping,
	}
	for event, handle := range handlers {
		socket.On(event, func(env *protocol.Envelope) {
			e.mutex.Lock()
			defer e.mutex.Unlock()
			if e.socket != socket {
				glog.V(2).Infof("[e]drop %s from replaced connection", env.Event)
				return
			}
			handle(env)
		})
	}
}

func (e *Engine) handleConnect(env *protocol.Envelope) {
	glog.Infof("[e]connected as %s", e.selfId)
	e.setState(StateConnected)
}

func (e *Engine) handleDisconnect(env *protocol.Envelope) {
	glog.Infof("[e]disconnected reason = %s", transport.DisconnectReason(env))
	e.setState(StateDisconnected)
}

func (e *Engine) setState(state State) {
	if e.state == state {
		return
	}
	glog.V(1).Infof("[e]state %s -> %s", e.state, state)
	e.state = state
	e.changed()
}
