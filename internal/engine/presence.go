package engine

import (
	"github.com/golang/glog"

	"github.com/nexus-im/chatsync/internal/protocol"
)

// The server sends one snapshot right after the handshake, then increments.

func (e *Engine) handleOnlineUsers(env *protocol.Envelope) {
	var onlineUsers protocol.OnlineUsers
	if err := env.Unmarshal(&onlineUsers); err != nil {
		glog.Infof("[e]bad payload = %s", err)
		return
	}
	next := make(map[string]bool, len(onlineUsers.UserIDs))
	for _, userId := range onlineUsers.UserIDs {
		next[userId] = true
	}
	e.onlineUsers = next
	e.changed()
}

func (e *Engine) handleUserOnline(env *protocol.Envelope) {
	var presence protocol.UserPresence
	if err := env.Unmarshal(&presence); err != nil {
		glog.Infof("[e]bad payload = %s", err)
		return
	}
	if e.onlineUsers[presence.UserID] {
		return
	}
	e.onlineUsers[presence.UserID] = true
	e.changed()
}

func (e *Engine) handleUserOffline(env *protocol.Envelope) {
	var presence protocol.UserPresence
	if err := env.Unmarshal(&presence); err != nil {
		glog.Infof("[e]bad payload = %s", err)
		return
	}
	if !e.onlineUsers[presence.UserID] {
		return
	}
	delete(e.onlineUsers, presence.UserID)
	e.changed()
}
