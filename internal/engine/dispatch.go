package engine

import (
	"github.com/golang/glog"

	"github.com/nexus-im/chatsync/internal/cache"
	"github.com/nexus-im/chatsync/internal/protocol"
)

// pendingSend is a send waiting for confirmation or failure. The client id is
// both the provisional message id and the correlation id on the wire.
type pendingSend struct {
	clientId string
	chatId   string
}

// JoinChat focuses chatId and clears its unread flag. The server is told only
// when connected; the join is not queued for later.
func (e *Engine) JoinChat(chatId string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.focus(chatId)
	e.changed()

	if e.connected() {
		if err := e.socket.Emit(protocol.EventJoinChat, chatId); err != nil {
			glog.Infof("[e]join %s error = %s", chatId, err)
		}
	}
}

// LeaveChat clears the focus. The server is told only when connected.
func (e *Engine) LeaveChat(chatId string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.focusedChat = ""
	e.changed()

	if e.connected() {
		if err := e.socket.Emit(protocol.EventLeaveChat, chatId); err != nil {
			glog.Infof("[e]leave %s error = %s", chatId, err)
		}
	}
}

// SendMessage appends a provisional message to the chat and sends it. It
// returns the provisional id, or "" when not connected or no cache is bound.
// The provisional message is removed again if the server reports the send as
// failed or the send cannot be written.
func (e *Engine) SendMessage(chatId string, text string, sender protocol.Sender) string {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.connected() || e.cache == nil {
		return ""
	}

	clientId := protocol.NewProvisionalID()
	now := e.now()
	message := protocol.Message{
		ID:        clientId,
		ChatID:    chatId,
		Sender:    sender,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	cache.Update(e.cache, cache.MessagesKey(chatId), func(old []protocol.Message, ok bool) ([]protocol.Message, bool) {
		next := make([]protocol.Message, 0, len(old)+1)
		next = append(next, old...)
		return append(next, message), true
	})

	pending := &pendingSend{
		clientId: clientId,
		chatId:   chatId,
	}
	e.pendingSends = append(e.pendingSends, pending)

	err := e.socket.Emit(protocol.EventSendMessage, &protocol.SendMessage{
		ChatID:   chatId,
		Text:     text,
		ClientID: clientId,
	})
	if err != nil {
		glog.Infof("[e]send %s error = %s", clientId, err)
		e.rollback(pending)
	}
	e.changed()
	return clientId
}

// SendTyping tells the server whether the local user is typing in chatId. No
// local state changes.
func (e *Engine) SendTyping(chatId string, isTyping bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.connected() {
		return
	}
	err := e.socket.Emit(protocol.EventTyping, &protocol.Typing{
		ChatID:   chatId,
		IsTyping: isTyping,
	})
	if err != nil {
		glog.Infof("[e]typing %s error = %s", chatId, err)
	}
}

// handleSocketError rolls back the send the error belongs to. An error without
// a correlation id is charged to the oldest pending send.
func (e *Engine) handleSocketError(env *protocol.Envelope) {
	var socketError protocol.SocketError
	if err := env.Unmarshal(&socketError); err != nil {
		glog.Infof("[e]bad payload = %s", err)
	}
	glog.Infof("[e]socket error = %s", socketError.Message)

	var pending *pendingSend
	if socketError.ClientID != "" {
		for _, p := range e.pendingSends {
			if p.clientId == socketError.ClientID {
				pending = p
				break
			}
		}
	} else if 0 < len(e.pendingSends) {
		pending = e.pendingSends[0]
	}
	if pending == nil {
		return
	}
	e.rollback(pending)
	e.changed()
}

func (e *Engine) rollback(pending *pendingSend) {
	glog.Infof("[e]rollback %s in %s", pending.clientId, pending.chatId)
	e.removePending(func(p *pendingSend) bool {
		return p == pending
	})
	if e.cache == nil {
		return
	}
	cache.Update(e.cache, cache.MessagesKey(pending.chatId), func(old []protocol.Message, ok bool) ([]protocol.Message, bool) {
		if !ok {
			return nil, false
		}
		next := make([]protocol.Message, 0, len(old))
		for _, m := range old {
			if m.ID != pending.clientId {
				next = append(next, m)
			}
		}
		return next, true
	})
}

// resolvePending retires the sends a confirmed message settles. Without a
// correlation id every provisional message of the chat was dropped, so every
// pending send of the chat is settled with it.
func (e *Engine) resolvePending(message protocol.Message) {
	if message.ClientID != "" {
		e.removePending(func(p *pendingSend) bool {
			return p.clientId == message.ClientID
		})
	} else {
		e.removePending(func(p *pendingSend) bool {
			return p.chatId == message.ChatID
		})
	}
}

func (e *Engine) removePending(match func(*pendingSend) bool) {
	next := make([]*pendingSend, 0, len(e.pendingSends))
	for _, p := range e.pendingSends {
		if !match(p) {
			next = append(next, p)
		}
	}
	e.pendingSends = next
}
