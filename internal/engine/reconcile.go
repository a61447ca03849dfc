package engine

import (
	"github.com/golang/glog"
	"golang.org/x/exp/slices"

	"github.com/nexus-im/chatsync/internal/cache"
	"github.com/nexus-im/chatsync/internal/protocol"
)

// ReconcileMessages merges a confirmed message into the cached message list of
// its chat and returns the new list; old is never modified.
//
// When the message echoes a correlation id, only provisional entries of sends
// still in pending survive, the echoed one excepted. Entries left behind by a
// lost connection have no pending send and are dropped. Without a correlation
// id every provisional entry of the chat is dropped. A durable id that is
// already present is not added again.
func ReconcileMessages(old []protocol.Message, ok bool, message protocol.Message, pending []string) []protocol.Message {
	if !ok {
		return []protocol.Message{message}
	}

	next := make([]protocol.Message, 0, len(old)+1)
	for _, m := range old {
		if !m.Provisional() {
			next = append(next, m)
		} else if message.ClientID != "" && m.ID != message.ClientID && slices.Contains(pending, m.ID) {
			next = append(next, m)
		}
	}

	if slices.ContainsFunc(next, func(m protocol.Message) bool {
		return m.ID == message.ID
	}) {
		return next
	}
	return append(next, message)
}

// ProjectSummary returns chats with the summary of the message's chat pointing
// at message. Other chats are unchanged.
func ProjectSummary(chats []protocol.Chat, message protocol.Message) []protocol.Chat {
	next := slices.Clone(chats)
	for i := range next {
		if next[i].ID != message.ChatID {
			continue
		}
		createdAt := message.CreatedAt
		next[i].LastMessage = &protocol.LastMessage{
			ID:        message.ID,
			Text:      message.Text,
			Sender:    message.Sender.ID,
			CreatedAt: createdAt,
		}
		next[i].LastMessageAt = &createdAt
	}
	return next
}

func (e *Engine) handleNewMessage(env *protocol.Envelope) {
	var message protocol.Message
	if err := env.Unmarshal(&message); err != nil {
		glog.Infof("[e]bad payload = %s", err)
		return
	}
	if message.ChatID == "" || message.ID == "" {
		glog.Infof("[e]drop new-message without chat or id")
		return
	}
	senderId := message.Sender.ID

	if e.cache != nil {
		pending := make([]string, 0, len(e.pendingSends))
		for _, p := range e.pendingSends {
			pending = append(pending, p.clientId)
		}
		cache.Update(e.cache, cache.MessagesKey(message.ChatID), func(old []protocol.Message, ok bool) ([]protocol.Message, bool) {
			return ReconcileMessages(old, ok, message, pending), true
		})
		cache.Update(e.cache, cache.ChatsKey(), func(old []protocol.Chat, ok bool) ([]protocol.Chat, bool) {
			if !ok {
				return nil, false
			}
			return ProjectSummary(old, message), true
		})
	}
	e.resolvePending(message)

	e.markUnread(message.ChatID, senderId)

	// a message from the chat implies its sender stopped typing
	e.clearTyping(message.ChatID)

	glog.V(2).Infof("[e]new-message %s in %s", message.ID, message.ChatID)
	e.changed()
}
