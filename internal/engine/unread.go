package engine

import (
	"golang.org/x/exp/slices"

	"github.com/nexus-im/chatsync/internal/cache"
	"github.com/nexus-im/chatsync/internal/protocol"
)

// markUnread flags chatId when a message from the other side arrives while the
// chat is not focused. In a two-party chat the other side is the chat's
// participant; a chat without a participant is a group chat, where anyone but
// the session's own user counts.
func (e *Engine) markUnread(chatId string, senderId string) {
	if e.focusedChat == chatId || e.cache == nil {
		return
	}
	chats, ok := cache.Get[[]protocol.Chat](e.cache, cache.ChatsKey())
	if !ok {
		return
	}
	i := slices.IndexFunc(chats, func(chat protocol.Chat) bool {
		return chat.ID == chatId
	})
	if i < 0 {
		return
	}
	chat := chats[i]

	if chat.Participant != nil {
		if chat.Participant.ID != senderId {
			return
		}
	} else if e.selfId == "" || senderId == e.selfId {
		return
	}
	e.unreadChats[chatId] = true
}

// focus makes chatId the viewed chat. Focus suppresses unread marking.
func (e *Engine) focus(chatId string) {
	e.focusedChat = chatId
	delete(e.unreadChats, chatId)
}
