package engine

import (
	"github.com/golang/glog"

	"github.com/nexus-im/chatsync/internal/protocol"
)

// at most one typing user is tracked per chat
type typingEntry struct {
	userId string
	timer  stopper
}

func (t *typingEntry) stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (e *Engine) handleTyping(env *protocol.Envelope) {
	var typing protocol.Typing
	if err := env.Unmarshal(&typing); err != nil {
		glog.Infof("[e]bad payload = %s", err)
		return
	}
	if typing.IsTyping {
		e.setTyping(typing.ChatID, typing.UserID)
	} else {
		e.clearTyping(typing.ChatID)
	}
}

func (e *Engine) setTyping(chatId string, userId string) {
	if previous, ok := e.typingUsers[chatId]; ok {
		previous.stop()
	}
	entry := &typingEntry{userId: userId}
	if 0 < e.settings.TypingTimeout {
		entry.timer = e.afterFunc(e.settings.TypingTimeout, func() {
			e.expireTyping(chatId, entry)
		})
	}
	e.typingUsers[chatId] = entry
	e.changed()
}

func (e *Engine) clearTyping(chatId string) {
	entry, ok := e.typingUsers[chatId]
	if !ok {
		return
	}
	entry.stop()
	delete(e.typingUsers, chatId)
	e.changed()
}

// expireTyping runs on the timer goroutine.
func (e *Engine) expireTyping(chatId string, entry *typingEntry) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.typingUsers[chatId] != entry {
		// refreshed, stopped or reset since the timer was armed
		return
	}
	glog.V(1).Infof("[e]typing expired %s in %s", entry.userId, chatId)
	delete(e.typingUsers, chatId)
	e.changed()
}
