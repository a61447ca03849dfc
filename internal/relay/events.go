package relay

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"

	"github.com/nexus-im/chatsync/internal/protocol"
	"github.com/nexus-im/chatsync/store/conversation"
)

const (
	sendFailed = "Failed to send message"
	joinFailed = "Failed to join chat"
)

var errBadPayload = errors.New("bad payload")

func (h *Hub) handle(ctx context.Context, client *Client, env *protocol.Envelope) {
	var err error
	switch env.Event {
	case protocol.EventJoinChat:
		err = h.handleJoin(ctx, client, env)
	case protocol.EventLeaveChat:
		err = h.handleLeave(client, env)
	case protocol.EventSendMessage:
		err = h.handleSend(ctx, client, env)
	case protocol.EventTyping:
		err = h.handleTyping(ctx, client, env)
	default:
		glog.V(1).Infof("[hub]%s: unknown event %s", client.userID, env.Event)
		return
	}
	if err != nil {
		glog.Infof("[hub]%s: %s error = %s", client.userID, env.Event, err)
	}
}

// members returns the members of chatID when userID is one of them.
func (h *Hub) members(ctx context.Context, chatID string, userID string) ([]string, error) {
	memberIDs, err := h.store.Members(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsMember(memberIDs, userID) {
		return nil, conversation.ErrNotMember
	}
	return memberIDs, nil
}

// handleJoin only checks membership. Delivery follows conversation membership,
// not the chat a client has open.
func (h *Hub) handleJoin(ctx context.Context, client *Client, env *protocol.Envelope) error {
	var chatID string
	if err := env.Unmarshal(&chatID); err != nil {
		return err
	}
	if _, err := h.members(ctx, chatID, client.userID); err != nil {
		h.deliver(client, protocol.EventSocketError, &protocol.SocketError{Message: joinFailed})
		return err
	}
	glog.V(2).Infof("[hub]%s: join %s", client.userID, chatID)
	return nil
}

func (h *Hub) handleLeave(client *Client, env *protocol.Envelope) error {
	var chatID string
	if err := env.Unmarshal(&chatID); err != nil {
		return err
	}
	glog.V(2).Infof("[hub]%s: leave %s", client.userID, chatID)
	return nil
}

// handleSend persists the message and delivers it to every connection of
// every member, the sender's own included. The correlation id is echoed to
// all of them.
func (h *Hub) handleSend(ctx context.Context, client *Client, env *protocol.Envelope) error {
	var send protocol.SendMessage
	err := env.Unmarshal(&send)
	if err == nil {
		err = h.send(ctx, client, &send)
	}
	if err != nil {
		h.deliver(client, protocol.EventSocketError, &protocol.SocketError{
			Message:  sendFailed,
			ClientID: send.ClientID,
		})
	}
	return err
}

func (h *Hub) send(ctx context.Context, client *Client, send *protocol.SendMessage) error {
	if send.ChatID == "" {
		return errBadPayload
	}
	memberIDs, err := h.members(ctx, send.ChatID, client.userID)
	if err != nil {
		return err
	}

	stored := &conversation.Message{
		ConversationID: send.ChatID,
		SenderID:       client.userID,
		Text:           send.Text,
	}
	if err := h.store.CreateMessage(ctx, stored); err != nil {
		return err
	}

	createdAt := stored.CreatedAt.UTC().Truncate(time.Millisecond)
	h.deliverToUsers(memberIDs, protocol.EventNewMessage, &protocol.Message{
		ID:     stored.ID,
		ChatID: stored.ConversationID,
		Sender: protocol.Sender{
			ID:   client.userID,
			Name: client.username,
		},
		Text:      stored.Text,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		ClientID:  send.ClientID,
	})
	return nil
}

// handleTyping forwards a typing signal to the other members of the chat,
// naming the sender.
func (h *Hub) handleTyping(ctx context.Context, client *Client, env *protocol.Envelope) error {
	var typing protocol.Typing
	if err := env.Unmarshal(&typing); err != nil {
		return err
	}
	memberIDs, err := h.members(ctx, typing.ChatID, client.userID)
	if err != nil {
		return err
	}

	others := make([]string, 0, len(memberIDs))
	for _, memberID := range memberIDs {
		if memberID != client.userID {
			others = append(others, memberID)
		}
	}
	typing.UserID = client.userID
	h.deliverToUsers(others, protocol.EventTyping, &typing)
	return nil
}
