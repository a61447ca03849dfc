// Package protocol defines the event envelope and payloads exchanged with the
// chat server over the persistent connection.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound events.
const (
	EventConnect     = "connect"
	EventDisconnect  = "disconnect"
	EventOnlineUsers = "online-users"
	EventUserOnline  = "user-online"
	EventUserOffline = "user-offline"
	EventSocketError = "socket-error"
	EventNewMessage  = "new-message"
	EventTyping      = "typing"
)

// Outbound events. EventTyping is used in both directions.
const (
	EventJoinChat    = "join-chat"
	EventLeaveChat   = "leave-chat"
	EventSendMessage = "send-message"
)

var ErrMissingEvent = errors.New("envelope has no event name")

// Envelope is a single frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps data in an envelope for event.
func Encode(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(&env)
}

// Decode parses a frame read from the connection.
func Decode(b []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return nil, ErrMissingEvent
	}
	return &env, nil
}

// Unmarshal decodes the envelope payload into v.
func (e *Envelope) Unmarshal(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}

type OnlineUsers struct {
	UserIDs []string `json:"userIds"`
}

type UserPresence struct {
	UserID string `json:"userId"`
}

// SocketError is a protocol level failure reported by the server. ClientID
// names the send it belongs to, when the server knows it.
type SocketError struct {
	Message  string `json:"message"`
	ClientID string `json:"clientId,omitempty"`
}

// Typing is received with UserID set and sent without it.
type Typing struct {
	UserID   string `json:"userId,omitempty"`
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type SendMessage struct {
	ChatID   string `json:"chatId"`
	Text     string `json:"text"`
	ClientID string `json:"clientId,omitempty"`
}
