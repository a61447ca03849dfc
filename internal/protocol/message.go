package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ProvisionalPrefix marks ids generated locally for messages the server has
// not confirmed yet.
const ProvisionalPrefix = "temp-"

// NewProvisionalID returns a provisional message id. Ids are unique per call
// and sort in creation order.
func NewProvisionalID() string {
	return ProvisionalPrefix + ulid.Make().String()
}

func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// Sender is the author of a message. The server sends either the populated
// user object or only its id.
type Sender struct {
	ID     string `json:"_id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

func (s *Sender) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*s = Sender{ID: id}
		return nil
	}
	type plain Sender
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = Sender(p)
	return nil
}

// Message is a chat message. ID is durable once confirmed by the server and
// provisional before that.
type Message struct {
	ID        string    `json:"_id"`
	ChatID    string    `json:"chat"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// ClientID echoes the correlation id of the send that produced the message.
	ClientID string `json:"clientId,omitempty"`
}

func (m *Message) Provisional() bool {
	return IsProvisional(m.ID)
}

type LastMessage struct {
	ID        string    `json:"_id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// Chat is the conversation list summary. Participant is the other party of a
// two-party chat and nil for group chats.
type Chat struct {
	ID            string       `json:"_id"`
	Participant   *Sender      `json:"participant,omitempty"`
	LastMessage   *LastMessage `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time   `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}
