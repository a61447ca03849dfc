package conversation

import (
	"context"
	"errors"
	"time"
)

type Type string

const (
	TypeP2P   Type = "p2p"
	TypeGroup Type = "group"
)

// Conversation represents a chat thread between users.
type Conversation struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a persisted chat message. Its id is assigned by the store.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotMember            = errors.New("user is not a member of the conversation")
	ErrEmptyMessage         = errors.New("message text is empty")
)

// Store defines conversation persistence operations.
type Store interface {
	GetP2PBetween(ctx context.Context, userAID, userBID string) (*Conversation, error)
	GetSelfP2P(ctx context.Context, userID string) (*Conversation, error)
	CreateConversation(ctx context.Context, convo *Conversation, memberIDs []string) error
	// Members returns the user ids of the conversation's members.
	Members(ctx context.Context, conversationID string) ([]string, error)
	// CreateMessage persists msg and fills in its id and creation time.
	CreateMessage(ctx context.Context, msg *Message) error
}

// IsMember reports whether userID is one of memberIDs.
func IsMember(memberIDs []string, userID string) bool {
	for _, id := range memberIDs {
		if id == userID {
			return true
		}
	}
	return false
}
