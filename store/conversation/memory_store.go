package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps conversations in process memory. It backs the development
// relay and tests.
type MemoryStore struct {
	mutex         sync.Mutex
	conversations map[string]*Conversation
	members       map[string][]string
	messages      map[string][]*Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*Conversation{},
		members:       map[string][]string{},
		messages:      map[string][]*Message{},
	}
}

func (s *MemoryStore) GetP2PBetween(ctx context.Context, userAID, userBID string) (*Conversation, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for id, convo := range s.conversations {
		if convo.Type != TypeP2P {
			continue
		}
		memberIDs := s.members[id]
		if IsMember(memberIDs, userAID) && IsMember(memberIDs, userBID) {
			c := *convo
			return &c, nil
		}
	}
	return nil, ErrConversationNotFound
}

func (s *MemoryStore) GetSelfP2P(ctx context.Context, userID string) (*Conversation, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for id, convo := range s.conversations {
		memberIDs := s.members[id]
		if convo.Type == TypeP2P && len(memberIDs) == 1 && memberIDs[0] == userID {
			c := *convo
			return &c, nil
		}
	}
	return nil, ErrConversationNotFound
}

func (s *MemoryStore) CreateConversation(ctx context.Context, convo *Conversation, memberIDs []string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if convo.CreatedAt.IsZero() {
		convo.CreatedAt = time.Now()
	}
	convo.ID = uuid.NewString()

	c := *convo
	s.conversations[c.ID] = &c
	s.members[c.ID] = append([]string{}, memberIDs...)
	return nil
}

func (s *MemoryStore) Members(ctx context.Context, conversationID string) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrConversationNotFound
	}
	return append([]string{}, s.members[conversationID]...), nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.Text == "" {
		return ErrEmptyMessage
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return ErrConversationNotFound
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now()
	m := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &m)
	return nil
}

// Messages returns the messages of a conversation in creation order.
func (s *MemoryStore) Messages(conversationID string) []Message {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	messages := make([]Message, 0, len(s.messages[conversationID]))
	for _, m := range s.messages[conversationID] {
		messages = append(messages, *m)
	}
	return messages
}
