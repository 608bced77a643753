package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/chrischoy/MediaWhisperer/model"
)

// ConversationStore persists conversations and their messages. IDs are
// assigned by the store.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*model.Conversation, error)
	// ListConversations returns the user's conversations, newest first.
	// pdfID 0 means all documents.
	ListConversations(ctx context.Context, userID, pdfID int64) ([]*model.Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error
	AddMessage(ctx context.Context, msg model.Message) (*model.Message, error)
	Messages(ctx context.Context, conversationID int64) ([]*model.Message, error)
	CountMessages(ctx context.Context, conversationID int64) (int, error)
}

// MemoryConversationStore keeps conversations in process memory.
type MemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[int64]*model.Conversation
	messages      map[int64][]*model.Message
	nextConvID    int64
	nextMsgID     int64
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		conversations: make(map[int64]*model.Conversation),
		messages:      make(map[int64][]*model.Message),
	}
}

func (s *MemoryConversationStore) CreateConversation(_ context.Context, conv model.Conversation) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextConvID++
	now := time.Now().UTC()
	conv.ID = s.nextConvID
	conv.CreatedAt = now
	conv.UpdatedAt = now
	s.conversations[conv.ID] = &conv

	copied := conv
	return &copied, nil
}

func (s *MemoryConversationStore) GetConversation(_ context.Context, id int64) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	copied := *conv
	return &copied, nil
}

func (s *MemoryConversationStore) ListConversations(_ context.Context, userID, pdfID int64) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Conversation, 0)
	for _, id := range slices.Backward(slices.Sorted(maps.Keys(s.conversations))) {
		conv := s.conversations[id]
		if conv.UserID != userID || (pdfID != 0 && conv.PDFID != pdfID) {
			continue
		}
		copied := *conv
		result = append(result, &copied)
	}
	return result, nil
}

func (s *MemoryConversationStore) DeleteConversation(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryConversationStore) AddMessage(_ context.Context, msg model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %d: %w", msg.ConversationID, ErrNotFound)
	}

	s.nextMsgID++
	msg.ID = s.nextMsgID
	msg.CreatedAt = time.Now().UTC()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &msg)
	conv.UpdatedAt = msg.CreatedAt

	copied := msg
	return &copied, nil
}

func (s *MemoryConversationStore) Messages(_ context.Context, conversationID int64) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
	}
	stored := s.messages[conversationID]
	result := make([]*model.Message, 0, len(stored))
	for _, m := range stored {
		copied := *m
		result = append(result, &copied)
	}
	return result, nil
}

func (s *MemoryConversationStore) CountMessages(_ context.Context, conversationID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[conversationID]), nil
}
