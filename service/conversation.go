package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/chrischoy/MediaWhisperer/model"
	"github.com/chrischoy/MediaWhisperer/pkg/logger"
)

const greeting = "I'm an AI assistant that can help you understand the content of this PDF document. What would you like to know about it?"

const defaultListLimit = 50

// ConversationSummary is a conversation with the number of messages in it.
type ConversationSummary struct {
	model.Conversation
	MessageCount int `json:"message_count"`
}

// ConversationDetail is a conversation with all of its messages.
type ConversationDetail struct {
	model.Conversation
	Messages []*model.Message `json:"messages"`
}

// DocumentSource gives conversations access to the documents they are about.
type DocumentSource interface {
	Get(userID, id int64) (*model.Document, error)
	Markdown(userID, id int64) (string, error)
}

// ConversationService runs Q&A threads over a user's documents.
type ConversationService struct {
	store ConversationStore
	docs  DocumentSource
}

func NewConversationService(store ConversationStore, docs DocumentSource) *ConversationService {
	return &ConversationService{store: store, docs: docs}
}

// Create starts a conversation about a document the user owns and seeds it
// with the assistant's greeting.
func (s *ConversationService) Create(ctx context.Context, userID, pdfID int64, title string) (*model.Conversation, error) {
	doc, err := s.docs.Get(userID, pdfID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		title = "Conversation about " + doc.Title
	}

	conv, err := s.store.CreateConversation(ctx, model.Conversation{
		PDFID:  pdfID,
		UserID: userID,
		Title:  title,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.store.AddMessage(ctx, model.Message{
		ConversationID: conv.ID,
		Content:        greeting,
		Role:           model.RoleSystem,
	}); err != nil {
		return nil, err
	}

	logger.Info(ctx, "conversation created", "conversation_id", conv.ID, "pdf_id", pdfID)
	return conv, nil
}

// List returns the user's conversations with message counts, optionally
// restricted to one document.
func (s *ConversationService) List(ctx context.Context, userID, pdfID int64, skip, limit int) ([]ConversationSummary, error) {
	convs, err := s.store.ListConversations(ctx, userID, pdfID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultListLimit
	}
	skip = max(skip, 0)
	if skip > len(convs) {
		skip = len(convs)
	}
	convs = convs[skip:min(skip+limit, len(convs))]

	result := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		n, err := s.store.CountMessages(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, ConversationSummary{Conversation: *conv, MessageCount: n})
	}
	return result, nil
}

// Get returns a conversation the user owns with its messages.
func (s *ConversationService) Get(ctx context.Context, userID, id int64) (*ConversationDetail, error) {
	conv, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.Messages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ConversationDetail{Conversation: *conv, Messages: messages}, nil
}

// AddMessage stores the user's message, generates and stores the
// assistant's answer, and returns the user's message.
func (s *ConversationService) AddMessage(ctx context.Context, userID, id int64, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content is required", ErrInvalidInput)
	}
	conv, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	markdown, err := s.docs.Markdown(userID, conv.PDFID)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.AddMessage(ctx, model.Message{
		ConversationID: id,
		Content:        content,
		Role:           model.RoleUser,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.store.AddMessage(ctx, model.Message{
		ConversationID: id,
		Content:        Answer(markdown, content),
		Role:           model.RoleAssistant,
	}); err != nil {
		return nil, err
	}
	return msg, nil
}

// Delete removes a conversation the user owns.
func (s *ConversationService) Delete(ctx context.Context, userID, id int64) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, id)
}

func (s *ConversationService) owned(ctx context.Context, userID, id int64) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, fmt.Errorf("conversation %d: %w", id, ErrForbidden)
	}
	return conv, nil
}
