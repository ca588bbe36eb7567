// Chat Store Service - owner-scoped conversation and message persistence
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/asistia/asistia/pkg/db"
	"github.com/asistia/asistia/pkg/event"
	"github.com/asistia/asistia/pkg/models"
	"github.com/asistia/asistia/pkg/utils"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidRole          = errors.New("invalid message role")
	ErrEmptyContent         = errors.New("message content is empty")
)

// titleMaxLen caps the automatic title taken from the first user message.
const titleMaxLen = 30

// ChatStoreService persists conversations and messages. Every operation is
// scoped to the owning user: a conversation id belonging to someone else
// behaves exactly like a missing one. Messages are immutable once stored.
type ChatStoreService struct {
	db     *gorm.DB
	cache  *ConversationCache
	logger *slog.Logger
}

// NewChatStoreService creates a new chat store.
func NewChatStoreService(gdb *gorm.DB, cache *ConversationCache) *ChatStoreService {
	return &ChatStoreService{
		db:     gdb,
		cache:  cache,
		logger: utils.GetLogger(),
	}
}

// ========== Conversation Management ==========

// CreateConversation creates a conversation for the user. An empty title gets
// a date and time based one.
func (s *ChatStoreService) CreateConversation(userID, title string, settings db.JSONMap) (*db.Conversation, error) {
	if title == "" {
		title = autoTitle(time.Now())
	}
	if settings == nil {
		settings = db.JSONMap{}
	}

	conv := &db.Conversation{
		ID:       uuid.New().String(),
		UserID:   userID,
		Title:    title,
		Settings: settings,
	}
	if err := s.db.Create(conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	event.Emit(event.ConversationCreatedEvent{ConversationID: conv.ID, UserID: userID})
	return conv, nil
}

// GetConversation loads a conversation owned by the user.
func (s *ChatStoreService) GetConversation(userID, id string) (*db.Conversation, error) {
	var conv db.Conversation
	if err := s.db.First(&conv, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns the user's conversations, most recently active
// first.
func (s *ChatStoreService) ListConversations(userID string) ([]models.ConversationSummary, error) {
	var conversations []db.Conversation
	if err := s.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&conversations).Error; err != nil {
		return nil, err
	}

	summaries := make([]models.ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		summaries = append(summaries, models.ConversationSummary{
			ID:        conv.ID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		})
	}
	return summaries, nil
}

// UpdateTitle sets an explicit conversation title.
func (s *ChatStoreService) UpdateTitle(userID, id, title string) (*db.Conversation, error) {
	conv, err := s.GetConversation(userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.Model(conv).Updates(map[string]any{
		"title":      title,
		"updated_at": time.Now(),
	}).Error; err != nil {
		return nil, err
	}

	event.Emit(event.ConversationUpdatedEvent{ConversationID: id, UserID: userID})
	return s.GetConversation(userID, id)
}

// RewriteTitleFromMessage derives the title from the opening user message:
// its prefix capped at 30 characters, with "..." appended when truncated.
func (s *ChatStoreService) RewriteTitleFromMessage(userID, id, firstMessage string) error {
	_, err := s.UpdateTitle(userID, id, deriveTitle(firstMessage))
	return err
}

// UpdateSettings merges the given keys into the conversation's settings blob.
// Existing keys not named are kept.
func (s *ChatStoreService) UpdateSettings(userID, id string, updates db.JSONMap) (*db.Conversation, error) {
	conv, err := s.GetConversation(userID, id)
	if err != nil {
		return nil, err
	}

	merged := conv.Settings
	if merged == nil {
		merged = db.JSONMap{}
	}
	for k, v := range updates {
		merged[k] = v
	}

	if err := s.db.Model(conv).Updates(map[string]any{
		"settings":   merged,
		"updated_at": time.Now(),
	}).Error; err != nil {
		return nil, err
	}

	event.Emit(event.ConversationUpdatedEvent{ConversationID: id, UserID: userID})
	return s.GetConversation(userID, id)
}

// DeleteConversation deletes a conversation and its messages atomically.
func (s *ChatStoreService) DeleteConversation(userID, id string) error {
	if _, err := s.GetConversation(userID, id); err != nil {
		return err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&db.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&db.Conversation{}, "id = ?", id).Error
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(context.Background(), id)
	event.Emit(event.ConversationDeletedEvent{ConversationID: id, UserID: userID})
	return nil
}

// ========== Message Management ==========

// GetMessages returns the full history of a conversation in insertion order.
// Serves from the cache when it has the conversation.
func (s *ChatStoreService) GetMessages(ctx context.Context, userID, conversationID string) ([]db.Message, error) {
	if _, err := s.GetConversation(userID, conversationID); err != nil {
		return nil, err
	}

	if cached, ok := s.cache.GetMessages(ctx, conversationID); ok {
		return cached, nil
	}

	var messages []db.Message
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}

	s.cache.SetMessages(ctx, conversationID, messages)
	return messages, nil
}

// CountMessages returns how many messages the conversation holds.
func (s *ChatStoreService) CountMessages(conversationID string) (int64, error) {
	var count int64
	err := s.db.Model(&db.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	return count, err
}

// AppendMessage stores one message and bumps the conversation's updated_at.
// The stored row is never mutated afterwards.
func (s *ChatStoreService) AppendMessage(userID, conversationID string, msg *db.Message) (*db.Message, error) {
	if !db.ValidRole(msg.Role) {
		return nil, ErrInvalidRole
	}
	if msg.Content == "" {
		return nil, ErrEmptyContent
	}
	if _, err := s.GetConversation(userID, conversationID); err != nil {
		return nil, err
	}

	msg.ID = uuid.New().String()
	msg.ConversationID = conversationID

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&db.Conversation{}).
			Where("id = ?", conversationID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	s.cache.Invalidate(context.Background(), conversationID)
	event.Emit(event.MessageCreatedEvent{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		UserID:         userID,
		Role:           msg.Role,
	})
	return msg, nil
}

// autoTitle names a conversation created without an explicit title.
func autoTitle(t time.Time) string {
	return "Chat " + t.Format("2006-01-02 15:04")
}

// deriveTitle builds a conversation title from the opening message.
func deriveTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= titleMaxLen {
		return message
	}
	return string(runes[:titleMaxLen]) + "..."
}
