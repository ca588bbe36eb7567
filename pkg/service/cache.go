// Conversation cache - optional Redis layer in front of the message history
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/asistia/asistia/pkg/config"
	"github.com/asistia/asistia/pkg/db"
	"github.com/asistia/asistia/pkg/utils"
)

const (
	messageCacheKeyPrefix = "asistia:conv:messages:"
	messageCacheTTL       = 10 * time.Minute
)

// ConversationCache caches per-conversation message history in Redis. It is
// strictly an accelerator: every method degrades to a no-op when Redis is not
// configured or unreachable, and the database remains the source of truth.
type ConversationCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewConversationCache connects to Redis when an address is configured.
// With no address it returns a disabled cache, which is valid to use.
func NewConversationCache(cfg *config.AppConfig) *ConversationCache {
	c := &ConversationCache{logger: utils.GetLogger()}
	addr := cfg.RedisAddr()
	if addr == "" {
		return c
	}
	c.client = redis.NewClient(&redis.Options{Addr: addr})
	return c
}

// Enabled reports whether a Redis client is attached.
func (c *ConversationCache) Enabled() bool {
	return c != nil && c.client != nil
}

// GetMessages returns the cached history for a conversation, if present.
func (c *ConversationCache) GetMessages(ctx context.Context, conversationID string) ([]db.Message, bool) {
	if !c.Enabled() {
		return nil, false
	}
	raw, err := c.client.Get(ctx, messageCacheKeyPrefix+conversationID).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("message cache read failed", "conversationId", conversationID, "error", err)
		}
		return nil, false
	}
	var messages []db.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		c.logger.Warn("message cache entry corrupt, dropping", "conversationId", conversationID, "error", err)
		c.Invalidate(ctx, conversationID)
		return nil, false
	}
	return messages, true
}

// SetMessages stores the history for a conversation.
func (c *ConversationCache) SetMessages(ctx context.Context, conversationID string, messages []db.Message) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, messageCacheKeyPrefix+conversationID, raw, messageCacheTTL).Err(); err != nil {
		c.logger.Warn("message cache write failed", "conversationId", conversationID, "error", err)
	}
}

// Invalidate drops the cached history for a conversation. Called on every
// write to the conversation.
func (c *ConversationCache) Invalidate(ctx context.Context, conversationID string) {
	if !c.Enabled() {
		return
	}
	if err := c.client.Del(ctx, messageCacheKeyPrefix+conversationID).Err(); err != nil {
		c.logger.Warn("message cache invalidation failed", "conversationId", conversationID, "error", err)
	}
}

// Close releases the Redis connection.
func (c *ConversationCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
