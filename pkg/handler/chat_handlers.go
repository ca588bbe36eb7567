// Chat HTTP handlers - the SSE chat stream and conversation management
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/asistia/asistia/pkg/db"
	"github.com/asistia/asistia/pkg/models"
	"github.com/asistia/asistia/pkg/service"
)

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	relay       *service.RelayService
	store       *service.ChatStoreService
	authService *service.AuthService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(relay *service.RelayService, store *service.ChatStoreService, authService *service.AuthService) *ChatHandler {
	return &ChatHandler{
		relay:       relay,
		store:       store,
		authService: authService,
	}
}

// RegisterRoutes registers the chat stream. It is not behind the auth
// middleware: the reply is always an event stream, so auth failures are
// delivered in-band where an EventSource client can read them.
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/chat", h.Chat)
	r.GET("/chat", h.Chat)
}

// RegisterProtectedRoutes registers the conversation CRUD behind auth
func (h *ChatHandler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	conversations := r.Group("/conversations")
	{
		conversations.GET("", h.ListConversations)
		conversations.POST("", h.CreateConversation)
		conversations.GET("/:id", h.GetConversation)
		conversations.DELETE("/:id", h.DeleteConversation)
		conversations.PUT("/:id/title", h.UpdateTitle)
		conversations.GET("/:id/messages", h.GetMessages)
		conversations.POST("/:id/messages", h.AppendMessage)
	}
}

// Chat runs one chat exchange as an SSE stream.
// POST /api/chat with a JSON body, or GET /api/chat?data=<json> for
// EventSource clients. The body wins when both are present.
func (h *ChatHandler) Chat(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sseWriter := NewSSEWriter(c.Writer)

	req, err := decodeChatRequest(c)
	if err != nil {
		sseWriter.WriteEvent(models.ErrorEvent(models.CodeInvalidRequest, "malformed chat request"))
		return
	}

	userID, ok := resolveUserID(c, h.authService)
	if !ok {
		sseWriter.WriteEvent(models.ErrorEvent(models.CodeUnauthorized, "authentication required"))
		return
	}

	_ = h.relay.Relay(c.Request.Context(), userID, req, sseWriter.WriteEvent)
}

// decodeChatRequest reads the chat request from the POST body or, for GET
// requests, from the "data" query parameter.
func decodeChatRequest(c *gin.Context) (*models.ChatRequest, error) {
	var req models.ChatRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	data := c.Query("data")
	if data == "" {
		return &req, nil
	}
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ========== Conversation Management ==========

// ListConversations lists the user's conversations, most recent first
// GET /api/conversations
func (h *ChatHandler) ListConversations(c *gin.Context) {
	summaries, err := h.store.ListConversations(c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// CreateConversation creates a conversation explicitly
// POST /api/conversations
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.store.CreateConversation(c.GetString("userID"), req.Title, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// GetConversation returns one conversation
// GET /api/conversations/:id
func (h *ChatHandler) GetConversation(c *gin.Context) {
	conv, err := h.store.GetConversation(c.GetString("userID"), c.Param("id"))
	if err != nil {
		h.convError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// DeleteConversation deletes a conversation and its messages
// DELETE /api/conversations/:id
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	if err := h.store.DeleteConversation(c.GetString("userID"), c.Param("id")); err != nil {
		h.convError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// UpdateTitle renames a conversation
// PUT /api/conversations/:id/title
func (h *ChatHandler) UpdateTitle(c *gin.Context) {
	var req models.UpdateConversationTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	conv, err := h.store.UpdateTitle(c.GetString("userID"), c.Param("id"), req.Title)
	if err != nil {
		h.convError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// GetMessages returns the full message history of a conversation
// GET /api/conversations/:id/messages
func (h *ChatHandler) GetMessages(c *gin.Context) {
	messages, err := h.store.GetMessages(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if err != nil {
		h.convError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// AppendMessage stores a message without going through the chat stream. The
// client uses it to import history; the relay persists its own messages.
// POST /api/conversations/:id/messages
func (h *ChatHandler) AppendMessage(c *gin.Context) {
	var req models.AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.store.AppendMessage(c.GetString("userID"), c.Param("id"), &db.Message{
		Role:    req.Role,
		Content: req.Content,
		Sources: req.Sources,
		Usage:   req.Usage,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidRole) || errors.Is(err, service.ErrEmptyContent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.convError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) convError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrConversationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// ========== SSE plumbing ==========

// SSEWriter wraps gin.ResponseWriter for proper SSE streaming
type SSEWriter struct {
	writer  gin.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w gin.ResponseWriter) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{
		writer:  w,
		flusher: flusher,
	}
}

// WriteEvent serializes one stream event as an SSE data frame and flushes it
func (w *SSEWriter) WriteEvent(ev models.StreamEvent) error {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
