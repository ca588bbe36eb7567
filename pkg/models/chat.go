// API types for the chat relay and the backend facade
package models

import (
	"time"

	"github.com/asistia/asistia/pkg/db"
)

// ========== Type aliases for database types ==========
// These allow other packages to use models.Message instead of db.Message

type User = db.User
type Conversation = db.Conversation
type Message = db.Message
type Source = db.Source
type SourceList = db.SourceList
type TokenUsage = db.TokenUsage
type JSONMap = db.JSONMap

// Message roles
const (
	RoleUser      = db.RoleUser
	RoleAssistant = db.RoleAssistant
	RoleSystem    = db.RoleSystem
)

// ========== Backend selection ==========

// Backend identifies a generation backend.
type Backend string

const (
	BackendN8n    Backend = "n8n"
	BackendPython Backend = "python"
)

// Valid reports whether b names a known backend.
func (b Backend) Valid() bool {
	return b == BackendN8n || b == BackendPython
}

// Models supported by the n8n workflows.
const (
	ModelGemini = "gemini"
	ModelOpenAI = "openai"
)

// NormalizeModel maps unknown model names to the default.
func NormalizeModel(model string) string {
	if model == ModelOpenAI {
		return ModelOpenAI
	}
	return ModelGemini
}

// ========== Chat request ==========

// ChatSettings carries the retrieval parameters of one chat request.
type ChatSettings struct {
	TopK        *int     `json:"topK,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

const (
	DefaultTopK        = 5
	DefaultTemperature = 0.7
)

// TopKOrDefault returns the configured topK or the default of 5.
func (s *ChatSettings) TopKOrDefault() int {
	if s != nil && s.TopK != nil && *s.TopK > 0 {
		return *s.TopK
	}
	return DefaultTopK
}

// TemperatureOrDefault returns the configured temperature or the default of 0.7.
func (s *ChatSettings) TemperatureOrDefault() float64 {
	if s != nil && s.Temperature != nil {
		return *s.Temperature
	}
	return DefaultTemperature
}

// ChatRequest is the inbound chat payload. POST carries it as the JSON body;
// the GET variant carries the same JSON in a "data" query parameter because
// EventSource cannot issue POST requests.
type ChatRequest struct {
	Message        string        `json:"message"`
	ConversationID string        `json:"conversationId,omitempty"` // empty or "new" creates one
	Model          string        `json:"model,omitempty"`          // gemini (default) or openai
	ActiveBackend  Backend       `json:"activeBackend,omitempty"`  // n8n (default) or python
	Settings       *ChatSettings `json:"settings,omitempty"`
}

// ========== Normalized backend response ==========

// BackendResponse is the common shape every adapter produces regardless of
// upstream wire format.
type BackendResponse struct {
	Output  string         `json:"output"`
	Sources db.SourceList  `json:"sources,omitempty"`
	Usage   *db.TokenUsage `json:"usage,omitempty"`
}

// FileUploadResponse is the normalized upload reply of the facade.
type FileUploadResponse struct {
	Success  bool   `json:"success"`
	FileURL  string `json:"fileUrl,omitempty"`
	FileID   string `json:"fileId,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	FileType string `json:"fileType,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ========== Per-conversation backend session data ==========

// Conversation settings keys. The blob is flat: the python chatbot id sits at
// the top level next to the per-backend detail maps.
const (
	SettingBackend    = "backend"
	SettingChatbotID  = "chatbotId"
	SettingUploadedAt = "uploadedAt"
	SettingPythonData = "pythonSessionData"
	SettingN8nData    = "n8nSessionData"
)

// PythonSessionData resumes context with the stateful python backend.
type PythonSessionData struct {
	ChatbotID  string `json:"chatbotId"`
	FileName   string `json:"fileName"`
	UploadedAt string `json:"uploadedAt"`
	FileSize   int64  `json:"fileSize"`
	FileType   string `json:"fileType"`
}

// N8nSessionData records the model an upload was ingested with.
type N8nSessionData struct {
	Model      string `json:"model"`
	UploadedAt string `json:"uploadedAt"`
}

// SessionContext is what the facade needs from the conversation settings blob.
type SessionContext struct {
	ChatbotID string
}

// ========== SSE wire contract ==========

// Stream event types.
const (
	EventMessage  = "message"
	EventSources  = "sources"
	EventUsage    = "usage"
	EventComplete = "complete"
	EventError    = "error"
)

// StreamEvent is one SSE frame: a tagged union over message/sources/usage/
// complete/error, serialized as {"type": ..., "data": {...}}.
type StreamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MessageEventData carries one chunk of assistant output.
type MessageEventData struct {
	Content string `json:"content"`
}

// SourcesEventData carries the full citation list, emitted at most once.
type SourcesEventData struct {
	Sources db.SourceList `json:"sources"`
}

// UsageEventData carries token accounting, emitted at most once.
type UsageEventData struct {
	Usage *db.TokenUsage `json:"usage"`
}

// CompleteEventData is the terminal success event.
type CompleteEventData struct {
	OK             bool   `json:"ok"`
	ConversationID string `json:"conversationId"`
}

// ErrorEventData is the terminal failure event. Code is machine-readable so
// the UI can react (e.g. open the upload dialog on PYTHON_FILE_REQUIRED).
type ErrorEventData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Stream error codes.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeN8nServiceError    = "N8N_SERVICE_ERROR"
	CodePythonServiceError = "PYTHON_SERVICE_ERROR"
	CodePythonFileRequired = "PYTHON_FILE_REQUIRED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// MessageEvent builds a message StreamEvent for one chunk.
func MessageEvent(content string) StreamEvent {
	return StreamEvent{Type: EventMessage, Data: MessageEventData{Content: content}}
}

// SourcesEvent builds the sources StreamEvent.
func SourcesEvent(sources db.SourceList) StreamEvent {
	return StreamEvent{Type: EventSources, Data: SourcesEventData{Sources: sources}}
}

// UsageEvent builds the usage StreamEvent.
func UsageEvent(usage *db.TokenUsage) StreamEvent {
	return StreamEvent{Type: EventUsage, Data: UsageEventData{Usage: usage}}
}

// CompleteEvent builds the terminal complete StreamEvent.
func CompleteEvent(conversationID string) StreamEvent {
	return StreamEvent{Type: EventComplete, Data: CompleteEventData{OK: true, ConversationID: conversationID}}
}

// ErrorEvent builds the terminal error StreamEvent.
func ErrorEvent(code, message string) StreamEvent {
	return StreamEvent{Type: EventError, Data: ErrorEventData{Message: message, Code: code}}
}

// ========== Conversation API types ==========

// CreateConversationRequest creates a conversation explicitly from the UI.
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// UpdateConversationTitleRequest renames a conversation.
type UpdateConversationTitleRequest struct {
	Title string `json:"title" binding:"required"`
}

// AppendMessageRequest appends a message to a conversation via the CRUD API.
type AppendMessageRequest struct {
	Content string         `json:"content" binding:"required"`
	Role    string         `json:"role" binding:"required"`
	Sources db.SourceList  `json:"sources,omitempty"`
	Usage   *db.TokenUsage `json:"usage,omitempty"`
}

// ConversationSummary is the list view of a conversation.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
