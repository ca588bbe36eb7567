package event

// Event names. Dot-separated resource.action, matching what the web client
// subscribes to over the notification socket.
const (
	ConversationCreated = "conversation.created"
	ConversationUpdated = "conversation.updated"
	ConversationDeleted = "conversation.deleted"
	MessageCreated      = "message.created"
	UploadCompleted     = "upload.completed"
)

// ConversationCreatedEvent is emitted when a conversation is created, either
// explicitly or implicitly by the first chat message.
type ConversationCreatedEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

func (e ConversationCreatedEvent) EventName() string { return ConversationCreated }

// ConversationUpdatedEvent is emitted when a conversation's title or settings
// change, including the automatic title rewrite after the first exchange.
type ConversationUpdatedEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

func (e ConversationUpdatedEvent) EventName() string { return ConversationUpdated }

// ConversationDeletedEvent is emitted after a conversation and its messages
// are deleted.
type ConversationDeletedEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

func (e ConversationDeletedEvent) EventName() string { return ConversationDeleted }

// MessageCreatedEvent is emitted once per persisted message. For an assistant
// reply it fires after the full reply is stored, not per stream chunk.
type MessageCreatedEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
	Role           string `json:"role"`
}

func (e MessageCreatedEvent) EventName() string { return MessageCreated }

// UploadCompletedEvent is emitted when a document upload finishes, whatever
// the outcome. Success=false lets other open tabs show the failure.
type UploadCompletedEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	FileName       string `json:"fileName"`
	Success        bool   `json:"success"`
}

func (e UploadCompletedEvent) EventName() string { return UploadCompleted }

// scoped is implemented by events that belong to one user. The notification
// socket uses it to keep one user's activity invisible to another.
type scoped interface {
	scopeUserID() string
}

func (e ConversationCreatedEvent) scopeUserID() string { return e.UserID }
func (e ConversationUpdatedEvent) scopeUserID() string { return e.UserID }
func (e ConversationDeletedEvent) scopeUserID() string { return e.UserID }
func (e MessageCreatedEvent) scopeUserID() string      { return e.UserID }
func (e UploadCompletedEvent) scopeUserID() string     { return e.UserID }
