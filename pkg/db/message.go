// Database models for chat messages
package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Message represents one completed chat turn. Messages are immutable once
// persisted; assistant content is accumulated in full before the row is
// written. Ordering within a conversation is by created_at ascending.
type Message struct {
	ID             string `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string `json:"conversation_id" gorm:"index;size:36;not null"`

	Role    string `json:"role" gorm:"size:20;not null"` // user, assistant, system
	Content string `json:"content" gorm:"type:text;not null"`

	Sources SourceList  `json:"sources,omitempty" gorm:"type:text"` // JSON
	Usage   *TokenUsage `json:"usage,omitempty" gorm:"type:text"`   // JSON

	CreatedAt time.Time `json:"created_at"`
}

func (*Message) TableName() string {
	return "messages"
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ValidRole reports whether role is one of the accepted message roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant || role == RoleSystem
}

// Source is one retrieval citation attached to an assistant message. Page is
// set only by the python backend, which cites document pages.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Page    string `json:"page,omitempty"`
}

// SourceList is a slice of Source stored as JSON.
type SourceList []Source

// Value implements driver.Valuer for SourceList
func (s SourceList) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for SourceList
func (s *SourceList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
	return json.Unmarshal(bytes, s)
}

// TokenUsage records upstream token accounting for one exchange.
type TokenUsage struct {
	TokensInput  int `json:"tokensInput"`
	TokensOutput int `json:"tokensOutput"`
}

// Value implements driver.Valuer for database storage
func (t *TokenUsage) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	if t.TokensInput == 0 && t.TokensOutput == 0 {
		return nil, nil
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner for database retrieval
func (t *TokenUsage) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
	return json.Unmarshal(bytes, t)
}
