// Relay Service - turns complete backend replies into a chunked event stream
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/asistia/asistia/pkg/backend"
	"github.com/asistia/asistia/pkg/config"
	"github.com/asistia/asistia/pkg/db"
	"github.com/asistia/asistia/pkg/models"
	"github.com/asistia/asistia/pkg/utils"
)

const (
	// Chunk window over the backend's complete reply. The backend answers in
	// one block; re-chunking with a short delay gives the client a steady
	// stream instead of one large paint.
	chunkMaxLen  = 800
	chunkDelayMS = 50
)

// EventSink receives one stream event at a time. A write error means the
// client is gone; the relay stops emitting but still persists what it has.
type EventSink func(models.StreamEvent) error

// RelayService runs one chat exchange end to end: persist the user message,
// call the generation backend, re-chunk its complete reply into a simulated
// stream, persist the assistant reply and finish the conversation bookkeeping.
//
// Every request ends with exactly one terminal event on the sink: either
// complete or error, never both, never neither.
type RelayService struct {
	cfg    *config.AppConfig
	store  *ChatStoreService
	auth   *AuthService
	logger *slog.Logger

	// chunkDelay is overridable so tests do not sleep.
	chunkDelay time.Duration
}

// NewRelayService creates a new relay service.
func NewRelayService(cfg *config.AppConfig, store *ChatStoreService, auth *AuthService) *RelayService {
	return &RelayService{
		cfg:        cfg,
		store:      store,
		auth:       auth,
		logger:     utils.GetLogger(),
		chunkDelay: chunkDelayMS * time.Millisecond,
	}
}

// Relay processes one chat request for an authenticated user and writes the
// event stream to sink. Failures are delivered in-band as error events; the
// returned error only duplicates them for the caller's log line.
func (s *RelayService) Relay(ctx context.Context, userID string, req *models.ChatRequest, sink EventSink) error {
	disconnected := false
	emit := func(ev models.StreamEvent) {
		if disconnected {
			return
		}
		if err := sink(ev); err != nil {
			disconnected = true
		}
	}
	fail := func(code, message string, err error) error {
		emit(models.ErrorEvent(code, message))
		return err
	}

	if req.Message == "" {
		err := errors.New("empty message")
		return fail(models.CodeInvalidRequest, "message must not be empty", err)
	}

	user, err := s.auth.GetUser(userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return fail(models.CodeUserNotFound, "user account not found", err)
		}
		return fail(models.CodeInternalError, "internal error", err)
	}

	conv, firstExchange, err := s.resolveConversation(user.ID, req)
	if err != nil {
		return fail(models.CodeInternalError, "could not open conversation", err)
	}

	// The user message is on record before the backend is asked, so a crash
	// or upstream failure never loses what the user typed.
	if _, err := s.store.AppendMessage(user.ID, conv.ID, &db.Message{
		Role:    db.RoleUser,
		Content: req.Message,
	}); err != nil {
		return fail(models.CodeInternalError, "could not store message", err)
	}

	facade := backend.NewService(s.cfg, req.Model, req.ActiveBackend)
	session := sessionFromSettings(conv.Settings)

	resp, err := facade.SendMessage(ctx, req.Message,
		req.Settings.TopKOrDefault(), req.Settings.TemperatureOrDefault(), session)
	if err != nil {
		code, message := classifyBackendError(err)
		s.logger.Error("backend call failed",
			"conversationId", conv.ID, "backend", facade.ActiveBackend(), "error", err)
		return fail(code, message, err)
	}

	// Stream the reply. Emission stops on disconnect or context cancel, but
	// whatever arrived from the backend is persisted in full below.
	for i, chunk := range splitChunks(resp.Output, chunkMaxLen) {
		if ctx.Err() != nil {
			disconnected = true
			break
		}
		if i > 0 && s.chunkDelay > 0 {
			select {
			case <-ctx.Done():
				disconnected = true
			case <-time.After(s.chunkDelay):
			}
			if disconnected {
				break
			}
		}
		emit(models.MessageEvent(chunk))
		if disconnected {
			break
		}
	}

	if len(resp.Sources) > 0 {
		emit(models.SourcesEvent(resp.Sources))
	}
	if resp.Usage != nil {
		emit(models.UsageEvent(resp.Usage))
	}

	if resp.Output != "" {
		if _, err := s.store.AppendMessage(user.ID, conv.ID, &db.Message{
			Role:    db.RoleAssistant,
			Content: resp.Output,
			Sources: resp.Sources,
			Usage:   resp.Usage,
		}); err != nil {
			return fail(models.CodeInternalError, "could not store reply", err)
		}
	}

	if firstExchange {
		if err := s.store.RewriteTitleFromMessage(user.ID, conv.ID, req.Message); err != nil {
			// Cosmetic; the exchange itself succeeded.
			s.logger.Warn("title rewrite failed", "conversationId", conv.ID, "error", err)
		}
	}

	emit(models.CompleteEvent(conv.ID))
	return nil
}

// resolveConversation reuses the requested conversation when it exists and
// belongs to the user, and otherwise creates a fresh one. A stale or foreign
// id therefore degrades to a new conversation instead of failing the chat.
func (s *RelayService) resolveConversation(userID string, req *models.ChatRequest) (*db.Conversation, bool, error) {
	id := req.ConversationID
	if id != "" && id != "new" {
		conv, err := s.store.GetConversation(userID, id)
		if err == nil {
			count, err := s.store.CountMessages(conv.ID)
			if err != nil {
				return nil, false, err
			}
			return conv, count == 0, nil
		}
		if !errors.Is(err, ErrConversationNotFound) {
			return nil, false, err
		}
	}

	conv, err := s.store.CreateConversation(userID, "", nil)
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// sessionFromSettings extracts the backend session context from the
// conversation's settings blob.
func sessionFromSettings(settings db.JSONMap) models.SessionContext {
	var session models.SessionContext
	if settings == nil {
		return session
	}
	if id, ok := settings[models.SettingChatbotID].(string); ok {
		session.ChatbotID = id
	}
	return session
}

// classifyBackendError maps a backend failure to its stream error code and a
// user-facing message.
func classifyBackendError(err error) (code, message string) {
	if errors.Is(err, backend.ErrSessionRequired) {
		return models.CodePythonFileRequired, err.Error()
	}
	var svcErr *backend.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code(), "the generation service returned an error, please try again"
	}
	return models.CodeInternalError, "internal error"
}

// splitChunks cuts text into consecutive windows of at most maxLen runes.
// Every window except the last is full-size; the remainder may be shorter.
func splitChunks(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/maxLen+1)
	for start := 0; start < len(runes); start += maxLen {
		end := start + maxLen
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
