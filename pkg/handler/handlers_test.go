package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/asistia/asistia/pkg/config"
	"github.com/asistia/asistia/pkg/db"
	"github.com/asistia/asistia/pkg/models"
	"github.com/asistia/asistia/pkg/service"
)

// fixture assembles the API surface over an in-memory database and a fake
// upstream serving both backend shapes.
type fixture struct {
	engine *gin.Engine
	store  *service.ChatStoreService
	token  string
	userID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/build_chatbot":
			w.Write([]byte(`{"chatbot_id":"bot-up"}`))
		case strings.HasPrefix(r.URL.Path, "/ask_chatbot/"):
			w.Write([]byte(`{"answer":"Del documento: sí. The information is in pages: 2"}`))
		default:
			w.Write([]byte(`{"output":"¡Hola! ¿En qué puedo ayudarte hoy?"}`))
		}
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.AppConfig{}
	cfg.Backends.N8n.Gemini.Test.Webhook = &upstream.URL
	cfg.Backends.N8n.Gemini.Test.FileUpload = &upstream.URL
	cfg.Backends.Python.BaseURL = &upstream.URL

	authService := service.NewAuthService(gdb, cfg)
	store := service.NewChatStoreService(gdb, service.NewConversationCache(cfg))
	relay := service.NewRelayService(cfg, store, authService)

	authHandler := NewAuthHandler(authService, 3600)
	chatHandler := NewChatHandler(relay, store, authService)
	uploadHandler := NewUploadHandler(cfg, store)

	engine := gin.New()
	api := engine.Group("/api")
	authHandler.RegisterRoutes(api)
	chatHandler.RegisterRoutes(api)
	protected := api.Group("")
	protected.Use(AuthRequired(authService))
	authHandler.RegisterProtectedRoutes(protected)
	chatHandler.RegisterProtectedRoutes(protected)
	uploadHandler.RegisterRoutes(protected)

	user, err := authService.Register(&models.RegisterRequest{
		Email:    "tester@example.com",
		Password: "secret-password",
		Name:     "Tester",
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	login, err := authService.Login(&models.LoginRequest{Email: "tester@example.com", Password: "secret-password"})
	if err != nil {
		t.Fatalf("seed login: %v", err)
	}

	return &fixture{engine: engine, store: store, token: login.Token, userID: user.ID}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

// decodeSSE parses "data: {...}" frames into typed events.
type sseEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func decodeSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad SSE frame %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func errorCode(t *testing.T, ev sseEvent) string {
	t.Helper()
	var data models.ErrorEventData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("bad error data: %v", err)
	}
	return data.Code
}

// ========== Auth ==========

func TestRegisterEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/auth/register", "", models.RegisterRequest{
		Email: "nueva@example.com", Password: "secret-password", Name: "Nueva",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "secret-password") {
		t.Error("response leaks the password")
	}

	// Same email again is rejected as unprocessable.
	w = f.do(t, http.MethodPost, "/api/auth/register", "", models.RegisterRequest{
		Email: "nueva@example.com", Password: "secret-password",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("duplicate register status = %d, want 422", w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/auth/register", "", models.RegisterRequest{
		Email: "sin-arroba", Password: "secret-password",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad email status = %d, want 400", w.Code)
	}
}

func TestLoginEndpointSetsCookie(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{
		Email: "tester@example.com", Password: "secret-password",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body.String())
	}

	var resp models.LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("login response = %s", w.Body.String())
	}

	cookie := w.Header().Get("Set-Cookie")
	if !strings.Contains(cookie, TokenCookieName+"=") {
		t.Errorf("Set-Cookie = %q, want session cookie", cookie)
	}

	w = f.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{
		Email: "tester@example.com", Password: "wrong-password",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", w.Code)
	}
}

func TestMeEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/auth/me", f.token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d", w.Code)
	}
	var user db.User
	if err := json.Unmarshal(w.Body.Bytes(), &user); err != nil || user.ID != f.userID {
		t.Errorf("me response = %s", w.Body.String())
	}

	if w := f.do(t, http.MethodGet, "/api/auth/me", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated me status = %d, want 401", w.Code)
	}
}

// ========== Chat stream ==========

func TestChatStreamHappyPath(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/chat", f.token, models.ChatRequest{Message: "Hola"})
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if ab := w.Header().Get("X-Accel-Buffering"); ab != "no" {
		t.Errorf("X-Accel-Buffering = %q", ab)
	}

	events := decodeSSE(t, w.Body.String())
	if len(events) < 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Type != models.EventMessage {
		t.Errorf("first event = %s, want message", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != models.EventComplete {
		t.Fatalf("terminal event = %s, want complete", last.Type)
	}
	var complete models.CompleteEventData
	if err := json.Unmarshal(last.Data, &complete); err != nil || !complete.OK || complete.ConversationID == "" {
		t.Errorf("complete data = %s", string(last.Data))
	}
}

func TestChatStreamUnauthorized(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/chat", "", models.ChatRequest{Message: "Hola"})
	events := decodeSSE(t, w.Body.String())
	if len(events) != 1 || events[0].Type != models.EventError {
		t.Fatalf("events = %+v, want single error", events)
	}
	if code := errorCode(t, events[0]); code != models.CodeUnauthorized {
		t.Errorf("code = %s, want UNAUTHORIZED", code)
	}
}

func TestChatStreamEmptyMessage(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/chat", f.token, models.ChatRequest{Message: ""})
	events := decodeSSE(t, w.Body.String())
	if len(events) != 1 || events[0].Type != models.EventError {
		t.Fatalf("events = %+v, want single error", events)
	}
	if code := errorCode(t, events[0]); code != models.CodeInvalidRequest {
		t.Errorf("code = %s, want INVALID_REQUEST", code)
	}
}

func TestChatStreamEventSourceVariant(t *testing.T) {
	f := newFixture(t)

	// EventSource clients: GET with the request in the data param and the
	// token in the query, no headers at all.
	data := url.QueryEscape(`{"message":"Hola"}`)
	path := "/api/chat?data=" + data + "&token=" + url.QueryEscape(f.token)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	events := decodeSSE(t, w.Body.String())
	if len(events) == 0 || events[len(events)-1].Type != models.EventComplete {
		t.Fatalf("events = %+v, want stream ending in complete", events)
	}
}

func TestChatStreamPythonWithoutUpload(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/chat", f.token, models.ChatRequest{
		Message:       "Qué dice el documento?",
		ActiveBackend: models.BackendPython,
	})
	events := decodeSSE(t, w.Body.String())
	last := events[len(events)-1]
	if last.Type != models.EventError {
		t.Fatalf("terminal = %s, want error", last.Type)
	}
	if code := errorCode(t, last); code != models.CodePythonFileRequired {
		t.Errorf("code = %s, want PYTHON_FILE_REQUIRED", code)
	}
}

// ========== Conversations ==========

func TestConversationCRUD(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/conversations", f.token, models.CreateConversationRequest{Title: "Plan"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var conv db.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &conv); err != nil || conv.ID == "" {
		t.Fatalf("create response = %s", w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/conversations", f.token, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), conv.ID) {
		t.Errorf("list status = %d, body %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPut, "/api/conversations/"+conv.ID+"/title", f.token,
		models.UpdateConversationTitleRequest{Title: "Plan 2026"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Plan 2026") {
		t.Errorf("rename status = %d, body %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", f.token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("messages status = %d", w.Code)
	}

	w = f.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, f.token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/api/conversations/"+conv.ID, f.token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestAppendMessageEndpoint(t *testing.T) {
	f := newFixture(t)

	conv, err := f.store.CreateConversation(f.userID, "import", nil)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	w := f.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", f.token,
		models.AppendMessageRequest{Role: db.RoleUser, Content: "importado"})
	if w.Code != http.StatusCreated {
		t.Fatalf("append status = %d, body %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", f.token,
		models.AppendMessageRequest{Role: "robot", Content: "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad role status = %d, want 400", w.Code)
	}
}

func TestConversationRoutesRequireAuth(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodGet, "/api/conversations", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list status = %d, want 401", w.Code)
	}
}

// ========== Uploads ==========

func TestUploadPythonEnablesChat(t *testing.T) {
	f := newFixture(t)

	conv, err := f.store.CreateConversation(f.userID, "docs", nil)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "manual.pdf")
	part.Write([]byte("%PDF-1.4 contenido"))
	mw.WriteField("activeBackend", "python")
	mw.WriteField("conversationId", conv.ID)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.token)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"chatbotId":"bot-up"`) {
		t.Errorf("upload response missing chatbotId alias: %s", w.Body.String())
	}

	// The settings blob now satisfies the upload-before-ask rule.
	stored, err := f.store.GetConversation(f.userID, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if stored.Settings[models.SettingChatbotID] != "bot-up" {
		t.Fatalf("settings = %v", stored.Settings)
	}

	resp := f.do(t, http.MethodPost, "/api/chat", f.token, models.ChatRequest{
		Message:        "Qué dice el documento?",
		ConversationID: conv.ID,
		ActiveBackend:  models.BackendPython,
	})
	events := decodeSSE(t, resp.Body.String())
	last := events[len(events)-1]
	if last.Type != models.EventComplete {
		t.Fatalf("terminal after upload = %s, body %s", last.Type, resp.Body.String())
	}

	// The page citation became a sources event.
	foundSources := false
	for _, ev := range events {
		if ev.Type == models.EventSources {
			foundSources = true
		}
	}
	if !foundSources {
		t.Error("no sources event for a page-cited answer")
	}
}

func TestUploadRequiresFile(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("activeBackend", "python")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.token)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("upload without file status = %d, want 400", w.Code)
	}
}
