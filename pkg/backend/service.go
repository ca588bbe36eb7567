// Backend facade - single entry point hiding which adapter is active
package backend

import (
	"context"
	"io"
	"log/slog"

	"github.com/asistia/asistia/pkg/config"
	"github.com/asistia/asistia/pkg/models"
	"github.com/asistia/asistia/pkg/utils"
)

// UploadResult is the raw per-adapter upload reply before the facade
// normalizes it. Success=false with a message means a soft failure.
type UploadResult struct {
	Success bool
	FileURL string
	FileID  string
	Message string
}

// Service selects and delegates to the active backend adapter. No caller
// downstream of the facade branches on backend type. The backend is resolved
// once at construction (explicit value wins over the configured default) and
// adapters are built lazily on first use.
type Service struct {
	cfg     *config.AppConfig
	backend models.Backend
	model   string

	n8n    *N8nClient
	python *PythonClient
	logger *slog.Logger
}

// NewService resolves the active backend: the explicit parameter takes
// priority over the configured default.
func NewService(cfg *config.AppConfig, model string, backend models.Backend) *Service {
	if !backend.Valid() {
		backend = models.Backend(cfg.DefaultBackend())
	}
	return &Service{
		cfg:     cfg,
		backend: backend,
		model:   models.NormalizeModel(model),
		logger:  utils.GetLogger(),
	}
}

// ActiveBackend returns the resolved backend type.
func (s *Service) ActiveBackend() models.Backend {
	return s.backend
}

// SetActiveBackend switches the backend. Selection is per relay invocation;
// callers must not switch mid-flight.
func (s *Service) SetActiveBackend(backend models.Backend) {
	if backend.Valid() {
		s.backend = backend
	}
}

// SendMessage delegates to the active adapter and returns the normalized
// response. For the python backend without a chatbot id in the session
// context it fails with ErrSessionRequired before any upstream call.
func (s *Service) SendMessage(ctx context.Context, message string, topK int, temperature float64, session models.SessionContext) (*models.BackendResponse, error) {
	switch s.backend {
	case models.BackendPython:
		if session.ChatbotID == "" {
			s.logger.Warn("python backend requested without an uploaded document")
			return nil, ErrSessionRequired
		}
		return s.pythonClient().SendMessage(ctx, session.ChatbotID, message)
	default:
		return s.n8nClient().SendMessage(ctx, message, topK, temperature)
	}
}

// UploadFile delegates to the active adapter and normalizes the reply into
// the common FileUploadResponse shape.
func (s *Service) UploadFile(ctx context.Context, fileName string, fileSize int64, fileType string, content io.Reader) *models.FileUploadResponse {
	var result *UploadResult
	switch s.backend {
	case models.BackendPython:
		result = s.pythonClient().UploadFile(ctx, fileName, content)
	default:
		result = s.n8nClient().UploadFile(ctx, fileName, content)
	}

	resp := &models.FileUploadResponse{
		Success: result.Success,
		Message: result.Message,
	}
	if !result.Success {
		return resp
	}

	resp.FileURL = result.FileURL
	resp.FileID = result.FileID
	resp.FileName = fileName
	resp.FileSize = fileSize
	resp.FileType = fileType
	return resp
}

func (s *Service) n8nClient() *N8nClient {
	if s.n8n == nil {
		s.n8n = NewN8nClient(s.cfg, s.model)
	}
	return s.n8n
}

func (s *Service) pythonClient() *PythonClient {
	if s.python == nil {
		s.python = NewPythonClient(s.cfg)
	}
	return s.python
}
