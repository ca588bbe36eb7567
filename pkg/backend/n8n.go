// n8n backend adapter - calls the RAG workflow webhooks
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/pkg/errors"

	"github.com/asistia/asistia/pkg/config"
	"github.com/asistia/asistia/pkg/db"
	"github.com/asistia/asistia/pkg/models"
	"github.com/asistia/asistia/pkg/utils"
)

// N8nClient talks to one n8n webhook pair (chat + file form), resolved from
// the configured model and environment. Every call is self-contained; n8n
// needs no prior session.
type N8nClient struct {
	endpointURL   string
	fileUploadURL string
	apiKey        string
	httpClient    *http.Client
	logger        *slog.Logger
}

// n8nRequest is the webhook chat payload.
type n8nRequest struct {
	ChatInput   string         `json:"chatInput"`
	TopK        int            `json:"topK"`
	Temperature float64        `json:"temperature"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// n8nResponse is the webhook reply: one complete output block.
type n8nResponse struct {
	Output  string         `json:"output"`
	Sources db.SourceList  `json:"sources,omitempty"`
	Usage   *db.TokenUsage `json:"usage,omitempty"`
}

// n8nUploadResponse is the file form reply. The URL field name varies between
// workflow versions.
type n8nUploadResponse struct {
	FileURL     string `json:"fileUrl"`
	URL         string `json:"url"`
	DownloadURL string `json:"downloadUrl"`
}

// NewN8nClient resolves webhook URLs for the given model from config.
func NewN8nClient(cfg *config.AppConfig, model string) *N8nClient {
	model = models.NormalizeModel(model)
	return &N8nClient{
		endpointURL:   cfg.N8nWebhookURL(model),
		fileUploadURL: cfg.N8nFileUploadURL(model),
		apiKey:        cfg.N8nAPIKey(),
		httpClient:    &http.Client{Timeout: cfg.UpstreamTimeout()},
		logger:        utils.GetLogger(),
	}
}

// SendMessage posts the question to the chat webhook and parses the complete
// (non-streamed) reply.
func (c *N8nClient) SendMessage(ctx context.Context, message string, topK int, temperature float64) (*models.BackendResponse, error) {
	payload := n8nRequest{
		ChatInput:   message,
		TopK:        topK,
		Temperature: temperature,
		Metadata: map[string]any{
			"source":     "webapp",
			"appVersion": "1.0.0",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal n8n request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build n8n request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "call n8n webhook")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read n8n response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServiceError{Backend: models.BackendN8n, Status: resp.StatusCode, Body: string(raw)}
	}

	var parsed n8nResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.logger.Error("Unparsable n8n response", "body", string(raw))
		return nil, &ServiceError{Backend: models.BackendN8n, Status: resp.StatusCode, Body: string(raw)}
	}

	return &models.BackendResponse{
		Output:  parsed.Output,
		Sources: parsed.Sources,
		Usage:   parsed.Usage,
	}, nil
}

// UploadFile transmits the file to the n8n form endpoint. Failures are soft:
// the result carries success=false and a message instead of an error, so the
// caller decides whether to retry or surface it.
func (c *N8nClient) UploadFile(ctx context.Context, fileName string, content io.Reader) *UploadResult {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return &UploadResult{Message: err.Error()}
	}
	if _, err := io.Copy(part, content); err != nil {
		return &UploadResult{Message: err.Error()}
	}
	if err := writer.Close(); err != nil {
		return &UploadResult{Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.fileUploadURL, &buf)
	if err != nil {
		return &UploadResult{Message: err.Error()}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("n8n file upload failed", "error", err)
		return &UploadResult{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error("n8n file upload rejected", "status", resp.StatusCode, "body", string(body))
		return &UploadResult{Message: (&ServiceError{Backend: models.BackendN8n, Status: resp.StatusCode, Body: string(body)}).Error()}
	}

	var parsed n8nUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return &UploadResult{Message: errors.Wrap(err, "parse n8n upload response").Error()}
	}

	fileURL := parsed.FileURL
	if fileURL == "" {
		fileURL = parsed.URL
	}
	if fileURL == "" {
		fileURL = parsed.DownloadURL
	}

	return &UploadResult{Success: true, FileURL: fileURL}
}
