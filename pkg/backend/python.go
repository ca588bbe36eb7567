// Python backend adapter - document chatbots built from uploaded files
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/asistia/asistia/pkg/config"
	"github.com/asistia/asistia/pkg/db"
	"github.com/asistia/asistia/pkg/models"
	"github.com/asistia/asistia/pkg/utils"
)

// PythonClient talks to the Python RAG backend. It is stateful per
// conversation: a chatbot must first be built from an uploaded document
// (UploadFile), and the returned chatbot id must accompany every question.
// The caller is responsible for supplying the id; a missing id is a caller
// error, not an adapter error.
type PythonClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type pythonAskRequest struct {
	Question string `json:"question"`
}

type pythonAskResponse struct {
	Answer string `json:"answer"`
}

type pythonUploadResponse struct {
	ChatbotID string `json:"chatbot_id"`
}

// pageInfoRe matches the trailing page annotation the Python backend appends
// to its answers. Best-effort: the grammar is narrow and breaks if the
// upstream prompt changes, which is why parsing stays inside this adapter.
var pageInfoRe = regexp.MustCompile(`The information is in pages: ([\d,\s]+)$`)

// NewPythonClient resolves the backend base URL from config.
func NewPythonClient(cfg *config.AppConfig) *PythonClient {
	return &PythonClient{
		baseURL:    cfg.PythonBaseURL(),
		httpClient: &http.Client{Timeout: cfg.UpstreamTimeout()},
		logger:     utils.GetLogger(),
	}
}

// SendMessage asks the chatbot identified by chatbotID. The page citation
// suffix, when present, is stripped from the answer and converted into one
// Source per referenced page.
func (c *PythonClient) SendMessage(ctx context.Context, chatbotID, message string) (*models.BackendResponse, error) {
	url := fmt.Sprintf("%s/ask_chatbot/%s", c.baseURL, chatbotID)

	body, err := json.Marshal(pythonAskRequest{Question: message})
	if err != nil {
		return nil, errors.Wrap(err, "marshal python request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build python request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "call python backend")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read python response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServiceError{Backend: models.BackendPython, Status: resp.StatusCode, Body: string(raw)}
	}

	var parsed pythonAskResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.logger.Error("Unparsable python response", "body", string(raw))
		return nil, &ServiceError{Backend: models.BackendPython, Status: resp.StatusCode, Body: string(raw)}
	}

	answer, sources := extractPageSources(parsed.Answer)

	return &models.BackendResponse{
		Output:  answer,
		Sources: sources,
	}, nil
}

// UploadFile builds a chatbot from the document and returns its id as the
// session file id. Soft-fails like the n8n adapter.
func (c *PythonClient) UploadFile(ctx context.Context, fileName string, content io.Reader) *UploadResult {
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/build_chatbot", &buf)
	if err != nil {
		return &UploadResult{Message: err.Error()}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("python file upload failed", "error", err)
		return &UploadResult{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error("python file upload rejected", "status", resp.StatusCode, "body", string(body))
		return &UploadResult{Message: (&ServiceError{Backend: models.BackendPython, Status: resp.StatusCode, Body: string(body)}).Error()}
	}

	var parsed pythonUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return &UploadResult{Message: errors.Wrap(err, "parse python upload response").Error()}
	}
	if parsed.ChatbotID == "" {
		return &UploadResult{Message: "python backend returned no chatbot_id"}
	}

	return &UploadResult{Success: true, FileID: parsed.ChatbotID}
}

// extractPageSources strips the trailing "The information is in pages: N, M"
// annotation from answer and synthesizes one Source per referenced page.
func extractPageSources(answer string) (string, db.SourceList) {
	match := pageInfoRe.FindStringSubmatch(answer)
	if match == nil {
		return answer, nil
	}

	stripped := strings.TrimSpace(pageInfoRe.ReplaceAllString(answer, ""))

	var sources db.SourceList
	for _, page := range strings.Split(match[1], ",") {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		sources = append(sources, db.Source{
			Title:   "Page " + page,
			URL:     "#page=" + page,
			Snippet: "Content from page " + page,
			Page:    page,
		})
	}

	if len(sources) == 0 {
		return answer, nil
	}
	return stripped, sources
}
