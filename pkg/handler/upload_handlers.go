// Upload HTTP handlers - document ingestion for the generation backends
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/asistia/asistia/pkg/backend"
	"github.com/asistia/asistia/pkg/config"
	"github.com/asistia/asistia/pkg/db"
	"github.com/asistia/asistia/pkg/event"
	"github.com/asistia/asistia/pkg/models"
	"github.com/asistia/asistia/pkg/service"
)

// UploadHandler handles document uploads
type UploadHandler struct {
	cfg   *config.AppConfig
	store *service.ChatStoreService
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(cfg *config.AppConfig, store *service.ChatStoreService) *UploadHandler {
	return &UploadHandler{cfg: cfg, store: store}
}

// RegisterRoutes registers the upload endpoint behind auth
func (h *UploadHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/uploads", h.Upload)
}

// Upload sends a document to the active backend and, when the request names
// a conversation, records the resulting session data in its settings blob.
// For python that blob is what later satisfies the upload-before-ask rule.
// POST /api/uploads multipart: file, model?, activeBackend?, conversationId?
func (h *UploadHandler) Upload(c *gin.Context) {
	userID := c.GetString("userID")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	model := c.PostForm("model")
	activeBackend := models.Backend(c.PostForm("activeBackend"))
	conversationID := c.PostForm("conversationId")

	facade := backend.NewService(h.cfg, model, activeBackend)
	resp := facade.UploadFile(c.Request.Context(), fileHeader.Filename, fileHeader.Size,
		fileHeader.Header.Get("Content-Type"), file)

	if conversationID != "" && resp.Success {
		if err := h.recordSession(userID, conversationID, facade.ActiveBackend(), model, resp); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
	}

	event.Emit(event.UploadCompletedEvent{
		ConversationID: conversationID,
		UserID:         userID,
		FileName:       fileHeader.Filename,
		Success:        resp.Success,
	})

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{
		"success":   resp.Success,
		"fileUrl":   resp.FileURL,
		"fileId":    resp.FileID,
		"chatbotId": resp.FileID,
		"fileName":  resp.FileName,
		"fileSize":  resp.FileSize,
		"fileType":  resp.FileType,
		"message":   resp.Message,
	})
}

// recordSession stores the backend session data on the conversation.
func (h *UploadHandler) recordSession(userID, conversationID string, activeBackend models.Backend, model string, resp *models.FileUploadResponse) error {
	now := time.Now().Format(time.RFC3339)

	updates := db.JSONMap{
		models.SettingBackend:    string(activeBackend),
		models.SettingUploadedAt: now,
	}
	if activeBackend == models.BackendPython {
		updates[models.SettingChatbotID] = resp.FileID
		updates[models.SettingPythonData] = models.PythonSessionData{
			ChatbotID:  resp.FileID,
			FileName:   resp.FileName,
			UploadedAt: now,
			FileSize:   resp.FileSize,
			FileType:   resp.FileType,
		}
	} else {
		updates[models.SettingN8nData] = models.N8nSessionData{
			Model:      models.NormalizeModel(model),
			UploadedAt: now,
		}
	}

	_, err := h.store.UpdateSettings(userID, conversationID, updates)
	return err
}
