// Runtime HTTP handlers - connection info for the web client
package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/asistia/asistia/pkg/config"
	"github.com/asistia/asistia/pkg/models"
)

// RuntimeHandler exposes where the server is reachable
type RuntimeHandler struct {
	cfg *config.AppConfig
}

// NewRuntimeHandler creates a new runtime handler
func NewRuntimeHandler(cfg *config.AppConfig) *RuntimeHandler {
	return &RuntimeHandler{cfg: cfg}
}

// RegisterRoutes registers the runtime info endpoint
func (h *RuntimeHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/runtime", h.Info)
}

// Info returns the base URLs the client should talk to
// GET /api/runtime
func (h *RuntimeHandler) Info(c *gin.Context) {
	host := h.cfg.Host()
	port := h.cfg.Port()
	c.JSON(http.StatusOK, models.RuntimeInfo{
		HTTPBaseURL: fmt.Sprintf("http://%s:%d", host, port),
		WSBaseURL:   fmt.Sprintf("ws://%s:%d", host, port),
		Port:        port,
	})
}
