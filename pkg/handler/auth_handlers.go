// Auth HTTP handlers - registration, login and the session middleware
package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/asistia/asistia/pkg/models"
	"github.com/asistia/asistia/pkg/service"
)

// TokenCookieName is the session cookie set on login. The cookie exists for
// browser EventSource and WebSocket requests, which cannot attach headers.
const TokenCookieName = "asistia_token"

// AuthHandler handles account and session HTTP requests
type AuthHandler struct {
	authService *service.AuthService
	tokenTTL    int // cookie max-age, seconds
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, tokenTTLSeconds int) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTLSeconds,
	}
}

// RegisterRoutes registers the public auth routes
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
	}
}

// RegisterProtectedRoutes registers routes that need a valid session
func (h *AuthHandler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.Me)
}

// Register handles account creation
// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.authService.Register(&req)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "email already registered"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, user)
}

// Login verifies credentials and issues a session token, also as a cookie
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.authService.Login(&req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.SetCookie(TokenCookieName, resp.Token, h.tokenTTL, "/", "", false, true)
	c.JSON(http.StatusOK, resp)
}

// Me returns the authenticated user
// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.authService.GetUser(c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// AuthRequired resolves and verifies the session token, aborting with 401
// when it is missing or invalid. The user id ends up in the gin context.
func AuthRequired(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := resolveUserID(c, authService)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

// resolveUserID extracts and verifies the session token. Resolution order is
// Authorization bearer header, then the session cookie, then the "token"
// query parameter (EventSource cannot set headers).
func resolveUserID(c *gin.Context, authService *service.AuthService) (string, bool) {
	token := ""
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if token == "" {
		if v, err := c.Cookie(TokenCookieName); err == nil {
			token = v
		}
	}
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return "", false
	}

	userID, err := authService.VerifyToken(token)
	if err != nil {
		return "", false
	}
	return userID, true
}
