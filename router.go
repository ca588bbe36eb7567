package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/asistia/asistia/pkg/config"
	"github.com/asistia/asistia/pkg/db"
	"github.com/asistia/asistia/pkg/event"
	"github.com/asistia/asistia/pkg/handler"
	"github.com/asistia/asistia/pkg/service"
	"github.com/asistia/asistia/pkg/utils"
)

type Server struct {
	cfg       *config.AppConfig
	ginEngine *gin.Engine
	logger    *slog.Logger

	cache *service.ConversationCache
	srv   *http.Server
}

func NewServer(cfg *config.AppConfig) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow common localhost dev origins. Credentials stay
	// enabled because the session token travels as a cookie.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// No Origin header means it's not a browser CORS request.
		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")

			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
				c.Header("Access-Control-Allow-Credentials", "true")
			} else {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	attachStatic(ginEngine)

	server := &Server{
		cfg:       cfg,
		ginEngine: ginEngine,
		logger:    utils.GetLogger(),
	}

	if err := server.SetupRoutes(); err != nil {
		return nil, err
	}
	return server, nil
}

func (s *Server) SetupRoutes() error {
	gdb, err := db.Open(s.cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	s.cache = service.NewConversationCache(s.cfg)

	authService := service.NewAuthService(gdb, s.cfg)
	chatStoreService := service.NewChatStoreService(gdb, s.cache)
	relayService := service.NewRelayService(s.cfg, chatStoreService, authService)

	authHandler := handler.NewAuthHandler(authService, int(s.cfg.TokenTTL().Seconds()))
	chatHandler := handler.NewChatHandler(relayService, chatStoreService, authService)
	uploadHandler := handler.NewUploadHandler(s.cfg, chatStoreService)
	runtimeHandler := handler.NewRuntimeHandler(s.cfg)
	wsHandler := event.NewWSHandler()

	s.ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	authHandler.RegisterRoutes(apiGroup)
	runtimeHandler.RegisterRoutes(apiGroup)

	// The chat stream answers auth failures in-band, so it sits outside the
	// auth middleware and verifies the session itself.
	chatHandler.RegisterRoutes(apiGroup)

	protected := apiGroup.Group("")
	protected.Use(handler.AuthRequired(authService))
	authHandler.RegisterProtectedRoutes(protected)
	chatHandler.RegisterProtectedRoutes(protected)
	uploadHandler.RegisterRoutes(protected)
	protected.GET("/events/ws", wsHandler.Handle)

	return nil
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	s.srv = &http.Server{Addr: addr, Handler: s.ginEngine}

	// Listen first so a taken port fails immediately instead of inside the
	// serve goroutine.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.srv.Serve(ln)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("server listening", "addr", addr)

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}

func (s *Server) Shutdown() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
}
