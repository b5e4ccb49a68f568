package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/moyoez/localvault/access"
	"github.com/moyoez/localvault/api/controllers"
	"github.com/moyoez/localvault/api/middlewares"
	"github.com/moyoez/localvault/api/notifyhub"
	"github.com/moyoez/localvault/tokens"
	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/upload"
	"github.com/moyoez/localvault/vault"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Root          *vault.Root
	Tokens        *tokens.Store
	Sessions      *upload.Sessions
	Receiver      *upload.Receiver
	Finalizer     *upload.Finalizer
	Gate          *access.Gate
	Hub           *notifyhub.Hub // nil disables the notify websocket
	MaxChunkBytes int64
	// AttemptsPerMinute bounds password and login attempts per client IP.
	AttemptsPerMinute int
}

// Server is the vault HTTP API server.
type Server struct {
	port     int
	protocol string
	deps     Deps
	engine   *gin.Engine
	server   *http.Server
	mu       sync.RWMutex
}

func NewServer(port int, protocol string, deps Deps) *Server {
	if protocol != "https" {
		protocol = "http"
	}
	return &Server{
		port:     port,
		protocol: protocol,
		deps:     deps,
	}
}

func (s *Server) setupRoutes() *gin.Engine {
	if tool.DefaultLogger.GetLevel() == log.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())
	engine.Use(middlewares.AllowAllCORS())

	d := s.deps
	limiter := middlewares.NewIPLimiter(d.AttemptsPerMinute)
	uploadCtrl := controllers.NewUploadController(d.Receiver, d.Finalizer, d.Sessions, d.MaxChunkBytes)
	downloadCtrl := controllers.NewDownloadController(d.Root, d.Tokens, d.Gate, limiter)
	filesCtrl := controllers.NewFilesController(d.Root)
	userCtrl := controllers.NewUserController(d.Gate)
	statusCtrl := controllers.NewStatusController(d.Root, d.Tokens, d.Hub != nil)

	apiGroup := engine.Group("/api")
	{
		apiGroup.POST("/upload/chunk", uploadCtrl.HandleChunk)
		apiGroup.POST("/upload/finalize", uploadCtrl.HandleFinalize)
		apiGroup.GET("/upload/status", uploadCtrl.HandleStatus)

		apiGroup.POST("/download/prepare", downloadCtrl.HandlePrepare)
		apiGroup.GET("/download", downloadCtrl.HandleDownload)
		apiGroup.HEAD("/download", downloadCtrl.HandleDownload)
		apiGroup.POST("/download/zip", downloadCtrl.HandleZip)
		apiGroup.POST("/media/token", downloadCtrl.HandleMediaToken)
		apiGroup.GET("/media", downloadCtrl.HandleMedia)
		apiGroup.HEAD("/media", downloadCtrl.HandleMedia)

		apiGroup.GET("/files", filesCtrl.HandleList)
		apiGroup.POST("/files/folder", filesCtrl.HandleCreateFolder)
		apiGroup.POST("/files/rename", filesCtrl.HandleRename)
		apiGroup.DELETE("/files", filesCtrl.HandleDelete)

		apiGroup.POST("/auth/login", limiter.RateLimit, userCtrl.HandleLogin)
	}
	self := engine.Group("/api/self/v1", middlewares.OnlyAllowLocal)
	{
		self.GET("/status", statusCtrl.HandleStatus)
		self.GET("/config", controllers.HandleConfig)
		self.GET("/share-qr", controllers.HandleShareQR)
		if d.Hub != nil {
			self.GET("/notify-ws", notifyhub.HandleNotifyWS(d.Hub))
		}
	}
	return engine
}

// Handler builds the routes without listening.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		s.engine = s.setupRoutes()
	}
	return s.engine
}

// Start serves until Shutdown is called. In https mode the certificate comes from
// config.yaml, generated and persisted on first use.
func (s *Server) Start() error {
	handler := s.Handler()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.protocol == "https" {
		cfg := tool.GetCurrentConfig()
		tlsCfg, changed, err := tool.GetOrCreateTLSConfig(cfg)
		if err != nil {
			return fmt.Errorf("failed to get TLS certificate: %w", err)
		}
		if changed {
			tool.PersistAppConfig(cfg)
		}
		srv.TLSConfig = tlsCfg
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	tool.DefaultLogger.Infof("[Server] Starting API server on %s://0.0.0.0:%d", s.protocol, s.port)
	var err error
	if s.protocol == "https" {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
