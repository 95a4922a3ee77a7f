// Package control is the HTTP ControlPlane: the operator-facing surface for
// starting/pausing/stopping the cycle loop, inspecting account and decision
// history, tuning settings, and submitting operator guidance. It only ever
// mutates state through Store and the on-disk control token — it never
// touches the Ledger directly.
package control

import (
	"context"
	"net/http"
	"sync"
	"time"

	"futuresagent/internal/cycle"
	"futuresagent/internal/exchange"
	"futuresagent/internal/llm"
	"futuresagent/internal/monitor"
	"futuresagent/internal/prompt"
	"futuresagent/internal/store"

	"github.com/gin-gonic/gin"
)

// Server wires every ControlPlane route around the cycle loop's
// collaborators. It owns the lifetime of the Engine's background goroutine:
// start/stop requests launch or let it exit rather than the engine managing
// its own process.
type Server struct {
	Router *gin.Engine

	Store       *store.Store
	Engine      *cycle.Engine
	Token       *cycle.ControlToken
	Adapter     exchange.Adapter
	Completer   llm.Completer
	PromptBuild *prompt.Builder
	Metrics     *monitor.SystemMetrics

	Mode      string // "paper" | "live"
	UploadDir string
	JWTSecret string

	startedAt time.Time

	runMu     sync.Mutex
	running   bool
	cancelRun context.CancelFunc
	parentCtx context.Context

	broadcaster *statusBroadcaster
}

// Config bundles NewServer's dependencies.
type Config struct {
	Store       *store.Store
	Engine      *cycle.Engine
	Token       *cycle.ControlToken
	Adapter     exchange.Adapter
	Completer   llm.Completer
	PromptBuild *prompt.Builder
	Metrics     *monitor.SystemMetrics
	Mode        string
	UploadDir   string
	JWTSecret   string
}

// NewServer builds the router and registers every route. ctx bounds the
// lifetime of any engine loop a bot/start call launches; callers should pass
// the process's root context.
func NewServer(ctx context.Context, cfg Config) *Server {
	r := gin.New()

	s := &Server{
		Router:      r,
		Store:       cfg.Store,
		Engine:      cfg.Engine,
		Token:       cfg.Token,
		Adapter:     cfg.Adapter,
		Completer:   cfg.Completer,
		PromptBuild: cfg.PromptBuild,
		Metrics:     cfg.Metrics,
		Mode:        cfg.Mode,
		UploadDir:   cfg.UploadDir,
		JWTSecret:   cfg.JWTSecret,
		startedAt:   time.Now(),
		parentCtx:   ctx,
		broadcaster: newStatusBroadcaster(),
	}
	if s.Engine != nil {
		s.Engine.StatusFn = s.broadcaster.publish
	}

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(s.Metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.Router.GET("/ws", s.getStatusStream)

	api := s.Router.Group("/api")
	{
		api.GET("/index", s.getIndex)
		api.GET("/account", s.getAccount)
		api.GET("/account/history", s.getAccountHistory)
		api.GET("/decisions", s.getDecisions)
		api.GET("/positions", s.getPositions)
		api.GET("/status", s.getStatus)
		api.GET("/stats", s.getStats)

		api.GET("/bot/status", s.getBotStatus)
		api.POST("/bot/start", s.postBotStart)
		api.POST("/bot/pause", s.postBotPause)
		api.POST("/bot/resume", s.postBotResume)
		api.POST("/bot/stop", s.postBotStop)

		api.GET("/user_input", s.getUserInput)
		api.POST("/user_input", s.postUserInput)
		api.DELETE("/user_input", s.deleteUserInput)

		api.POST("/upload_image", s.postUploadImage)

		api.GET("/prompt_presets", s.getPromptPresets)
		api.GET("/prompt_presets/active", s.getActivePreset)
		api.POST("/prompt_presets/active", s.postActivePreset)
		api.GET("/prompt_presets/preview/:name", s.getPresetPreview)
		api.GET("/prompt_presets/sample_user_prompt", s.getSampleUserPrompt)

		api.GET("/bot_config", s.getBotConfig)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/bot_config", s.postBotConfig)
			protected.POST("/database/reset", s.postDatabaseReset)
		}

		api.GET("/database/status", s.getDatabaseStatus)
		api.GET("/debug/database", s.getDebugDatabase)
	}
}

// Start runs the HTTP server until it errors or the process is shut down.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}

// ensureEngineRunning launches the Engine's Run loop in a background
// goroutine if it is not already executing. It is idempotent: calling it
// while already running is a no-op.
func (s *Server) ensureEngineRunning() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running || s.Engine == nil {
		return
	}
	runCtx, cancel := context.WithCancel(s.parentCtx)
	s.cancelRun = cancel
	s.running = true
	go func() {
		_ = s.Engine.Run(runCtx)
		s.runMu.Lock()
		s.running = false
		s.cancelRun = nil
		s.runMu.Unlock()
	}()
}

// isProcessRunning reports whether the engine's background loop is alive.
func (s *Server) isProcessRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}
