package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/substratehq/playground/internal/api/http"
	"github.com/substratehq/playground/internal/api/middleware"
	"github.com/substratehq/playground/internal/api/ws"
	"github.com/substratehq/playground/internal/engine"
	"github.com/substratehq/playground/internal/events"
	"github.com/substratehq/playground/internal/infrastructure/config"
	"github.com/substratehq/playground/internal/infrastructure/logging"
	"github.com/substratehq/playground/internal/infrastructure/monitoring"
	"github.com/substratehq/playground/internal/sandbox"
	"github.com/substratehq/playground/internal/snapshot"
	"github.com/substratehq/playground/internal/template"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router  *gin.Engine
	engine  *engine.Engine
	booter  *sandbox.Booter
	bus     *events.Bus
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer wires the full service: logger, metrics, event bus, snapshot
// store, sandbox booter, orchestration engine, and the REST/WebSocket
// surface.
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing playground server",
		zap.String("port", cfg.Server.Port),
		zap.String("sandbox_root", cfg.Sandbox.RootDir),
	)

	metrics := monitoring.NewMetrics()
	bus := events.NewBus(logger)

	snapshotDir := cfg.Snapshot.Dir
	if snapshotDir == "" {
		snapshotDir = filepath.Join(os.TempDir(), "playground-snapshots")
	}
	kv, err := snapshot.NewFileKV(snapshotDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	store := snapshot.NewStore(kv, logger)

	booter := sandbox.NewBooter(cfg.Sandbox.RootDir, bus, logger)

	engCfg := engine.DefaultConfig()
	engCfg.InstallDir = cfg.Sandbox.InstallDir
	engCfg.TemplateTTL = cfg.Engine.TemplateTTL
	engCfg.TemplateCacheSize = cfg.Engine.TemplateCacheSize
	engCfg.TreeDepthLimit = cfg.Engine.TreeDepthLimit
	engCfg.DebounceWindow = cfg.Engine.DebounceWindow
	engCfg.SettleDelay = cfg.Engine.SettleDelay
	engCfg.HashDevDeps = cfg.Engine.HashDevDeps
	engCfg.AutoSave = cfg.Snapshot.AutoSave
	engCfg.AutoSaveInterval = cfg.Snapshot.AutoSaveInterval
	eng := engine.New(engCfg, bus, booter, store, logger).WithMetrics(metrics)

	var registry *template.RegistryClient
	if cfg.Registry.BaseURL != "" {
		registry = template.NewRegistryClient(cfg.Registry.BaseURL, cfg.Registry.Timeout)
		logger.Info("Template registry configured", zap.String("url", cfg.Registry.BaseURL))
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	handlers := http.NewHandlers(eng, registry, metrics, logger)
	wsHandler := ws.NewHandler(bus, eng, metrics, logger)

	// Activations and snapshot saves are expensive regardless of client,
	// so they get a shared limiter on top of the per-IP one.
	heavy := gin.HandlerFunc(func(c *gin.Context) { c.Next() })
	if cfg.RateLimit.Enabled {
		heavy = middleware.GlobalRateLimit(config.RateLimitConfig{
			RequestsPerSecond: 2,
			Burst:             5,
		})
	}

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/status", handlers.GetStatus)

	// Template lifecycle
	router.POST("/templates/activate", heavy, handlers.ActivateTemplate)
	router.POST("/templates/switch", heavy, handlers.SwitchTemplate)

	// Workspace files
	router.GET("/files", handlers.GetFileTree)
	router.GET("/files/content", handlers.ReadFile)
	router.PUT("/files/content", handlers.WriteFile)

	// Snapshots
	router.POST("/snapshot", heavy, handlers.SaveSnapshot)

	// WebSocket event stream
	router.GET("/ws", wsHandler.HandleConnection)

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		engine:  eng,
		booter:  booter,
		bus:     bus,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close shuts the engine and sandbox down.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	s.engine.Cleanup()
	if err := s.booter.Teardown(); err != nil {
		s.logger.Error("Failed to tear down sandbox", zap.Error(err))
		return err
	}

	s.logger.Info("Server shutdown complete")
	return s.logger.Sync()
}
