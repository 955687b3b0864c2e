// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/fraudscope/internal/config"
	"github.com/mbd888/fraudscope/internal/dashboard"
	"github.com/mbd888/fraudscope/internal/health"
	"github.com/mbd888/fraudscope/internal/logging"
	"github.com/mbd888/fraudscope/internal/metrics"
	"github.com/mbd888/fraudscope/internal/model"
	"github.com/mbd888/fraudscope/internal/predictor"
	"github.com/mbd888/fraudscope/internal/ratelimit"
	"github.com/mbd888/fraudscope/internal/realtime"
	"github.com/mbd888/fraudscope/internal/retry"
	"github.com/mbd888/fraudscope/internal/security"
	"github.com/mbd888/fraudscope/internal/transactions"
	"github.com/mbd888/fraudscope/internal/validation"
	"github.com/redis/go-redis/v9"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	version      string
	bundle       *model.Bundle
	predictor    *predictor.Predictor
	scoring      *predictor.Service
	dashboard    *dashboard.Service
	store        transactions.Store
	historical   transactions.HistoricalSource
	cache        dashboard.Cache
	redis        *redis.Client // nil unless REDIS_URL is set
	modelWatcher *model.Watcher
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	db           *sql.DB // nil unless a SQL backend is used
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	drainDelay   time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /health
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithBundle uses b instead of loading MODEL_DIR (for testing)
func WithBundle(b *model.Bundle) Option {
	return func(s *Server) {
		s.bundle = b
	}
}

// WithStore uses st instead of the configured backend (for testing)
func WithStore(st transactions.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithHistorical uses h instead of RAW_DATA_PATH (for testing)
func WithHistorical(h transactions.HistoricalSource) Option {
	return func(s *Server) {
		s.historical = h
	}
}

// WithCache uses c for dashboard aggregates (for testing)
func WithCache(c dashboard.Cache) Option {
	return func(s *Server) {
		s.cache = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Model bundle
	if s.bundle == nil {
		b, err := model.LoadBundle(cfg.ModelDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load model bundle: %w", err)
		}
		s.bundle = b
	}
	s.predictor = predictor.New(s.bundle, cfg.ThresholdOverride, s.logger)
	info, _ := s.predictor.Info()
	s.logger.Info("model bundle loaded",
		"dir", cfg.ModelDir,
		"name", info.Name,
		"version", info.Version,
		"kind", info.Kind,
		"threshold", info.Threshold,
		"features", info.FeatureCount,
	)

	// Storage
	if s.store == nil {
		st, err := s.openStore(ctx)
		if err != nil {
			return nil, err
		}
		s.store = st
	}
	if s.historical == nil && cfg.RawDataPath != "" {
		s.historical = transactions.NewHistoricalTable(cfg.RawDataPath)
	}

	// Dashboard cache
	if s.cache == nil {
		if cfg.RedisURL != "" {
			rdb, err := dashboard.DialRedis(ctx, cfg.RedisURL, s.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to redis: %w", err)
			}
			s.redis = rdb
			s.cache = dashboard.NewRedisCache(rdb, cfg.DashboardCacheTTL, s.logger)
			s.logger.Info("using Redis dashboard cache", "ttl", cfg.DashboardCacheTTL)
		} else {
			s.cache = dashboard.NewMemoryCache(cfg.DashboardCacheTTL)
		}
	}

	// Realtime hub for the live feed
	s.realtimeHub = realtime.NewHub(s.logger)

	s.scoring = predictor.NewService(s.predictor, s.store, s.logger).
		WithCache(s.cache).
		WithBroadcaster(s.realtimeHub)
	s.dashboard = dashboard.NewService(s.historical, s.store).WithCache(s.cache)

	// Hot reload
	if cfg.ModelWatch {
		w, err := model.NewWatcher(cfg.ModelDir, model.DefaultDebounce, s.onModelReload, s.logger)
		if err != nil {
			s.logger.Warn("model hot reload disabled", "dir", cfg.ModelDir, "error", err)
		} else {
			s.modelWatcher = w
		}
	}

	s.setupHealth()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) openStore(ctx context.Context) (transactions.Store, error) {
	switch s.cfg.StorageBackend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		err = retry.Connect(func(attempt int, err error, wait time.Duration) {
			s.logger.Warn("database not reachable, retrying", "attempt", attempt, "wait", wait, "error", err)
		}).Do(ctx, db.PingContext)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		st := transactions.NewPostgresStore(db)
		if err := st.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
		return st, nil

	case config.BackendSQLite:
		db, err := transactions.OpenSQLite(s.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		st := transactions.NewSQLiteStore(db)
		if err := st.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		s.db = db
		s.logger.Info("using SQLite storage", "path", s.cfg.SQLitePath)
		return st, nil

	case config.BackendMemory:
		s.logger.Info("using in-memory storage (scores are lost on restart)")
		return transactions.NewMemoryStore(), nil

	default:
		s.logger.Info("using CSV storage", "path", s.cfg.DataPath)
		return transactions.NewCSVStore(s.cfg.DataPath), nil
	}
}

func (s *Server) setupHealth() {
	s.health = health.NewRegistry()
	s.health.Register("model", health.Ping("model", s.predictor.Ready))
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		s.health.Register("store", health.Ping("store", p.Ping))
	}
	if rc, ok := s.cache.(*dashboard.RedisCache); ok {
		s.health.Register("cache", health.Ping("cache", rc.Ping))
	}
}

// onModelReload installs a freshly loaded bundle and tells live clients.
func (s *Server) onModelReload(b *model.Bundle) {
	s.predictor.Swap(b)
	info, err := s.predictor.Info()
	if err != nil {
		return
	}
	s.realtimeHub.Broadcast(&realtime.Event{
		Type:      realtime.EventModelReloaded,
		Timestamp: time.Now().UTC(),
		Data:      info,
	})
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerSecond: float64(s.cfg.RateLimitRPS),
		BurstSize:         s.cfg.RateLimitBurst,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

const maxRequestIDLength = 128

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := validation.SanitizeString(c.GetHeader("X-Request-ID"), maxRequestIDLength)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Pages
	s.router.GET("/", indexPageHandler)
	s.router.GET("/dashboard", dashboardPageHandler)

	scoring := predictor.NewHandler(s.scoring)
	dash := dashboard.NewHandler(s.dashboard)

	scoring.RegisterRoutes(s.router)
	dash.RegisterRoutes(s.router)
	realtime.NewHandler(s.realtimeHub).RegisterRoutes(s.router)

	api := s.router.Group("/api/v1")
	scoring.RegisterAPIRoutes(api)
	dash.RegisterAPIRoutes(api)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() || s.predictor.Ready(c.Request.Context()) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"storage", s.cfg.StorageBackend,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.modelWatcher != nil {
		s.modelWatcher.Start(runCtx)
		s.logger.Info("model hot reload enabled", "dir", s.cfg.ModelDir)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.modelWatcher != nil {
		s.modelWatcher.Stop()
		s.logger.Info("model watcher stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if err := s.predictor.Close(); err != nil {
		s.logger.Error("model close error", "error", err)
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
