// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/quipu/debitcheck/internal/config"
	"github.com/quipu/debitcheck/internal/decision"
	"github.com/quipu/debitcheck/internal/health"
	"github.com/quipu/debitcheck/internal/logging"
	"github.com/quipu/debitcheck/internal/metrics"
	"github.com/quipu/debitcheck/internal/ratelimit"
	"github.com/quipu/debitcheck/internal/realtime"
	"github.com/quipu/debitcheck/internal/scoring"
	"github.com/quipu/debitcheck/internal/security"
	"github.com/quipu/debitcheck/internal/signals"
	"github.com/quipu/debitcheck/internal/traces"
	"github.com/quipu/debitcheck/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg             *config.Config
	fetcher         *signals.Fetcher
	bundle          *scoring.Bundle
	decisionStore   decision.Store
	decisionService *decision.Service
	publisher       decision.Publisher
	realtimeHub     *realtime.Hub
	rateLimiter     *ratelimit.Limiter
	healthChecks    *health.Registry
	db              *sql.DB       // nil if using in-memory
	rdb             *redis.Client // nil if signal caching disabled
	router          *gin.Engine
	httpSrv         *http.Server
	logger          *slog.Logger
	tracesShutdown  func(context.Context) error
	cancelRunCtx    context.CancelFunc // cancels background goroutines started in Run

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

// WithBundle injects a pre-loaded model bundle (for testing)
func WithBundle(b *scoring.Bundle) Option {
	return func(s *Server) {
		s.bundle = b
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set bundle/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Load the model bundle unless one was injected
	if s.bundle == nil {
		b, err := scoring.LoadBundle(cfg.ModelPath, cfg.OnnxLibraryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load model bundle: %w", err)
		}
		s.bundle = b
	}
	s.logger.Info("model bundle loaded",
		"version", s.bundle.Version,
		"threshold", s.bundle.Threshold,
	)

	// Signal sources and decision audit store
	// (Postgres if DATABASE_URL set, otherwise in-memory)
	var directory signals.CreditDirectory
	var deviceSource signals.DeviceSource
	var smsSource signals.SmsSource
	var metadataSource signals.MetadataSource

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		pg := signals.NewPostgresStore(db)
		directory = pg
		deviceSource = pg
		smsSource = pg
		metadataSource = pg

		s.decisionStore = decision.NewPostgresStore(db)
	} else {
		ms := signals.NewMemoryStore()
		seedDemoData(ms)
		directory = ms
		deviceSource = ms
		smsSource = ms
		metadataSource = ms

		s.decisionStore = decision.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Read-through signal caches (optional)
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		s.rdb = redis.NewClient(redisOpts)
		deviceSource = signals.NewCachedDeviceSource(deviceSource, s.rdb, cfg.CacheTTL)
		smsSource = signals.NewCachedSmsSource(smsSource, s.rdb, cfg.CacheTTL)
		s.logger.Info("signal caching enabled", "ttl", cfg.CacheTTL)
	}

	s.fetcher = signals.NewFetcher(directory, deviceSource, smsSource, metadataSource,
		signals.WithSmsLimit(cfg.SmsFetchLimit))

	// Decision result publishing (optional)
	if brokers := cfg.BrokerList(); len(brokers) > 0 {
		s.publisher = decision.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		s.logger.Info("result publishing enabled",
			"brokers", cfg.KafkaBrokers,
			"topic", cfg.KafkaTopic,
		)
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Decision service ties everything together
	serviceOpts := []decision.Option{
		decision.WithTimeout(cfg.DecisionTimeout),
		decision.WithHub(s.realtimeHub),
	}
	if s.publisher != nil {
		serviceOpts = append(serviceOpts, decision.WithPublisher(s.publisher))
	}
	s.decisionService = decision.NewService(s.fetcher, s.bundle, s.decisionStore, serviceOpts...)

	// Subsystem health checks
	s.healthChecks = health.NewRegistry()
	s.healthChecks.Register("model", func(ctx context.Context) health.Status {
		// Loaded at startup or the server wouldn't be up
		return health.Status{Name: "model", Healthy: true, Detail: s.bundle.Version}
	})
	if s.db != nil {
		s.healthChecks.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	if s.rdb != nil {
		s.healthChecks.Register("redis", func(ctx context.Context) health.Status {
			if err := s.rdb.Ping(ctx).Err(); err != nil {
				return health.Status{Name: "redis", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "redis", Healthy: true}
		})
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// seedDemoData loads a small synthetic credit into the in-memory store so
// the service is usable without a database.
func seedDemoData(ms *signals.MemoryStore) {
	ms.AddCredit("demo-credit-1", "uid-demo-1", "demo-user-1")
	ms.AddDevice(signals.DeviceRecord{
		UserID:     "demo-user-1",
		UUIDDevice: "demo-device-1",
		Platform:   "android",
		LinkedAt:   time.Now().Add(-30 * 24 * time.Hour),
	})
	now := time.Now()
	for i, body := range []string{
		"Tu credito fue desembolsado. Monto $500.000 pesos",
		"Compra aprobada por $42.000 con tu tarjeta terminada en 1234",
		"Tu clave de retiro es 98765. No la compartas",
		"Recibiste una transferencia por $120.000 pesos via nequi",
		"Pago de nomina recibido",
	} {
		ms.AddSms(signals.SmsRecord{
			UUIDDevice: "demo-device-1",
			Address:    "890123",
			Body:       body,
			ReceivedAt: now.Add(-time.Duration(i) * time.Hour),
		})
	}
	ms.AddMetadata("demo-user-1", signals.MetadataRecord{Key: "plan", Value: "pospago"})
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		rlCfg.BurstSize = s.cfg.RateLimitRPS
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		// Log level based on status code
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

	// WebSocket for real-time decision streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	decisionHandler := decision.NewHandler(s.decisionService)

	// Evaluation endpoint at the root, with credit UID validation
	eval := s.router.Group("")
	eval.Use(validation.CreditUIDParamMiddleware())
	decisionHandler.RegisterRoutes(eval)

	// V1 API group (audit reads)
	v1 := s.router.Group("/v1")
	v1.Use(validation.CreditUIDParamMiddleware())
	decisionHandler.RegisterAuditRoutes(v1)
	v1.GET("/model", s.modelInfoHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthChecks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
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
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Debito Automatico",
		"description": "Real-time credit fraud risk decisions",
		"version":     "0.1.0",
	})
}

// modelInfoHandler exposes the loaded model version and schema so operators
// can confirm which bundle is serving decisions.
func (s *Server) modelInfoHandler(c *gin.Context) {
	schema := s.bundle.Schema()
	c.JSON(http.StatusOK, gin.H{
		"version":           s.bundle.Version,
		"threshold":         s.bundle.Threshold,
		"selected_features": schema.SelectedFeatures,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when OTEL_EXPORTER_OTLP_ENDPOINT is unset)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"model_version", s.bundle.Version,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Export DB pool gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
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

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush the result publisher
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("publisher close error", "error", err)
		} else {
			s.logger.Info("publisher closed")
		}
	}

	// Release the model bundle (onnx sessions hold native resources)
	if err := s.bundle.Close(); err != nil {
		s.logger.Error("bundle close error", "error", err)
	}

	// Close redis connection
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	// Flush remaining trace spans
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
