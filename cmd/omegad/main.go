// cmd/omegad — the GentleOmega API server: proof recording, ledger
// verification, chain reconciliation, and the bounded task orchestrator
// behind one HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aamirshehzad9/GentleOmega/internal/chainrpc"
	"github.com/aamirshehzad9/GentleOmega/internal/handler"
	"github.com/aamirshehzad9/GentleOmega/internal/ledger"
	"github.com/aamirshehzad9/GentleOmega/internal/orchestrator"
	"github.com/aamirshehzad9/GentleOmega/internal/proof"
	"github.com/aamirshehzad9/GentleOmega/internal/reconciler"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("omegad exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	_ = godotenv.Load()

	viper.SetConfigName("omega")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("server.admin_secret", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("chain.rpc_url", "")
	viper.SetDefault("chain.wallet_address", "")
	viper.SetDefault("chain.rpc_timeout", "20s")
	viper.SetDefault("chain.cycle_interval", "10m")
	viper.SetDefault("chain.error_backoff", "1m")
	viper.SetDefault("orchestrator.max_concurrent", 5)
	viper.SetDefault("orchestrator.queue_size", 100)
	viper.SetDefault("orchestrator.monitor_interval", "5m")
	viper.SetDefault("orchestrator.embeddings_ready", false)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Ledger store ─────────────────────────────────────────────────────────
	var store ledger.Store
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		store = ledger.NewPostgres(db, logger)
	} else {
		logger.Warn("no database.url configured, using the in-memory ledger store")
		store = ledger.NewMemory()
	}

	// Startup integrity check.
	startCtx := context.Background()
	if report, err := store.VerifyIntegrity(startCtx); err != nil {
		logger.Warn("ledger integrity check failed to run", zap.Error(err))
	} else if !report.Valid() {
		logger.Warn("ledger integrity check FAILED",
			zap.Int("entries", report.Entries),
			zap.Int("broken_links", len(report.BrokenLinks)),
		)
	} else {
		logger.Info("ledger verified", zap.Int("entries", report.Entries))
	}

	// ── Chain client + reconciliation loop ───────────────────────────────────
	rpcTimeout := viper.GetDuration("chain.rpc_timeout")
	chain := chainrpc.New(
		viper.GetString("chain.rpc_url"),
		viper.GetString("chain.wallet_address"),
		rpcTimeout,
		logger,
	)
	defer chain.Close()

	loop := reconciler.New(store, chain, reconciler.Config{
		Interval:     viper.GetDuration("chain.cycle_interval"),
		ErrorBackoff: viper.GetDuration("chain.error_backoff"),
	}, logger)

	// ── Proofs + orchestrator ────────────────────────────────────────────────
	recorder := proof.NewRecorder(store, logger)
	orch := orchestrator.New(recorder, store, orchestrator.Config{
		MaxConcurrent:   viper.GetInt("orchestrator.max_concurrent"),
		QueueSize:       viper.GetInt("orchestrator.queue_size"),
		MonitorInterval: viper.GetDuration("orchestrator.monitor_interval"),
		EmbeddingsReady: viper.GetBool("orchestrator.embeddings_ready"),
	}, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	orch.Start(bgCtx)
	go loop.Run(bgCtx)

	// ── HTTP router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	if rps := viper.GetInt("server.rate_limit_rps"); rps > 0 {
		router.Use(handler.RateLimiter(rps, rps*2))
	}
	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	admin := handler.AdminAuth(viper.GetString("server.admin_secret"), logger)
	taskHandler := handler.NewTaskHandler(orch, logger)

	router.GET("/healthz", taskHandler.Health)
	handler.MetricsRoute(router)

	v1 := router.Group("/api/v1")
	handler.NewProofHandler(recorder, store, logger).Register(v1, admin)
	handler.NewChainHandler(loop, store, chain, logger).Register(v1, admin)
	taskHandler.Register(v1)

	// ── Serve + graceful shutdown ────────────────────────────────────────────
	httpPort := viper.GetInt("server.port")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("omegad HTTP listening", zap.Int("port", httpPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down omegad...")

	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("omegad stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
