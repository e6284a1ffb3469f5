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
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/audit"
	"github.com/custodia-forensics/custodia/internal/custody/handler"
	"github.com/custodia-forensics/custodia/internal/custody/ledger"
	"github.com/custodia-forensics/custodia/internal/custody/monitor"
	"github.com/custodia-forensics/custodia/internal/custody/query"
	"github.com/custodia-forensics/custodia/internal/custody/transfer"
	"github.com/custodia-forensics/custodia/internal/email"
	"github.com/custodia-forensics/custodia/internal/identity"
	"github.com/custodia-forensics/custodia/internal/notary"
	"github.com/custodia-forensics/custodia/internal/webhooks"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("custodia")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("database.url", "")
	viper.SetDefault("notary.enabled", true)
	viper.SetDefault("notary.key_dir", "keys")
	viper.SetDefault("identity.auth_public_key", "")
	viper.SetDefault("identity.issuer", "")
	viper.SetDefault("audit.sweep_on_start", true)
	viper.SetDefault("audit.sweep_interval", "10m")
	viper.SetDefault("audit.alert_email", "")
	viper.SetDefault("smtp.host", "")
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("smtp.username", "")
	viper.SetDefault("smtp.password", "")
	viper.SetDefault("smtp.from", "custodia@localhost")
	viper.SetDefault("query.refresh_interval", "30s")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// ── Ledger store ─────────────────────────────────────────────────────────
	var (
		custodyLedger ledger.Ledger
		transferStore transfer.Store
		hookStore     webhooks.Store
	)
	dbURL := viper.GetString("database.url")
	if dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := pool.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		pgLedger := ledger.NewPostgres(pool, logger)
		custodyLedger = pgLedger
		transferStore = transfer.NewPostgres(pool, pgLedger, logger)
		hookStore = webhooks.NewPostgres(pool)
	} else {
		logger.Warn("database.url not set — using in-memory store; custody records will not survive restart")
		memLedger := ledger.NewMemory()
		custodyLedger = memLedger
		transferStore = transfer.NewMemory(memLedger)
		hookStore = webhooks.NewMemory()
	}

	// ── Notary ───────────────────────────────────────────────────────────────
	verifier := audit.NewVerifier(custodyLedger, logger)
	if viper.GetBool("notary.enabled") {
		keyDir := viper.GetString("notary.key_dir")
		n, err := notary.LoadOrCreate(keyDir)
		if err != nil {
			return fmt.Errorf("notary setup failed: %w", err)
		}
		logger.Info("notary ready",
			zap.String("key_dir", keyDir),
			zap.String("public_key", n.PublicKeyHex()),
		)

		switch l := custodyLedger.(type) {
		case *ledger.PostgresLedger:
			l.SetSigner(n)
		case *ledger.MemoryLedger:
			l.SetSigner(n)
		}
		verifier.SetSignatureVerifier(n)
	} else {
		logger.Info("notary disabled — custody events will not carry signatures")
	}

	// ── Actor identity ───────────────────────────────────────────────────────
	var actorVerifier *identity.Verifier
	if keyPath := viper.GetString("identity.auth_public_key"); keyPath != "" {
		var err error
		actorVerifier, err = identity.NewVerifierFromFile(keyPath, viper.GetString("identity.issuer"))
		if err != nil {
			return fmt.Errorf("load auth public key: %w", err)
		}
		logger.Info("actor token verification enabled", zap.String("key", keyPath))
	} else {
		logger.Warn("identity.auth_public_key not set — trusting X-Actor-ID header; do not use in production")
	}

	// ── Services ─────────────────────────────────────────────────────────────
	transferSvc := transfer.NewService(transferStore, custodyLedger, logger)
	projector := query.New(custodyLedger, logger)
	hookSvc := webhooks.NewService(hookStore, logger)
	hookSvc.SetMetricsRecorder(handler.RecordWebhookDelivery)

	// ── Integrity monitor ────────────────────────────────────────────────────
	sweepInterval, _ := time.ParseDuration(viper.GetString("audit.sweep_interval"))
	integrityMon := monitor.New(verifier, monitor.Config{SweepInterval: sweepInterval}, logger)
	integrityMon.SetAlertDispatch(hookSvc.Dispatch)
	integrityMon.SetMetricsRecord(handler.RecordSweepCheck)
	if alertTo := viper.GetString("audit.alert_email"); alertTo != "" {
		var mailer email.Sender = email.NewLogSender(logger)
		if host := viper.GetString("smtp.host"); host != "" {
			mailer = email.NewSMTP(email.SMTPConfig{
				Host:     host,
				Port:     viper.GetInt("smtp.port"),
				Username: viper.GetString("smtp.username"),
				Password: viper.GetString("smtp.password"),
				From:     viper.GetString("smtp.from"),
			})
		}
		integrityMon.SetMailer(mailer, alertTo)
	}

	if viper.GetBool("audit.sweep_on_start") {
		startCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		integrityMon.SweepOnce(startCtx)
		cancel()
	}

	// ── Background loops ─────────────────────────────────────────────────────
	refreshInterval, _ := time.ParseDuration(viper.GetString("query.refresh_interval"))
	if refreshInterval <= 0 {
		refreshInterval = 30 * time.Second
	}
	bgQuit := make(chan os.Signal)
	go projector.Start(refreshInterval, bgQuit)
	go integrityMon.Start(bgQuit)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Actor-ID"},
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

	// Health and metrics (public, no auth)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	// API v1 — every route requires an actor identity
	v1 := router.Group("/api/v1")
	v1.Use(handler.RequireActor(actorVerifier, logger))

	evidenceH := handler.NewEvidenceHandler(custodyLedger, logger)
	transferH := handler.NewTransferHandler(transferSvc, logger)
	auditH := handler.NewAuditHandler(verifier, projector, logger)
	evidenceH.SetDispatcher(hookSvc)
	transferH.SetDispatcher(hookSvc)
	auditH.SetDispatcher(hookSvc)

	evidenceH.Register(v1)
	transferH.Register(v1)
	auditH.Register(v1)
	handler.NewWebhookHandler(hookSvc, logger).Register(v1)

	httpPort := viper.GetInt("server.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("custodia ledger listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down...")
	close(bgQuit)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
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
