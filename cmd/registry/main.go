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
	"github.com/jmerrifield20/SubzoneRegistry/internal/dns"
	"github.com/jmerrifield20/SubzoneRegistry/internal/email"
	"github.com/jmerrifield20/SubzoneRegistry/internal/identity"
	"github.com/jmerrifield20/SubzoneRegistry/internal/ledger"
	"github.com/jmerrifield20/SubzoneRegistry/internal/ratelimit"
	"github.com/jmerrifield20/SubzoneRegistry/internal/reconcile"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/handler"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/repository"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/service"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("registry exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	if err := loadConfig(logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── DNS directory ─────────────────────────────────────────────────────────
	dir, err := newDirectory(logger)
	if err != nil {
		return err
	}
	logger.Info("dns directory ready",
		zap.String("provider", viper.GetString("dns.provider")),
		zap.String("zone", dir.Zone()),
	)

	// ── Store + audit ledger ──────────────────────────────────────────────────
	cfg := service.Config{
		ModerationMode: viper.GetBool("registry.moderation_mode"),
		Policy: service.Policy{
			OwnerCanMutate: viper.GetBool("registry.owner_can_mutate"),
			AdminForStatus: viper.GetBool("registry.admin_for_status"),
		},
		DNSTimeout:     viper.GetDuration("dns.timeout"),
		ReservedLabels: viper.GetStringSlice("dns.reserved_labels"),
	}
	reg, audit, closeStore, err := newRegistry(ctx, dir, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := audit.Verify(ctx); err != nil {
		logger.Warn("audit ledger integrity check FAILED", zap.Error(err))
	} else {
		n, _ := audit.Len(ctx)
		root, _ := audit.Root(ctx)
		logger.Info("audit ledger verified", zap.Int("entries", n), zap.String("root", root))
	}
	reg.SetLedger(audit)
	reg.SetDNSObserver(handler.RecordDNSWrite)

	// ── Email notifications ───────────────────────────────────────────────────
	var mailer email.Sender
	if host := viper.GetString("email.smtp_host"); host != "" {
		mailer = email.NewSMTPSender(email.SMTPConfig{
			Host:     host,
			Port:     viper.GetInt("email.smtp_port"),
			Username: viper.GetString("email.smtp_username"),
			Password: viper.GetString("email.smtp_password"),
			From:     viper.GetString("email.from_address"),
		})
		logger.Info("SMTP email sender configured", zap.String("host", host))
	} else {
		mailer = email.NewNoopSender(logger)
		logger.Info("email sender: noop (set email.smtp_host to enable SMTP)")
	}
	httpPort := viper.GetInt("registry.port")
	baseURL := viper.GetString("registry.base_url")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}
	reg.SetNotifier(email.NewNotifier(mailer, viper.GetString("email.admin_address"), baseURL, logger))
	logger.Info("registry mode", zap.Bool("moderation", reg.ModerationMode()))

	// ── Identity ──────────────────────────────────────────────────────────────
	verifier, err := identity.NewVerifier(
		viper.GetString("identity.jwt_secret"),
		viper.GetString("identity.issuer"),
		viper.GetStringSlice("identity.admin_emails"),
	)
	if err != nil {
		return fmt.Errorf("identity verifier: %w", err)
	}

	// ── Background jobs ───────────────────────────────────────────────────────
	rc := reconcile.New(reg, reconcile.Config{
		Interval:    viper.GetDuration("reconcile.interval"),
		Concurrency: viper.GetInt("reconcile.concurrency"),
		BatchSize:   viper.GetInt("reconcile.batch_size"),
	}, logger)
	rc.SetMetricsRecord(handler.RecordReconcile)
	if ns := viper.GetString("dns.nameserver"); ns != "" {
		rc.SetProber(dns.NewProber(ns, viper.GetDuration("dns.timeout")))
		logger.Info("dns drift probe enabled", zap.String("nameserver", ns))
	}
	go rc.Run(ctx)
	go handler.RefreshSubdomainsGauge(ctx, reg, viper.GetDuration("registry.metrics_refresh"))

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("registry.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

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

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "zone": reg.Zone()})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1", identity.Authenticate(verifier))
	if rps := viper.GetFloat64("registry.rate_limit_rps"); rps > 0 {
		limiter := ratelimit.New(rps, viper.GetInt("registry.rate_limit_burst"), viper.GetDuration("registry.rate_limit_idle"))
		go limiter.Run(ctx)
		v1.Use(handler.RateLimiter(limiter))
	}
	handler.NewSubdomainHandler(reg, logger).Register(v1)
	handler.NewLedgerHandler(audit, logger).Register(v1)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("registry HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("HTTP listen: %w", err)
	}
	logger.Info("shutting down registry...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("registry stopped")
	return nil
}

func newDirectory(logger *zap.Logger) (dns.Directory, error) {
	switch provider := viper.GetString("dns.provider"); provider {
	case "powerdns":
		d, err := dns.NewPowerDNS(dns.PowerDNSConfig{
			APIURL:  viper.GetString("dns.api_url"),
			APIKey:  viper.GetString("dns.api_key"),
			Zone:    viper.GetString("dns.parent_zone"),
			TTL:     viper.GetInt("dns.record_ttl"),
			Timeout: viper.GetDuration("dns.timeout"),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("powerdns: %w", err)
		}
		return d, nil
	case "cloudflare":
		d, err := dns.NewCloudflare(dns.CloudflareConfig{
			APIToken:  viper.GetString("cloudflare.api_token"),
			BaseURL:   viper.GetString("cloudflare.base_url"),
			RateLimit: viper.GetFloat64("cloudflare.rate_limit"),
			Zone:      viper.GetString("dns.parent_zone"),
			TTL:       viper.GetInt("dns.record_ttl"),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown dns.provider %q (want powerdns or cloudflare)", provider)
	}
}

// newRegistry opens the configured store and returns a Registry on it with
// the matching audit ledger. The returned func releases the store.
func newRegistry(ctx context.Context, dir dns.Directory, cfg service.Config, logger *zap.Logger) (*service.Registry, ledger.Ledger, func(), error) {
	switch driver := viper.GetString("database.driver"); driver {
	case "postgres":
		db, err := pgxpool.New(ctx, viper.GetString("database.url"))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		reg := service.NewRegistry(repository.NewSubdomainRepository(db), dir, cfg, logger)
		return reg, ledger.NewPostgres(db, logger), db.Close, nil

	case "sqlite":
		path := viper.GetString("database.sqlite_path")
		db, err := repository.OpenSQLite(path)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("opened sqlite store", zap.String("path", path))
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		reg := service.NewRegistry(repository.NewGormRepository(db), dir, cfg, logger)
		return reg, ledger.NewMemory(), closeFn, nil

	case "memory":
		logger.Warn("using in-memory store; records are lost on restart")
		reg := service.NewRegistry(repository.NewMemoryRepository(), dir, cfg, logger)
		return reg, ledger.NewMemory(), func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown database.driver %q (want postgres, sqlite or memory)", driver)
	}
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
