package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/background"
	"github.com/bastionsec/bastion/internal/config"
	"github.com/bastionsec/bastion/internal/database"
	"github.com/bastionsec/bastion/internal/guard"
	"github.com/bastionsec/bastion/internal/handlers"
	"github.com/bastionsec/bastion/internal/instrumentation"
	custommw "github.com/bastionsec/bastion/internal/middleware"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/repositories"
	"github.com/bastionsec/bastion/internal/routes"
	"github.com/bastionsec/bastion/internal/services"
	"github.com/bastionsec/bastion/internal/store"
	"github.com/bastionsec/bastion/internal/validation"
	pkgauth "github.com/bastionsec/bastion/pkg/auth"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
	pkglogger "github.com/bastionsec/bastion/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := pkglogger.New(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Long-retention event store
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Shared security store. An unreachable store at boot is not fatal:
	// each defense applies its documented fail-open/closed policy.
	redisStore := store.NewRedisStore(cfg.Store)
	defer redisStore.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := redisStore.Ping(pingCtx); err != nil {
		logger.Warn("security store unreachable at startup, defenses start degraded", slog.Any("error", err))
	}
	pingCancel()

	// Metrics
	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName: "bastion",
		Enabled:     cfg.Server.MetricsEnabled,
	})
	if err != nil {
		logger.Error("failed to initialize instrumentation", slog.Any("error", err))
		os.Exit(1)
	}
	metrics := inst.Metrics()
	securityStore := instrumentation.WrapStore(redisStore, metrics)

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	// Security event logger with alert fan-out
	notifiers := []services.Notifier{services.NewSlogNotifier(logger)}
	if cfg.Alerting.EmailEnabled {
		sesNotifier, err := services.NewSESNotifier(cfg.Alerting.AWSRegion, cfg.Alerting.FromAddress, cfg.Alerting.ToAddresses, logger)
		if err != nil {
			logger.Error("failed to initialize SES alert notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifiers = append(notifiers, sesNotifier)
	}
	logService := services.NewSecurityLogService(eventRepo, securityStore, cfg.Events, logger, notifiers...)
	events := instrumentation.WrapRecorder(logService, metrics)

	// Defense services
	rateLimitService := services.NewRateLimitService(securityStore, cfg.RateLimit, logger, events)
	accountSecurity := services.NewAccountSecurityService(securityStore, cfg.AccountSecurity, logger, events)
	threatService := services.NewIPThreatService(securityStore, cfg.Threat, logger, events)
	validator := validation.NewValidator()
	csrfGuard := auth.NewCSRFGuard(securityStore, cfg.CSRF)

	requestGuard := guard.NewRequestGuard(validator, csrfGuard, rateLimitService, accountSecurity, threatService, events, logger)

	// Token and step-up managers
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry)

	totpKey := sha256.Sum256([]byte(cfg.Auth.TOTPEncryptionKey))
	totpManager, err := auth.NewTOTPManager(totpKey[:], cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   100,
		RandomDelayMs: 50,
	})

	// Business services
	authService := services.NewAuthService(userRepo, tokenManager, accountSecurity, threatService, events, timingDelay, logger)
	userService := services.NewUserService(userRepo, logger)
	adminService := services.NewAdminService(userRepo, totpManager, securityStore, logService, events, logger, cfg.Server.Env != "production")

	// HTTP plumbing
	extractor, err := pkghttp.NewIPExtractor(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid trusted proxy configuration", slog.Any("error", err))
		os.Exit(1)
	}

	settings := handlers.Settings{
		Cookies: auth.CookieConfig{
			Domain:   cfg.Server.CookieDomain,
			Secure:   cfg.Server.Env == "production",
			SameSite: "strict",
		},
		RefreshExpiry:  cfg.Auth.RefreshTokenExpiry,
		CSRFCookieName: cfg.CSRF.CookieName,
		CSRFHeaderName: cfg.CSRF.HeaderName,
		CSRFTokenTTL:   cfg.CSRF.TokenTTL,
	}

	authHandler := handlers.NewAuthHandler(authService, requestGuard, csrfGuard, extractor, settings)
	csrfHandler := handlers.NewCSRFHandler(csrfGuard, extractor, settings)
	userHandler := handlers.NewUserHandler(userService)
	adminHandler := handlers.NewAdminHandler(adminService, accountSecurity, threatService, rateLimitService, logService, cfg.Auth.AdminTOTPRequired)
	healthHandler := handlers.NewHealthHandler(db, redisStore)

	// Bootstrap first admin user if configured
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(bootCtx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	bootCancel()

	// Router
	corsConfig := custommw.NewCORSConfig(cfg.Server.AllowedOrigins)

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(custommw.SecurityHeaders(custommw.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(custommw.CORS(corsConfig))
	router.Use(custommw.SecureLogger(logger))
	router.Use(custommw.Telemetry(metrics))
	router.Use(chimw.Recoverer)
	router.Use(chimw.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Deps{
		Auth:         authHandler,
		CSRF:         csrfHandler,
		Users:        userHandler,
		Admin:        adminHandler,
		Health:       healthHandler,
		TokenManager: tokenManager,
		UserRepo:     userRepo,
		Guard:        requestGuard,
		Extractor:    extractor,
		Metrics:      metrics,
		Logger:       logger,
		EdgeRPM:      cfg.RateLimit.EdgeRPM,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Retention sweeper
	sweeper := background.NewSweeper(logService, logger, cfg.Events.PurgeInterval)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go sweeper.Start(sweepCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	sweepCancel()
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}
	if err := inst.Shutdown(shutdownCtx); err != nil {
		logger.Error("instrumentation shutdown error", slog.Any("error", err))
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and
// ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Name:         "Admin",
		Role:         models.RoleAdmin,
		Status:       "active",
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
